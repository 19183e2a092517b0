// Package protocol defines the wire contract of the live agent channel:
// event names, payload shapes, and the JSON envelope that frames them over
// the websocket. Field names here are the contract and must not change.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event names on the agent connection.
const (
	EventChat        = "Chat"
	EventRunStarted  = "RunStarted"
	EventChatChunk   = "ChatChunk"
	EventChatDone    = "ChatDone"
	EventInterrupt   = "Interrupt"
	EventInterrupted = "Interrupted"
	EventError       = "Error"

	EventUserTranscript = "UserTranscript"
	EventJoinSTT        = "JoinSTT"
	EventLeaveSTT       = "LeaveSTT"
	EventJoinTTS        = "JoinTTS"
	EventLeaveTTS       = "LeaveTTS"
	EventTTSAudio       = "TTSAudio"
)

// Event names on the capture and synthesis connections.
const (
	EventAudioData           = "audio_data"
	EventRegisterAudioClient = "register_audio_client"
	EventTTSAudioChunk       = "tts_audio_chunk"
	EventTTSStopImmediate    = "tts_stop_immediate"
)

// EventAck frames acknowledgement replies to emits that requested one.
const EventAck = "ack"

// Envelope frames every message on the channel. AckID is non-zero when the
// sender expects (or is delivering) an acknowledgement.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID int64           `json:"ackId,omitempty"`
}

// DecodeEnvelope parses a raw frame and validates the event name.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame envelope: %w", err)
	}
	if strings.TrimSpace(env.Event) == "" {
		return Envelope{}, fmt.Errorf("frame missing event name")
	}
	return env, nil
}

// Chat starts a run on the agent connection.
type Chat struct {
	Text     string `json:"text"`
	Agent    string `json:"agent"`
	ThreadID string `json:"thread_id"`
	Memory   string `json:"memory,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

// RunStarted acknowledges a run with its server-assigned identifier.
type RunStarted struct {
	RunID string `json:"runId"`
}

// ChatChunk carries one incremental piece of the streamed reply.
type ChatChunk struct {
	Chunk string `json:"chunk"`
}

// Interrupt requests cancellation of the active run.
type Interrupt struct {
	RunID string `json:"runId"`
}

// ErrorPayload reports a run failure from the remote service.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	RunID   string `json:"runId,omitempty"`
}

// UserTranscript reports a recognized span of speech, interim or final.
type UserTranscript struct {
	Text     string  `json:"text"`
	Final    bool    `json:"final"`
	UttID    string  `json:"uttId,omitempty"`
	ThreadID string  `json:"threadId,omitempty"`
	ClientID string  `json:"clientId,omitempty"`
	TS       float64 `json:"ts,omitempty"`
	Lang     string  `json:"lang,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// DecodeUserTranscript parses a transcript payload. It returns false for
// malformed events (unparseable, or missing/empty text) which are dropped
// by the session, not surfaced as errors.
func DecodeUserTranscript(data []byte) (UserTranscript, bool) {
	var tr UserTranscript
	if err := json.Unmarshal(data, &tr); err != nil {
		return UserTranscript{}, false
	}
	if tr.Text == "" {
		return UserTranscript{}, false
	}
	return tr, true
}

// JoinSTT subscribes the client to recognition input multiplexed by the
// agent server.
type JoinSTT struct {
	STTURL   string `json:"sttUrl"`
	ClientID string `json:"clientId"`
	Agent    string `json:"agent"`
	ThreadID string `json:"threadId,omitempty"`
}

// LeaveSTT tears down a recognition subscription.
type LeaveSTT struct {
	STTURL   string `json:"sttUrl"`
	ClientID string `json:"clientId"`
}

// JoinTTS subscribes the client to synthesized audio for its replies.
type JoinTTS struct {
	ClientID string  `json:"clientId"`
	Voice    string  `json:"voice,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
}

// LeaveTTS tears down a synthesis subscription.
type LeaveTTS struct {
	ClientID string `json:"clientId"`
}

// Ack is the acknowledgement payload for join/leave handshakes. A non-empty
// Error means the handshake failed.
type Ack struct {
	Error string `json:"error,omitempty"`
}

// TTSAudio delivers raw synthesized audio on the agent connection.
type TTSAudio struct {
	Data []byte `json:"data"`
}

// AudioData carries one capture frame of PCM16 audio to the recognition
// service.
type AudioData struct {
	ClientID  string `json:"clientId"`
	AudioData []byte `json:"audioData"`
}

// RegisterAudioClient binds a synthesis-connection socket as the audio sink
// for a client.
type RegisterAudioClient struct {
	MainClientID   string `json:"main_client_id"`
	ConnectionType string `json:"connection_type"`
	Mode           string `json:"mode"`
}

// TTSAudioChunk delivers one encoded audio buffer on the synthesis
// connection.
type TTSAudioChunk struct {
	AudioBuffer []byte `json:"audio_buffer"`
}
