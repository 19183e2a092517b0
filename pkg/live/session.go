// Package live implements the client side of the streaming agent protocol:
// text runs with incremental chunks, speech transcripts, synthesized audio
// playback, and microphone capture, all over one reconnecting transport.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/g-agent/agentlive/pkg/core"
	"github.com/g-agent/agentlive/pkg/live/protocol"
	"github.com/g-agent/agentlive/pkg/live/transport"
)

// Config describes one session.
type Config struct {
	// ServerURL is the agent endpoint, http(s) or ws(s).
	ServerURL string

	// Identity is minted fresh when left zero.
	Identity Identity

	Transport transport.Options
	Logger    *slog.Logger
}

// RunResult is the settled outcome of a successful run.
type RunResult struct {
	RunID string
	Text  string
}

// RunOptions selects the agent and conversation for one run.
type RunOptions struct {
	// Agent is required.
	Agent string

	// ThreadID overrides the session identity's thread for this run.
	ThreadID string

	// Memory selects the server-side memory mode, empty for the default.
	Memory string
}

// RunCallbacks stream run progress to the caller. Any nil field falls back
// to the session's global stream handlers. For each chunk OnChunk fires
// first with the raw piece, then OnText with the accumulated reply so far.
type RunCallbacks struct {
	OnStarted func(runID string)
	OnChunk   func(chunk string)
	OnText    func(text string)
}

// StreamHandlers are the session-wide fallbacks for run progress, plus
// terminal notifications for runs and out-of-band remote errors.
type StreamHandlers struct {
	OnStarted func(runID string)
	OnChunk   func(chunk string)
	OnText    func(text string)
	OnDone    func(res RunResult)
	OnError   func(err error)
}

// TranscriptHandlers receive recognized speech. Malformed transcript events
// are dropped without notice.
type TranscriptHandlers struct {
	OnInterim func(tr protocol.UserTranscript)
	OnFinal   func(tr protocol.UserTranscript)
}

type runOutcome struct {
	result RunResult
	err    error
}

type pendingRun struct {
	runID string
	buf   strings.Builder
	cb    RunCallbacks
	done  chan runOutcome
}

// Session is one client connection to the agent service. All methods are
// safe for concurrent use. At most one run is active at a time.
type Session struct {
	conn   *transport.Conn
	id     Identity
	logger *slog.Logger

	mu          sync.Mutex
	run         *pendingRun
	stream      StreamHandlers
	transcripts TranscriptHandlers
	ttsAudio    func(data []byte)
	reconnect   func(attempt int)
}

// Connect dials the server and wires the session's event handlers. The
// returned session is ready for RunText immediately.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	if strings.TrimSpace(cfg.ServerURL) == "" {
		return nil, core.NewInvalidArgumentError("server URL is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if !cfg.Identity.valid() {
		cfg.Identity = NewIdentity()
	}
	if cfg.Transport.Logger == nil {
		cfg.Transport.Logger = cfg.Logger
	}

	conn, err := transport.Dial(ctx, cfg.ServerURL, cfg.Transport)
	if err != nil {
		return nil, err
	}

	s := &Session{
		conn:   conn,
		id:     cfg.Identity,
		logger: cfg.Logger,
	}
	s.wire()
	return s, nil
}

func (s *Session) wire() {
	s.conn.On(protocol.EventRunStarted, s.handleRunStarted)
	s.conn.On(protocol.EventChatChunk, s.handleChatChunk)
	s.conn.On(protocol.EventChatDone, s.handleChatDone)
	s.conn.On(protocol.EventInterrupted, s.handleInterrupted)
	s.conn.On(protocol.EventError, s.handleError)
	s.conn.On(protocol.EventUserTranscript, s.handleTranscript)
	s.conn.On(protocol.EventTTSAudio, s.handleTTSAudio)

	s.conn.OnDisconnect(func(err error) {
		s.logger.Warn("session: transport dropped", "error", err)
		s.settleRunWithError(func(runID string) error { return core.NewDisconnectedError(runID) })
	})
	s.conn.OnReconnect(func(attempt int) {
		reconnects.Inc()
		s.logger.Info("session: reconnected", "attempt", attempt)
		s.mu.Lock()
		fn := s.reconnect
		s.mu.Unlock()
		if fn != nil {
			fn(attempt)
		}
	})
}

// Identity returns the session's wire identity.
func (s *Session) Identity() Identity { return s.id }

// Connected reports whether the transport currently holds a live connection.
func (s *Session) Connected() bool { return s.conn.Connected() }

// ActiveRunID returns the identifier of the active run, or empty when no run
// is active or the run has not been acknowledged yet.
func (s *Session) ActiveRunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	return s.run.runID
}

// OnStream installs the session-wide stream handlers.
func (s *Session) OnStream(h StreamHandlers) {
	s.mu.Lock()
	s.stream = h
	s.mu.Unlock()
}

// OnTranscripts installs the transcript handlers.
func (s *Session) OnTranscripts(h TranscriptHandlers) {
	s.mu.Lock()
	s.transcripts = h
	s.mu.Unlock()
}

// OnTTSAudio installs the handler for synthesized audio delivered on the
// agent connection.
func (s *Session) OnTTSAudio(fn func(data []byte)) {
	s.mu.Lock()
	s.ttsAudio = fn
	s.mu.Unlock()
}

// OnReconnect installs a callback fired once per successful reconnection.
func (s *Session) OnReconnect(fn func(attempt int)) {
	s.mu.Lock()
	s.reconnect = fn
	s.mu.Unlock()
}

// RunText starts a run and blocks until it settles. Chunks stream through cb
// (or the global handlers) as they arrive; the returned result carries the
// accumulated text. Cancelling ctx interrupts the run.
func (s *Session) RunText(ctx context.Context, text string, opts RunOptions, cb RunCallbacks) (RunResult, error) {
	if !s.conn.Connected() {
		return RunResult{}, core.NewNotConnectedError("session is not connected")
	}
	if strings.TrimSpace(text) == "" {
		return RunResult{}, core.NewInvalidArgumentError("text is required")
	}
	if strings.TrimSpace(opts.Agent) == "" {
		return RunResult{}, core.NewInvalidArgumentError("agent is required")
	}

	threadID := opts.ThreadID
	if threadID == "" {
		threadID = s.id.ThreadID
	}

	run := &pendingRun{cb: cb, done: make(chan runOutcome, 1)}

	s.mu.Lock()
	if s.run != nil {
		active := s.run.runID
		s.mu.Unlock()
		return RunResult{}, core.NewRunActiveError(active)
	}
	s.run = run
	s.mu.Unlock()

	err := s.conn.Emit(protocol.EventChat, protocol.Chat{
		Text:     text,
		Agent:    opts.Agent,
		ThreadID: threadID,
		Memory:   opts.Memory,
		ClientID: s.id.ClientID,
	})
	if err != nil {
		s.clearRun(run)
		return RunResult{}, err
	}
	runsStarted.Inc()

	select {
	case out := <-run.done:
		return out.result, out.err
	case <-ctx.Done():
		s.interruptRun(run)
		s.clearRun(run)
		return RunResult{}, ctx.Err()
	}
}

// Cancel requests interruption of the active run. It is a no-op when no run
// is active or the run has not been acknowledged yet.
func (s *Session) Cancel() error {
	s.mu.Lock()
	var runID string
	if s.run != nil {
		runID = s.run.runID
	}
	s.mu.Unlock()
	if runID == "" || !s.conn.Connected() {
		return nil
	}
	return s.conn.Emit(protocol.EventInterrupt, protocol.Interrupt{RunID: runID})
}

func (s *Session) interruptRun(run *pendingRun) {
	s.mu.Lock()
	runID := run.runID
	s.mu.Unlock()
	if runID == "" || !s.conn.Connected() {
		return
	}
	if err := s.conn.Emit(protocol.EventInterrupt, protocol.Interrupt{RunID: runID}); err != nil {
		s.logger.Debug("session: interrupt emit failed", "error", err)
	}
}

// SubscribeCapture joins the recognition route for this client. The server
// acknowledges the join; a handshake error surfaces as a subscription error.
func (s *Session) SubscribeCapture(ctx context.Context, sttURL, agent string) error {
	if !s.conn.Connected() {
		return core.NewNotConnectedError("session is not connected")
	}
	if strings.TrimSpace(sttURL) == "" || strings.TrimSpace(agent) == "" {
		return core.NewInvalidArgumentError("sttUrl and agent are required")
	}
	data, err := s.conn.EmitWithAck(ctx, protocol.EventJoinSTT, protocol.JoinSTT{
		STTURL:   sttURL,
		ClientID: s.id.ClientID,
		Agent:    agent,
		ThreadID: s.id.ThreadID,
	})
	if err != nil {
		return err
	}
	return ackError(data)
}

// UnsubscribeCapture leaves the recognition route.
func (s *Session) UnsubscribeCapture(ctx context.Context, sttURL string) error {
	if !s.conn.Connected() {
		return core.NewNotConnectedError("session is not connected")
	}
	data, err := s.conn.EmitWithAck(ctx, protocol.EventLeaveSTT, protocol.LeaveSTT{
		STTURL:   sttURL,
		ClientID: s.id.ClientID,
	})
	if err != nil {
		return err
	}
	return ackError(data)
}

// SubscribePlayback joins the synthesis route so replies arrive as audio.
func (s *Session) SubscribePlayback(ctx context.Context, voice string, speed float64) error {
	if !s.conn.Connected() {
		return core.NewNotConnectedError("session is not connected")
	}
	_, err := s.conn.EmitWithAck(ctx, protocol.EventJoinTTS, protocol.JoinTTS{
		ClientID: s.id.ClientID,
		Voice:    voice,
		Speed:    speed,
	})
	return err
}

// UnsubscribePlayback leaves the synthesis route.
func (s *Session) UnsubscribePlayback(ctx context.Context) error {
	if !s.conn.Connected() {
		return core.NewNotConnectedError("session is not connected")
	}
	_, err := s.conn.EmitWithAck(ctx, protocol.EventLeaveTTS, protocol.LeaveTTS{
		ClientID: s.id.ClientID,
	})
	return err
}

// EmitCaptureFrame sends one PCM16 capture frame to the recognition service.
func (s *Session) EmitCaptureFrame(frame []byte) error {
	err := s.conn.Emit(protocol.EventAudioData, protocol.AudioData{
		ClientID:  s.id.ClientID,
		AudioData: frame,
	})
	if err == nil {
		captureFramesSent.Inc()
	}
	return err
}

// Disconnect settles any active run and tears down the transport. Safe to
// call more than once.
func (s *Session) Disconnect() error {
	s.settleRunWithError(func(runID string) error { return core.NewDisconnectedError(runID) })
	return s.conn.Close()
}

func ackError(data json.RawMessage) error {
	if len(data) == 0 {
		return nil
	}
	var ack protocol.Ack
	if err := json.Unmarshal(data, &ack); err != nil {
		return core.NewSubscriptionError("malformed handshake acknowledgement")
	}
	if ack.Error != "" {
		return core.NewSubscriptionError(ack.Error)
	}
	return nil
}

func (s *Session) handleRunStarted(data json.RawMessage) {
	var ev protocol.RunStarted
	if err := json.Unmarshal(data, &ev); err != nil || ev.RunID == "" {
		s.logger.Debug("session: dropping malformed RunStarted", "error", err)
		return
	}
	s.mu.Lock()
	run := s.run
	if run != nil {
		run.runID = ev.RunID
	}
	onStarted := s.stream.OnStarted
	if run != nil && run.cb.OnStarted != nil {
		onStarted = run.cb.OnStarted
	}
	s.mu.Unlock()
	if run == nil {
		return
	}
	if onStarted != nil {
		onStarted(ev.RunID)
	}
}

func (s *Session) handleChatChunk(data json.RawMessage) {
	var ev protocol.ChatChunk
	if err := json.Unmarshal(data, &ev); err != nil {
		s.logger.Debug("session: dropping malformed ChatChunk", "error", err)
		return
	}
	s.mu.Lock()
	run := s.run
	var onChunk, onText func(string)
	var accumulated string
	if run != nil {
		run.buf.WriteString(ev.Chunk)
		accumulated = run.buf.String()
		onChunk = s.stream.OnChunk
		if run.cb.OnChunk != nil {
			onChunk = run.cb.OnChunk
		}
		onText = s.stream.OnText
		if run.cb.OnText != nil {
			onText = run.cb.OnText
		}
	}
	s.mu.Unlock()
	if run == nil {
		return
	}
	if onChunk != nil {
		onChunk(ev.Chunk)
	}
	if onText != nil {
		onText(accumulated)
	}
}

func (s *Session) handleChatDone(data json.RawMessage) {
	s.mu.Lock()
	run := s.run
	s.run = nil
	onDone := s.stream.OnDone
	s.mu.Unlock()
	if run == nil {
		return
	}
	res := RunResult{RunID: run.runID, Text: run.buf.String()}
	runsSettled.WithLabelValues(outcomeDone).Inc()
	run.done <- runOutcome{result: res}
	if onDone != nil {
		onDone(res)
	}
}

func (s *Session) handleInterrupted(data json.RawMessage) {
	var ev protocol.Interrupt
	_ = json.Unmarshal(data, &ev)
	s.mu.Lock()
	run := s.run
	s.run = nil
	onError := s.stream.OnError
	s.mu.Unlock()
	if run == nil {
		return
	}
	runID := ev.RunID
	if runID == "" {
		runID = run.runID
	}
	err := core.NewInterruptedError(runID)
	runsSettled.WithLabelValues(outcomeInterrupted).Inc()
	run.done <- runOutcome{err: err}
	if onError != nil {
		onError(err)
	}
}

func (s *Session) handleError(data json.RawMessage) {
	var ev protocol.ErrorPayload
	if err := json.Unmarshal(data, &ev); err != nil {
		s.logger.Debug("session: dropping malformed Error", "error", err)
		return
	}
	s.mu.Lock()
	run := s.run
	s.run = nil
	onError := s.stream.OnError
	s.mu.Unlock()

	runID := ev.RunID
	if runID == "" && run != nil {
		runID = run.runID
	}
	err := core.NewRemoteError(ev.Code, ev.Message, runID)
	if run != nil {
		runsSettled.WithLabelValues(outcomeError).Inc()
		run.done <- runOutcome{err: err}
	}
	if onError != nil {
		onError(err)
	}
}

func (s *Session) handleTranscript(data json.RawMessage) {
	tr, ok := protocol.DecodeUserTranscript(data)
	if !ok {
		return
	}
	s.mu.Lock()
	h := s.transcripts
	s.mu.Unlock()
	if tr.Final {
		if h.OnFinal != nil {
			h.OnFinal(tr)
		}
		return
	}
	if h.OnInterim != nil {
		h.OnInterim(tr)
	}
}

func (s *Session) handleTTSAudio(data json.RawMessage) {
	var ev protocol.TTSAudio
	if err := json.Unmarshal(data, &ev); err != nil || len(ev.Data) == 0 {
		return
	}
	s.mu.Lock()
	fn := s.ttsAudio
	s.mu.Unlock()
	if fn != nil {
		fn(ev.Data)
	}
}

// settleRunWithError settles the active run, if any, with the error built
// from its run id. Used for disconnects.
func (s *Session) settleRunWithError(mk func(runID string) error) {
	s.mu.Lock()
	run := s.run
	s.run = nil
	onError := s.stream.OnError
	s.mu.Unlock()
	if run == nil {
		return
	}
	err := mk(run.runID)
	runsSettled.WithLabelValues(outcomeError).Inc()
	run.done <- runOutcome{err: err}
	if onError != nil {
		onError(err)
	}
}

// clearRun drops the pending slot if it still belongs to run. Settlement
// racing ahead of the clear wins.
func (s *Session) clearRun(run *pendingRun) {
	s.mu.Lock()
	if s.run == run {
		s.run = nil
	}
	s.mu.Unlock()
}
