package live

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/g-agent/agentlive/pkg/audio"
	"github.com/g-agent/agentlive/pkg/core"
	"github.com/g-agent/agentlive/pkg/live/protocol"
)

// Decoder turns one encoded synthesis chunk into PCM16 samples.
type Decoder interface {
	Decode(chunk []byte) (samples []int16, sampleRate int, err error)
}

// Sink plays decoded audio. Play blocks until the samples have been handed
// off for playback, which is what serializes the stream.
type Sink interface {
	Play(samples []int16, sampleRate int) error
	// Reset drops anything the sink has buffered but not yet played.
	Reset() error
	Close() error
}

// AutoDecoder decodes WAV chunks and passes raw PCM16 through at a fixed
// assumed rate.
type AutoDecoder struct {
	// PCMRate is the sample rate assumed for headerless chunks.
	PCMRate int
}

func (d AutoDecoder) Decode(chunk []byte) ([]int16, int, error) {
	if bytes.HasPrefix(chunk, []byte("RIFF")) {
		return audio.DecodeWAV(chunk)
	}
	rate := d.PCMRate
	if rate <= 0 {
		rate = 24000
	}
	if len(chunk)%2 != 0 {
		return nil, 0, core.NewInvalidArgumentError("odd-length PCM16 chunk")
	}
	return audio.PCM16Samples(chunk), rate, nil
}

type playbackEntry struct {
	epoch   uint64
	decoded chan struct{}
	samples []int16
	rate    int
	err     error
}

// PlaybackScheduler plays synthesis chunks strictly in arrival order. A
// slot is reserved for each chunk the moment it arrives; decoding runs
// concurrently, but chunk n+1 never starts playing before chunk n has both
// decoded and finished playing. Chunks that fail to decode are skipped.
type PlaybackScheduler struct {
	dec    Decoder
	sink   Sink
	logger *slog.Logger

	mu    sync.Mutex
	epoch uint64
	queue chan *playbackEntry

	closeOnce sync.Once
	closed    bool
	done      chan struct{}
	stopped   chan struct{}
}

const playbackQueueDepth = 256

// NewPlaybackScheduler starts the playback loop. The caller owns the sink's
// lifetime through Close.
func NewPlaybackScheduler(dec Decoder, sink Sink, logger *slog.Logger) *PlaybackScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	p := &PlaybackScheduler{
		dec:     dec,
		sink:    sink,
		logger:  logger,
		queue:   make(chan *playbackEntry, playbackQueueDepth),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.playLoop()
	return p
}

// Enqueue reserves the next playback slot for chunk and decodes it in the
// background. Never blocks; when the queue is full the chunk is dropped.
func (p *PlaybackScheduler) Enqueue(chunk []byte) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	e := &playbackEntry{epoch: p.epoch, decoded: make(chan struct{})}
	select {
	case p.queue <- e:
	default:
		p.mu.Unlock()
		playbackChunks.WithLabelValues(resultDropped).Inc()
		p.logger.Warn("playback: queue full, dropping chunk", "bytes", len(chunk))
		return
	}
	p.mu.Unlock()

	go func() {
		e.samples, e.rate, e.err = p.dec.Decode(chunk)
		close(e.decoded)
	}()
}

// StopImmediate discards every chunk not yet played and resets the sink.
// Chunks arriving afterwards play normally.
func (p *PlaybackScheduler) StopImmediate() {
	p.mu.Lock()
	p.epoch++
	p.mu.Unlock()
	if err := p.sink.Reset(); err != nil {
		p.logger.Warn("playback: sink reset failed", "error", err)
	}
}

func (p *PlaybackScheduler) currentEpoch() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

func (p *PlaybackScheduler) playLoop() {
	defer close(p.stopped)
	for {
		select {
		case <-p.done:
			return
		case e := <-p.queue:
			select {
			case <-e.decoded:
			case <-p.done:
				return
			}
			if e.epoch != p.currentEpoch() {
				playbackChunks.WithLabelValues(resultDropped).Inc()
				continue
			}
			if e.err != nil {
				playbackChunks.WithLabelValues(resultDropped).Inc()
				p.logger.Warn("playback: undecodable chunk skipped", "error", e.err)
				continue
			}
			if err := p.sink.Play(e.samples, e.rate); err != nil {
				p.logger.Warn("playback: sink error", "error", err)
				continue
			}
			playbackChunks.WithLabelValues(resultPlayed).Inc()
		}
	}
}

// Close stops the loop and closes the sink. Safe to call more than once.
func (p *PlaybackScheduler) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.done)
		<-p.stopped
		err = p.sink.Close()
	})
	return err
}

// AttachPlayback registers the session as an audio client and routes
// synthesis chunks into the scheduler. Mode is the synthesis delivery mode,
// empty for the server default.
func (s *Session) AttachPlayback(p *PlaybackScheduler, mode string) error {
	if !s.conn.Connected() {
		return core.NewNotConnectedError("session is not connected")
	}
	err := s.conn.Emit(protocol.EventRegisterAudioClient, protocol.RegisterAudioClient{
		MainClientID:   s.id.ClientID,
		ConnectionType: "audio",
		Mode:           mode,
	})
	if err != nil {
		return err
	}
	s.conn.On(protocol.EventTTSAudioChunk, func(data json.RawMessage) {
		var ev protocol.TTSAudioChunk
		if err := json.Unmarshal(data, &ev); err != nil || len(ev.AudioBuffer) == 0 {
			return
		}
		p.Enqueue(ev.AudioBuffer)
	})
	s.conn.On(protocol.EventTTSStopImmediate, func(json.RawMessage) {
		p.StopImmediate()
	})
	return nil
}

// DetachPlayback removes the synthesis chunk routing.
func (s *Session) DetachPlayback() {
	s.conn.On(protocol.EventTTSAudioChunk, nil)
	s.conn.On(protocol.EventTTSStopImmediate, nil)
}
