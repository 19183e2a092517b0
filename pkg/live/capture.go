package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/g-agent/agentlive/pkg/audio"
	"github.com/g-agent/agentlive/pkg/core"
)

// Source produces microphone audio as float32 mono chunks in [-1, 1] at a
// fixed sample rate. Start returns the chunk channel; the source closes it
// when capture ends or fails.
type Source interface {
	Start(ctx context.Context) (<-chan []float32, error)
	Stop() error
	SampleRate() int
}

// CaptureConfig tunes the capture pipeline. Zero values take the defaults.
type CaptureConfig struct {
	// STTURL and Agent select the recognition route. Both are required.
	STTURL string
	Agent  string

	// TargetRate is the wire sample rate, 16000 by default.
	TargetRate int

	// FrameDuration is the emitted frame length, 100ms by default.
	FrameDuration time.Duration

	Logger *slog.Logger
}

const (
	defaultCaptureRate  = 16000
	defaultCaptureFrame = 100 * time.Millisecond
)

type captureState int

const (
	captureIdle captureState = iota
	captureStarting
	captureActive
)

// Capture streams microphone audio to the recognition service: it joins the
// recognition route, pulls chunks from the source, downsamples them to the
// wire rate, and emits fixed-duration PCM16 frames. One Capture drives one
// source; Start and Stop are safe to call from any goroutine.
type Capture struct {
	session *Session
	source  Source
	cfg     CaptureConfig
	logger  *slog.Logger

	mu     sync.Mutex
	state  captureState
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCapture builds a capture pipeline over the session and source.
func NewCapture(session *Session, source Source, cfg CaptureConfig) *Capture {
	if cfg.TargetRate <= 0 {
		cfg.TargetRate = defaultCaptureRate
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = defaultCaptureFrame
	}
	if cfg.Logger == nil {
		cfg.Logger = session.logger
	}
	return &Capture{
		session: session,
		source:  source,
		cfg:     cfg,
		logger:  cfg.Logger,
	}
}

// Active reports whether capture is currently running.
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == captureActive
}

// Start joins the recognition route and begins streaming. Calling Start
// while a start is in flight or capture is active is a no-op. On failure
// every step already taken is rolled back, so a failed Start leaves the
// pipeline exactly as it found it.
func (c *Capture) Start(ctx context.Context) error {
	if c.cfg.STTURL == "" || c.cfg.Agent == "" {
		return core.NewInvalidArgumentError("capture requires sttUrl and agent")
	}

	c.mu.Lock()
	if c.state != captureIdle {
		c.mu.Unlock()
		return nil
	}
	c.state = captureStarting
	c.mu.Unlock()

	if err := c.session.SubscribeCapture(ctx, c.cfg.STTURL, c.cfg.Agent); err != nil {
		c.setIdle()
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	chunks, err := c.source.Start(pumpCtx)
	if err != nil {
		cancel()
		c.rollbackSubscription()
		c.setIdle()
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.state = captureActive
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.pump(chunks, done)
	return nil
}

// Stop tears capture down: the pump drains, the source stops, and the
// recognition route is left. Stop never fails and calling it when capture
// is not running is a no-op.
func (c *Capture) Stop() {
	c.mu.Lock()
	if c.state != captureActive {
		c.mu.Unlock()
		return
	}
	c.state = captureIdle
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	cancel()
	if err := c.source.Stop(); err != nil {
		c.logger.Debug("capture: source stop", "error", err)
	}
	<-done
	c.rollbackSubscription()
}

func (c *Capture) setIdle() {
	c.mu.Lock()
	c.state = captureIdle
	c.mu.Unlock()
}

func (c *Capture) rollbackSubscription() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.session.UnsubscribeCapture(ctx, c.cfg.STTURL); err != nil {
		c.logger.Debug("capture: leave recognition route", "error", err)
	}
}

// pump downsamples source chunks and emits one frame per boundary crossed.
func (c *Capture) pump(chunks <-chan []float32, done chan struct{}) {
	defer close(done)

	rs := audio.NewResampler(c.source.SampleRate(), c.cfg.TargetRate)
	pk := audio.NewPacketizer(c.cfg.TargetRate, c.cfg.FrameDuration)

	for chunk := range chunks {
		pcm := rs.Push(chunk)
		if pcm == nil {
			continue
		}
		for frame := pk.Push(pcm); frame != nil; frame = pk.Push(nil) {
			if err := c.session.EmitCaptureFrame(audio.PCM16Bytes(frame)); err != nil {
				c.logger.Debug("capture: frame emit failed", "error", err)
			}
		}
	}
}
