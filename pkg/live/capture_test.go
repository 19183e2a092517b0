package live

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/g-agent/agentlive/pkg/core"
	"github.com/g-agent/agentlive/pkg/live/protocol"
)

type fakeSource struct {
	rate     int
	startErr error

	mu      sync.Mutex
	ch      chan []float32
	stopped int
}

func (f *fakeSource) Start(ctx context.Context) (<-chan []float32, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch = make(chan []float32, 16)
	return f.ch, nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	if f.ch != nil {
		close(f.ch)
		f.ch = nil
	}
	return nil
}

func (f *fakeSource) SampleRate() int { return f.rate }

func (f *fakeSource) push(chunk []float32) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	if ch != nil {
		ch <- chunk
	}
}

func captureTestSession(t *testing.T) (*Session, chan protocol.AudioData, func()) {
	t.Helper()

	frames := make(chan protocol.AudioData, 32)
	s, cleanup := connectTestSession(t, func(send func(event string, payload any), env protocol.Envelope) {
		if env.Event == protocol.EventAudioData {
			var ad protocol.AudioData
			if err := json.Unmarshal(env.Data, &ad); err == nil {
				frames <- ad
			}
		}
	})
	return s, frames, cleanup
}

func TestCaptureStreamsResampledFrames(t *testing.T) {
	t.Parallel()

	s, frames, cleanup := captureTestSession(t)
	defer cleanup()

	src := &fakeSource{rate: 48000}
	mic := NewCapture(s, src, CaptureConfig{
		STTURL: "https://stt.example.com/ok",
		Agent:  "ml",
	})
	if err := mic.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !mic.Active() {
		t.Fatalf("capture not active after Start")
	}

	// 100ms of 48kHz input downsamples to exactly one 100ms frame at 16kHz.
	src.push(make([]float32, 4800))

	select {
	case ad := <-frames:
		if ad.ClientID != s.Identity().ClientID {
			t.Fatalf("clientId = %q, want %q", ad.ClientID, s.Identity().ClientID)
		}
		if len(ad.AudioData) != 1600*2 {
			t.Fatalf("frame bytes = %d, want 3200", len(ad.AudioData))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no capture frame arrived")
	}

	mic.Stop()
	if mic.Active() {
		t.Fatalf("capture still active after Stop")
	}
}

func TestCaptureStartWhileActiveIsNoop(t *testing.T) {
	t.Parallel()

	s, _, cleanup := captureTestSession(t)
	defer cleanup()

	src := &fakeSource{rate: 48000}
	mic := NewCapture(s, src, CaptureConfig{STTURL: "https://stt.example.com/ok", Agent: "ml"})
	if err := mic.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mic.Stop()

	if err := mic.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
}

func TestCaptureStartRollsBackOnSourceFailure(t *testing.T) {
	t.Parallel()

	s, _, cleanup := captureTestSession(t)
	defer cleanup()

	src := &fakeSource{rate: 48000, startErr: core.NewInvalidArgumentError("no device")}
	mic := NewCapture(s, src, CaptureConfig{STTURL: "https://stt.example.com/ok", Agent: "ml"})

	if err := mic.Start(context.Background()); err == nil {
		t.Fatalf("expected source failure")
	}
	if mic.Active() {
		t.Fatalf("capture active after failed Start")
	}

	// A later Start succeeds once the source recovers.
	src.startErr = nil
	if err := mic.Start(context.Background()); err != nil {
		t.Fatalf("Start after recovery: %v", err)
	}
	mic.Stop()
}

func TestCaptureStartSubscriptionError(t *testing.T) {
	t.Parallel()

	s, _, cleanup := captureTestSession(t)
	defer cleanup()

	src := &fakeSource{rate: 48000}
	mic := NewCapture(s, src, CaptureConfig{STTURL: "https://stt.example.com/full", Agent: "ml"})

	err := mic.Start(context.Background())
	if !core.IsType(err, core.ErrSubscription) {
		t.Fatalf("err = %v, want subscription_error", err)
	}
	if mic.Active() {
		t.Fatalf("capture active after rejected join")
	}
}

func TestCaptureStopIsIdempotent(t *testing.T) {
	t.Parallel()

	s, _, cleanup := captureTestSession(t)
	defer cleanup()

	src := &fakeSource{rate: 48000}
	mic := NewCapture(s, src, CaptureConfig{STTURL: "https://stt.example.com/ok", Agent: "ml"})
	if err := mic.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mic.Stop()
	mic.Stop()

	src.mu.Lock()
	stops := src.stopped
	src.mu.Unlock()
	if stops != 1 {
		t.Fatalf("source stopped %d times, want 1", stops)
	}
}

func TestCaptureRequiresRoute(t *testing.T) {
	t.Parallel()

	s, _, cleanup := captureTestSession(t)
	defer cleanup()

	mic := NewCapture(s, &fakeSource{rate: 48000}, CaptureConfig{})
	if err := mic.Start(context.Background()); !core.IsType(err, core.ErrInvalidArgument) {
		t.Fatalf("err = %v, want invalid_argument", err)
	}
}
