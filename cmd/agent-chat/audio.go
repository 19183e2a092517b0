package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"runtime"
	"sync"

	"github.com/g-agent/agentlive/pkg/audio"
)

const micSampleRateHz = 48000

// ffmpegMicSource captures the default microphone through ffmpeg as mono
// float32 samples at 48kHz.
type ffmpegMicSource struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func newFFmpegMicSource() (*ffmpegMicSource, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for mic capture (install ffmpeg and ensure it is in PATH)")
	}
	return &ffmpegMicSource{}, nil
}

func micFFmpegArgs(goos string) ([]string, error) {
	switch goos {
	case "darwin":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0",
			"-ac", "1", "-ar", fmt.Sprintf("%d", micSampleRateHz),
			"-f", "f32le", "-",
		}, nil
	case "linux":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
			"-ac", "1", "-ar", fmt.Sprintf("%d", micSampleRateHz),
			"-f", "f32le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("mic capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
}

func (m *ffmpegMicSource) SampleRate() int { return micSampleRateHz }

func (m *ffmpegMicSource) Start(ctx context.Context) (<-chan []float32, error) {
	args, err := micFFmpegArgs(runtime.GOOS)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd != nil {
		return nil, errors.New("mic capture already running")
	}

	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg mic capture: %w", err)
	}
	m.cmd = cmd
	m.stdout = stdout

	ch := make(chan []float32, 16)
	go func() {
		defer close(ch)
		// 4800 samples is 100ms at 48kHz.
		buf := make([]byte, 4800*4)
		for {
			n, err := io.ReadFull(stdout, buf)
			if n >= 4 {
				chunk := bytesToFloat32(buf[:n-n%4])
				select {
				case ch <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return ch, nil
}

func (m *ffmpegMicSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
		_ = m.cmd.Wait()
	}
	m.cmd = nil
	m.stdout = nil
	return nil
}

func bytesToFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// ffplaySink plays PCM16 through a long-lived ffplay process. The process is
// restarted when the sample rate changes or after a reset.
type ffplaySink struct {
	mu    sync.Mutex
	rate  int
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func newFFplaySink() (*ffplaySink, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}
	return &ffplaySink{}, nil
}

func (p *ffplaySink) startLocked(rate int) error {
	p.cmd = exec.Command("ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", rate),
		"-ac", "1",
		"-i", "pipe:0",
	)
	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffplay stdin: %w", err)
	}
	p.cmd.Stdout = io.Discard
	p.cmd.Stderr = io.Discard
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start ffplay: %w", err)
	}
	p.stdin = stdin
	p.rate = rate
	return nil
}

func (p *ffplaySink) stopLocked() {
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	}
	p.cmd = nil
	p.stdin = nil
	p.rate = 0
}

func (p *ffplaySink) Play(samples []int16, sampleRate int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil || p.rate != sampleRate {
		p.stopLocked()
		if err := p.startLocked(sampleRate); err != nil {
			return err
		}
	}
	_, err := p.stdin.Write(audio.PCM16Bytes(samples))
	return err
}

func (p *ffplaySink) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

func (p *ffplaySink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}
