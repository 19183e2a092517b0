package audio

import (
	"strings"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 100, -100, 32767, -32768, 7}
	data, err := EncodeWAV(samples, 24000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	got, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 24000 {
		t.Fatalf("rate = %d, want 24000", rate)
	}
	if len(got) != len(samples) {
		t.Fatalf("len = %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, _, err := DecodeWAV([]byte("too short")); err == nil {
		t.Fatalf("expected error for short input")
	}
	junk := make([]byte, 64)
	copy(junk, "JUNKxxxxJUNK")
	if _, _, err := DecodeWAV(junk); err == nil || !strings.Contains(err.Error(), "RIFF") {
		t.Fatalf("expected RIFF error, got %v", err)
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	t.Parallel()

	in := []int16{1, -1, 12345, -12345}
	out := PCM16Samples(PCM16Bytes(in))
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d = %d, want %d", i, out[i], in[i])
		}
	}
	if got := DurationMS(960, 24000); got != 20 {
		t.Fatalf("DurationMS(960, 24000) = %d, want 20", got)
	}
}
