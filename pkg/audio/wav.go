package audio

import (
	"encoding/binary"
	"fmt"
)

const wavHeaderSize = 44

// EncodeWAV wraps PCM16 mono samples in a minimal RIFF/WAVE container.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2)
	buf := make([]byte, wavHeaderSize, wavHeaderSize+len(samples)*2)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 36+dataSize)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1)  // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate)*2)
	binary.LittleEndian.PutUint16(buf[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataSize)

	for _, s := range samples {
		buf = append(buf, byte(s), byte(s>>8))
	}
	return buf, nil
}

// DecodeWAV extracts PCM16 mono samples and the sample rate from a RIFF/WAVE
// container. Only uncompressed 16-bit mono is supported.
func DecodeWAV(data []byte) ([]int16, int, error) {
	if len(data) < wavHeaderSize {
		return nil, 0, fmt.Errorf("wav data too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a RIFF/WAVE container")
	}
	if string(data[12:16]) != "fmt " {
		return nil, 0, fmt.Errorf("missing fmt chunk")
	}
	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format %d (PCM only)", format)
	}
	if ch := binary.LittleEndian.Uint16(data[22:24]); ch != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count %d (mono only)", ch)
	}
	if bits := binary.LittleEndian.Uint16(data[34:36]); bits != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d (16-bit only)", bits)
	}
	if string(data[36:40]) != "data" {
		return nil, 0, fmt.Errorf("missing data chunk")
	}
	sampleRate := int(binary.LittleEndian.Uint32(data[24:28]))

	dataSize := int(binary.LittleEndian.Uint32(data[40:44]))
	if dataSize > len(data)-wavHeaderSize {
		dataSize = len(data) - wavHeaderSize
	}
	if dataSize <= 0 {
		return nil, 0, fmt.Errorf("no audio data")
	}
	return PCM16Samples(data[wavHeaderSize : wavHeaderSize+dataSize]), sampleRate, nil
}
