package audio

// PCM16Bytes encodes samples as 16-bit signed little-endian PCM.
func PCM16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// PCM16Samples decodes 16-bit signed little-endian PCM. A trailing odd byte
// is ignored.
func PCM16Samples(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return out
}

// DurationMS returns the duration in milliseconds of PCM16 mono audio at the
// given sample rate.
func DurationMS(byteLen, sampleRate int) int64 {
	if sampleRate <= 0 {
		return 0
	}
	return int64(byteLen) * 1000 / int64(sampleRate*2)
}
