package audio

import (
	"encoding/binary"
	"math"
)

const pcm16Scale = 32768.0

// mixPCM16 averages interleaved little-endian int16 frames into mono and
// scales them into [-1, 1)
func mixPCM16(payload []byte, channels int) []float32 {
	frames := len(payload) / (2 * channels)
	out := make([]float32, frames)

	if channels == 1 {
		for i := range out {
			out[i] = float32(int16(binary.LittleEndian.Uint16(payload[i*2:]))) / pcm16Scale
		}
		return out
	}

	for i := range out {
		var sum float32
		base := i * channels * 2
		for ch := 0; ch < channels; ch++ {
			sum += float32(int16(binary.LittleEndian.Uint16(payload[base+ch*2:])))
		}
		out[i] = (sum / float32(channels)) / pcm16Scale
	}
	return out
}

// mixFloat32 averages interleaved little-endian float32 frames into mono
func mixFloat32(payload []byte, channels int) []float32 {
	frames := len(payload) / (4 * channels)
	out := make([]float32, frames)

	for i := range out {
		var sum float32
		base := i * channels * 4
		for ch := 0; ch < channels; ch++ {
			sum += math.Float32frombits(binary.LittleEndian.Uint32(payload[base+ch*4:]))
		}
		if channels == 1 {
			out[i] = sum
		} else {
			out[i] = sum / float32(channels)
		}
	}
	return out
}
