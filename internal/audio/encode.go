package audio

import (
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WritePCM16 encodes interleaved 16-bit samples into a PCM WAV stream
func WritePCM16(w io.WriteSeeker, samples []int, sampleRate, channels int) error {
	if len(samples) == 0 {
		return fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if channels <= 0 || len(samples)%channels != 0 {
		return fmt.Errorf("%d samples do not form whole %d-channel frames", len(samples), channels)
	}

	enc := wav.NewEncoder(w, sampleRate, 16, channels, FormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize WAV header: %w", err)
	}

	return nil
}

// WriteWAV encodes mono float samples as 16-bit PCM, clamping them to [-1, 1]
func WriteWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	ints := make([]int, len(samples))
	for i, s := range samples {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		ints[i] = int(s * 32767)
	}
	return WritePCM16(w, ints, sampleRate, 1)
}
