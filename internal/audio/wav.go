package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// TargetSampleRate is the rate every normalized sample buffer is delivered at
const TargetSampleRate = 16000

// Audio format codes found in the fmt chunk
const (
	FormatPCM       = 1
	FormatIEEEFloat = 3
)

// riffHeader is the fixed-layout start of a WAV file, up to the end of the base fmt chunk
type riffHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM, larger for extended formats
	AudioFormat   uint16  // 1 for PCM, 3 for IEEE float
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
}

const baseFmtSize = 16

// Header is the format metadata of a WAV file plus the declared size of its data chunk
type Header struct {
	AudioFormat   int    `json:"audio_format"`
	Channels      int    `json:"channels"`
	SampleRate    int    `json:"sample_rate"`
	BitsPerSample int    `json:"bits_per_sample"`
	DataSize      uint32 `json:"data_size_bytes"`
}

// FormatName returns a readable name for the audio format code
func (h Header) FormatName() string {
	switch h.AudioFormat {
	case FormatPCM:
		return "PCM"
	case FormatIEEEFloat:
		return "IEEE Float"
	default:
		return "Unknown"
	}
}

// bytesPerSample is the width of one channel value in the data chunk
func (h Header) bytesPerSample() int {
	if h.AudioFormat == FormatIEEEFloat {
		return 4
	}
	return h.BitsPerSample / 8
}

// ReadHeader validates the container, skips to the data chunk and leaves r positioned
// at the first sample byte
func ReadHeader(r io.Reader) (Header, error) {
	var rh riffHeader
	if err := binary.Read(r, binary.LittleEndian, &rh); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, formatErr(ErrNotAContainer, err, "header shorter than %d bytes", binary.Size(rh))
		}
		return Header{}, formatErr(ErrUnreadable, err, "failed to read WAV header")
	}

	if string(rh.ChunkID[:]) != "RIFF" || string(rh.Format[:]) != "WAVE" || string(rh.Subchunk1ID[:]) != "fmt " {
		return Header{}, formatErr(ErrNotAContainer, nil, "got tags %q %q %q", rh.ChunkID[:], rh.Format[:], rh.Subchunk1ID[:])
	}

	h := Header{
		AudioFormat:   int(rh.AudioFormat),
		Channels:      int(rh.NumChannels),
		SampleRate:    int(rh.SampleRate),
		BitsPerSample: int(rh.BitsPerSample),
	}

	// Skip any extension bytes of the fmt chunk
	if rh.Subchunk1Size > baseFmtSize {
		if err := skip(r, int64(rh.Subchunk1Size-baseFmtSize)); err != nil {
			return Header{}, formatErr(ErrNoDataChunk, err, "stream ended inside fmt chunk")
		}
	}

	// Scan chunks until "data"
	var chunk struct {
		ID   [4]byte
		Size uint32
	}
	for {
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Header{}, formatErr(ErrNoDataChunk, nil, "stream ended before a data chunk")
			}
			return Header{}, formatErr(ErrUnreadable, err, "failed to read chunk header")
		}
		if string(chunk.ID[:]) == "data" {
			h.DataSize = chunk.Size
			return h, nil
		}
		if err := skip(r, int64(chunk.Size)); err != nil {
			return Header{}, formatErr(ErrNoDataChunk, err, "stream ended inside %q chunk", chunk.ID[:])
		}
	}
}

func skip(r io.Reader, n int64) error {
	if s, ok := r.(io.Seeker); ok {
		if _, err := s.Seek(n, io.SeekCurrent); err == nil {
			return nil
		}
	}
	copied, err := io.CopyN(io.Discard, r, n)
	if err != nil {
		return err
	}
	if copied != n {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// Normalize reads a WAV stream and returns mono samples at TargetSampleRate.
// On failure the returned samples are nil and the error is a *FormatError.
func Normalize(r io.Reader) ([]float32, Header, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, Header{}, err
	}

	if h.Channels <= 0 {
		return nil, h, formatErr(ErrUnreadable, nil, "channel count is %d", h.Channels)
	}
	if h.SampleRate <= 0 {
		return nil, h, formatErr(ErrUnreadable, nil, "sample rate is %d", h.SampleRate)
	}

	switch h.AudioFormat {
	case FormatPCM:
		if h.BitsPerSample != 16 {
			return nil, h, formatErr(ErrUnsupportedDepth, nil, "%d-bit PCM (only 16-bit is supported)", h.BitsPerSample)
		}
	case FormatIEEEFloat:
		if h.BitsPerSample != 32 {
			return nil, h, formatErr(ErrUnsupportedDepth, nil, "%d-bit float (only 32-bit is supported)", h.BitsPerSample)
		}
	default:
		return nil, h, formatErr(ErrUnsupportedFormat, nil, "format code %d", h.AudioFormat)
	}

	payload, err := io.ReadAll(io.LimitReader(r, int64(h.DataSize)))
	if err != nil {
		return nil, h, formatErr(ErrUnreadable, err, "failed to read audio samples")
	}

	// Only whole frames are used when the data chunk is shorter than declared
	frameSize := h.Channels * h.bytesPerSample()
	frames := len(payload) / frameSize
	payload = payload[:frames*frameSize]

	var mono []float32
	if h.AudioFormat == FormatPCM {
		mono = mixPCM16(payload, h.Channels)
	} else {
		mono = mixFloat32(payload, h.Channels)
	}

	if h.SampleRate != TargetSampleRate {
		mono = Resample(mono, h.SampleRate, TargetSampleRate)
	}

	return mono, h, nil
}

// DecodeWAV normalizes an in-memory WAV file
func DecodeWAV(data []byte) ([]float32, Header, error) {
	if len(data) == 0 {
		return nil, Header{}, formatErr(ErrUnreadable, nil, "empty WAV data")
	}
	return Normalize(bytes.NewReader(data))
}

// ReadWAVFile opens path and normalizes its contents
func ReadWAVFile(path string) ([]float32, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, formatErr(ErrUnreadable, err, "failed to open %s", path)
	}
	defer f.Close()

	samples, h, err := Normalize(f)
	if err != nil {
		return nil, h, fmt.Errorf("%s: %w", path, err)
	}
	return samples, h, nil
}

// Info describes a WAV file without decoding its samples
type Info struct {
	Header
	Format   string  `json:"format"`
	Frames   uint32  `json:"frames"`
	Duration float64 `json:"duration_seconds"`
}

// Info derives file metadata from the header
func (h Header) Info() *Info {
	info := &Info{Header: h, Format: h.FormatName()}
	if frameSize := h.Channels * h.bytesPerSample(); frameSize > 0 {
		info.Frames = h.DataSize / uint32(frameSize)
	}
	if h.SampleRate > 0 {
		info.Duration = float64(info.Frames) / float64(h.SampleRate)
	}
	return info
}

// Inspect extracts metadata from a WAV stream
func Inspect(r io.Reader) (*Info, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	return h.Info(), nil
}
