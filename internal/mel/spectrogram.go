package mel

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/khatirak/whisper.tflite/internal/asset"
)

// Whisper front-end constants
const (
	SampleRate = 16000
	FFTSize    = 400
	HopLength  = 160
	MelBins    = 80
	ChunkSize  = 30 // seconds
	Frames     = SampleRate * ChunkSize / HopLength
)

// Params describes the framing of the transform.
type Params struct {
	SampleRate  int
	FFTSize     int
	HopLength   int
	MelBins     int
	Parallelism int
}

// DefaultParams returns the Whisper framing with the given parallelism.
func DefaultParams(parallelism int) Params {
	return Params{
		SampleRate:  SampleRate,
		FFTSize:     FFTSize,
		HopLength:   HopLength,
		MelBins:     MelBins,
		Parallelism: parallelism,
	}
}

// Spectrogram is a MelBins x Frames matrix stored row-major by mel bin.
type Spectrogram struct {
	MelBins int
	Frames  int
	Data    []float32
}

// At returns the value of mel bin m in frame f.
func (s *Spectrogram) At(m, f int) float32 {
	return s.Data[m*s.Frames+f]
}

// Extractor turns samples into a spectrogram using the model's filter bank.
type Extractor func(ctx context.Context, samples []float32, p Params, fb *asset.FilterBank) (*Spectrogram, error)

var _ Extractor = LogMelSpectrogram

// LogMelSpectrogram is the default Extractor.
func LogMelSpectrogram(ctx context.Context, samples []float32, p Params, fb *asset.FilterBank) (*Spectrogram, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.FFTSize <= 0 || p.HopLength <= 0 {
		return nil, fmt.Errorf("fft size and hop length must be positive, got %d and %d", p.FFTSize, p.HopLength)
	}

	bins := p.FFTSize/2 + 1
	if fb == nil || fb.MelBins != p.MelBins || fb.FFTSize != bins {
		return nil, fmt.Errorf("filter bank does not match %d mel bins x %d fft bins", p.MelBins, bins)
	}
	if len(fb.Coefficients) != fb.MelBins*fb.FFTSize {
		return nil, fmt.Errorf("filter bank has %d coefficients, want %d", len(fb.Coefficients), fb.MelBins*fb.FFTSize)
	}

	frames := len(samples) / p.HopLength
	if frames == 0 {
		return nil, fmt.Errorf("need at least %d samples, got %d", p.HopLength, len(samples))
	}

	spec := &Spectrogram{
		MelBins: p.MelBins,
		Frames:  frames,
		Data:    make([]float32, p.MelBins*frames),
	}

	workers := p.Parallelism
	if workers < 1 {
		workers = 1
	}
	if workers > frames {
		workers = frames
	}

	window := hann(p.FFTSize)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			fr := newFrameWorker(p.FFTSize, window)
			for f := w; f < frames; f += workers {
				fr.process(samples, f*p.HopLength, f, fb, spec)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	normalize(spec.Data)
	return spec, nil
}

// hann returns a periodic Hann window
func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
	}
	return w
}

// frameWorker owns the FFT plan and scratch buffers of one goroutine.
type frameWorker struct {
	fft    *fourier.FFT
	window []float64
	in     []float64
	coeffs []complex128
	power  []float64
}

func newFrameWorker(n int, window []float64) *frameWorker {
	return &frameWorker{
		fft:    fourier.NewFFT(n),
		window: window,
		in:     make([]float64, n),
		coeffs: make([]complex128, n/2+1),
		power:  make([]float64, n/2+1),
	}
}

func (fw *frameWorker) process(samples []float32, offset, frame int, fb *asset.FilterBank, spec *Spectrogram) {
	n := len(fw.in)
	for j := 0; j < n; j++ {
		if offset+j < len(samples) {
			fw.in[j] = fw.window[j] * float64(samples[offset+j])
		} else {
			fw.in[j] = 0
		}
	}

	fw.coeffs = fw.fft.Coefficients(fw.coeffs, fw.in)

	// Fold the mirrored half of the spectrum onto the positive bins
	for k, c := range fw.coeffs {
		p := real(c)*real(c) + imag(c)*imag(c)
		if k > 0 && k < n/2 {
			p *= 2
		}
		fw.power[k] = p
	}

	for m := 0; m < fb.MelBins; m++ {
		row := fb.Row(m)
		var sum float64
		for k, p := range fw.power {
			sum += p * float64(row[k])
		}
		if sum < 1e-10 {
			sum = 1e-10
		}
		spec.Data[m*spec.Frames+frame] = float32(math.Log10(sum))
	}
}

// normalize clamps to 8 decades below the peak and rescales
func normalize(data []float32) {
	peak := float32(math.Inf(-1))
	for _, v := range data {
		if v > peak {
			peak = v
		}
	}
	floor := peak - 8
	for i, v := range data {
		if v < floor {
			v = floor
		}
		data[i] = (v + 4) / 4
	}
}
