package asset

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Magic is the little-endian int32 every asset starts with ("WSPR").
const Magic = 0x57535052

// Total vocabulary sizes after the special-token tail is synthesized.
const (
	VocabSizeEnglish      = 51864
	VocabSizeMultilingual = 51865
)

// FilterBank holds the mel filter coefficients, MelBins rows of FFTSize values each.
type FilterBank struct {
	MelBins      int
	FFTSize      int
	Coefficients []float32
}

// Row returns the coefficients of mel bin i.
func (f *FilterBank) Row(i int) []float32 {
	return f.Coefficients[i*f.FFTSize : (i+1)*f.FFTSize]
}

// Assets is the decoded content of a filters/vocab asset for one model mode.
type Assets struct {
	Filters      FilterBank
	Vocab        *Vocabulary
	Reserved     ReservedTokens
	Multilingual bool

	// ExplicitTokens is the number of vocabulary entries read from the asset
	// before the special-token tail was synthesized.
	ExplicitTokens int
}

// Decode parses a filters/vocab asset. The multilingual flag selects the
// reserved-token layout and the total vocabulary size of the tail.
func Decode(data []byte, multilingual bool) (*Assets, error) {
	r := &reader{data: data}

	magic, err := r.uint32("magic")
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, &FormatError{
			Kind:   ErrBadMagic,
			Offset: 0,
			Detail: fmt.Sprintf("got 0x%08x, want 0x%08x", magic, uint32(Magic)),
		}
	}

	melBins, err := r.count("n_mel")
	if err != nil {
		return nil, err
	}
	fftSize, err := r.count("n_fft")
	if err != nil {
		return nil, err
	}

	coefficients, err := r.float32s(melBins*fftSize, "filter coefficients")
	if err != nil {
		return nil, err
	}

	explicit, err := r.count("n_vocab")
	if err != nil {
		return nil, err
	}

	reserved := ReservedFor(multilingual)
	total := reserved.VocabSize()
	if explicit > total {
		total = explicit
	}

	tokens := make(map[int]string, total)
	for i := 0; i < explicit; i++ {
		n, err := r.count(fmt.Sprintf("length of token %d", i))
		if err != nil {
			return nil, err
		}
		word, err := r.bytes(n, fmt.Sprintf("token %d", i))
		if err != nil {
			return nil, err
		}
		tokens[i] = string(word)
	}

	for id := explicit; id < total; id++ {
		tokens[id] = reserved.Classify(id).String()
	}

	return &Assets{
		Filters: FilterBank{
			MelBins:      melBins,
			FFTSize:      fftSize,
			Coefficients: coefficients,
		},
		Vocab:          &Vocabulary{tokens: tokens},
		Reserved:       reserved,
		Multilingual:   multilingual,
		ExplicitTokens: explicit,
	}, nil
}

// reader is a bounds-checked little-endian cursor over the asset bytes.
type reader struct {
	data []byte
	off  int
}

func (r *reader) truncated(what string, need int) error {
	return &FormatError{
		Kind:   ErrTruncated,
		Offset: r.off,
		Detail: fmt.Sprintf("reading %s: need %d bytes, have %d", what, need, len(r.data)-r.off),
	}
}

func (r *reader) take(n int, what string) ([]byte, error) {
	if n < 0 || n > len(r.data)-r.off {
		return nil, r.truncated(what, n)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) uint32(what string) (uint32, error) {
	b, err := r.take(4, what)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// count reads an int32 that sizes something that follows. Negative values
// can never be satisfied by the remaining bytes and are reported as truncation.
func (r *reader) count(what string) (int, error) {
	start := r.off
	v, err := r.uint32(what)
	if err != nil {
		return 0, err
	}
	n := int(int32(v))
	if n < 0 {
		r.off = start
		return 0, r.truncated(what, n)
	}
	return n, nil
}

func (r *reader) float32s(n int, what string) ([]float32, error) {
	if n > (len(r.data)-r.off)/4 {
		return nil, r.truncated(what, n*4)
	}
	b, err := r.take(n*4, what)
	if err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

func (r *reader) bytes(n int, what string) ([]byte, error) {
	return r.take(n, what)
}
