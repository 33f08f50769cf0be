package token

import (
	"strings"

	"github.com/khatirak/whisper.tflite/internal/asset"
)

// Vocabulary resolves token ids to text.
type Vocabulary interface {
	Token(id int) (string, bool)
}

// Result is the outcome of decoding one token sequence.
type Result struct {
	Text string

	// Consumed is the number of tokens examined, including the end-of-text token when one stopped decoding.
	Consumed int

	StoppedAtEOT bool
	EOTIndex     int // -1 unless StoppedAtEOT

	// Emitted counts tokens that contributed text.
	Emitted int

	// Missing lists non-reserved, non-negative ids the vocabulary had no entry for.
	Missing []int32
}

// Decode concatenates the text of tokens in order. Decoding stops at the
// end-of-text token; the other control tokens and negative ids are skipped.
func Decode(tokens []int32, vocab Vocabulary, reserved asset.ReservedTokens) Result {
	var sb strings.Builder
	res := Result{EOTIndex: -1}

	for i, t := range tokens {
		res.Consumed = i + 1
		id := int(t)

		if id == reserved.EndOfText {
			res.StoppedAtEOT = true
			res.EOTIndex = i
			break
		}

		if id < 0 || reserved.IsReserved(id) {
			continue
		}

		s, ok := vocab.Token(id)
		if !ok {
			res.Missing = append(res.Missing, t)
			continue
		}
		if s == "" {
			continue
		}

		sb.WriteString(s)
		res.Emitted++
	}

	res.Text = sb.String()
	return res
}
