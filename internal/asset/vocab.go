package asset

import (
	"fmt"
	"sort"
)

// Reserved-token ids of the English-only model. The multilingual model
// inserts one extra slot ahead of them, shifting every id by one.
const (
	englishEndOfText      = 50256
	englishStartOfText    = 50257
	englishPrevious       = 50360
	englishStartOfLM      = 50361
	englishNoTimestamps   = 50362
	englishBeginTimestamp = 50363
)

// ReservedTokens are the control-token ids of a model mode.
type ReservedTokens struct {
	EndOfText      int
	StartOfText    int
	Previous       int
	NoTimestamps   int
	StartOfLM      int
	BeginTimestamp int

	vocabSize int
}

// ReservedFor returns the reserved-token layout for the given mode.
func ReservedFor(multilingual bool) ReservedTokens {
	shift, size := 0, VocabSizeEnglish
	if multilingual {
		shift, size = 1, VocabSizeMultilingual
	}
	return ReservedTokens{
		EndOfText:      englishEndOfText + shift,
		StartOfText:    englishStartOfText + shift,
		Previous:       englishPrevious + shift,
		NoTimestamps:   englishNoTimestamps + shift,
		StartOfLM:      englishStartOfLM + shift,
		BeginTimestamp: englishBeginTimestamp + shift,
		vocabSize:      size,
	}
}

// VocabSize is the total number of vocabulary entries for this mode.
func (r ReservedTokens) VocabSize() int {
	return r.vocabSize
}

// IsReserved reports whether id is one of the six control tokens.
func (r ReservedTokens) IsReserved(id int) bool {
	_, ok := r.name(id)
	return ok
}

func (r ReservedTokens) name(id int) (string, bool) {
	switch id {
	case r.EndOfText:
		return "EOT", true
	case r.StartOfText:
		return "SOT", true
	case r.Previous:
		return "PREV", true
	case r.StartOfLM:
		return "SOLM", true
	case r.NoTimestamps:
		return "NOT", true
	case r.BeginTimestamp:
		return "BEG", true
	}
	return "", false
}

// TokenKind classifies a synthesized vocabulary slot.
type TokenKind int

const (
	KindExtra TokenKind = iota
	KindReserved
	KindTimestamp
)

// SyntheticToken is the classification of an id that has no explicit entry in the asset.
type SyntheticToken struct {
	Kind   TokenKind
	ID     int
	Offset int    // KindTimestamp: distance from the begin-timestamp token
	Name   string // KindReserved
}

// Classify decides how the slot id is rendered. Ids past the begin-timestamp
// token are timestamps; the control ids get their names; everything else is
// an extra placeholder.
func (r ReservedTokens) Classify(id int) SyntheticToken {
	if id > r.BeginTimestamp {
		return SyntheticToken{Kind: KindTimestamp, ID: id, Offset: id - r.BeginTimestamp}
	}
	if name, ok := r.name(id); ok {
		return SyntheticToken{Kind: KindReserved, ID: id, Name: name}
	}
	return SyntheticToken{Kind: KindExtra, ID: id}
}

func (t SyntheticToken) String() string {
	switch t.Kind {
	case KindTimestamp:
		return fmt.Sprintf("[_TT_%d]", t.Offset)
	case KindReserved:
		return "[_" + t.Name + "_]"
	default:
		return fmt.Sprintf("[_extra_token_%d]", t.ID)
	}
}

// Vocabulary maps token ids to their text. It is read-only once built.
type Vocabulary struct {
	tokens map[int]string
}

// NewVocabulary builds a vocabulary from a copy of tokens.
func NewVocabulary(tokens map[int]string) *Vocabulary {
	m := make(map[int]string, len(tokens))
	for id, s := range tokens {
		m[id] = s
	}
	return &Vocabulary{tokens: m}
}

// Token returns the text for id.
func (v *Vocabulary) Token(id int) (string, bool) {
	s, ok := v.tokens[id]
	return s, ok
}

// Size returns the number of entries.
func (v *Vocabulary) Size() int {
	return len(v.tokens)
}

// IDs returns all ids in ascending order.
func (v *Vocabulary) IDs() []int {
	ids := make([]int, 0, len(v.tokens))
	for id := range v.tokens {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
