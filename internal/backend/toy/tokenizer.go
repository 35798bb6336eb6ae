package toy

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Special units follow the 256 byte units.
const (
	UnitBOS = 256 + iota
	UnitEOS
	UnitIMStart
	UnitIMEnd
	UnitTurnStart
	UnitTurnEnd
	UnitInstStart
	UnitInstEnd

	VocabSize
)

var specialText = [...]string{
	UnitBOS - 256:       "<s>",
	UnitEOS - 256:       "</s>",
	UnitIMStart - 256:   "<|im_start|>",
	UnitIMEnd - 256:     "<|im_end|>",
	UnitTurnStart - 256: "<start_of_turn>",
	UnitTurnEnd - 256:   "<end_of_turn>",
	UnitInstStart - 256: "[INST]",
	UnitInstEnd - 256:   "[/INST]",
}

// ErrInvalidText is returned for input that is not valid UTF-8.
var ErrInvalidText = errors.New("toy: text is not valid UTF-8")

// Tokenizer is a byte-level tokenizer with a handful of control units
// covering the chatml, gemma and mistral prompt styles.
type Tokenizer struct{}

func NewTokenizer() *Tokenizer { return &Tokenizer{} }

// Tokenize encodes NFC-normalised text one byte per unit. With parseSpecial
// set, control sequences map to their special unit.
func (t *Tokenizer) Tokenize(text string, addBoundary, parseSpecial bool) ([]int, error) {
	if !utf8.ValidString(text) {
		return nil, ErrInvalidText
	}
	text = norm.NFC.String(text)

	units := make([]int, 0, len(text)+1)
	if addBoundary {
		units = append(units, UnitBOS)
	}
	for i := 0; i < len(text); {
		if parseSpecial && (text[i] == '<' || text[i] == '[') {
			if u, n := matchSpecial(text[i:]); n > 0 {
				units = append(units, u)
				i += n
				continue
			}
		}
		units = append(units, int(text[i]))
		i++
	}
	return units, nil
}

func matchSpecial(s string) (int, int) {
	for i, sp := range specialText {
		if strings.HasPrefix(s, sp) {
			return 256 + i, len(sp)
		}
	}
	return 0, 0
}

// UnitToText returns the raw byte for byte units, so a multi-byte
// character spans several units.
func (t *Tokenizer) UnitToText(unit int) string {
	switch {
	case unit >= 0 && unit < 256:
		return string([]byte{byte(unit)})
	case unit >= 256 && unit < VocabSize:
		return specialText[unit-256]
	default:
		return ""
	}
}

func (t *Tokenizer) IsEndOfSequence(unit int) bool {
	return unit == UnitEOS || unit == UnitIMEnd || unit == UnitTurnEnd
}

// Detokenize joins the text of units, for diagnostics.
func (t *Tokenizer) Detokenize(units []int) string {
	var b strings.Builder
	for _, u := range units {
		b.WriteString(t.UnitToText(u))
	}
	return b.String()
}
