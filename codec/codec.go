// Package codec defines the symbol codec capability consumed by the data
// pipeline. The pipeline never implements a tokenizer itself; a Codec is
// handed to it explicitly and threaded through both phases.
package codec

import (
	"errors"

	"github.com/ufvice/MyRWKV/types"
)

// ErrTokenRange is returned by Encode when a produced symbol id does not
// fit the 16-bit on-disk width.
var ErrTokenRange = errors.New("token id exceeds 16-bit representable range")

type Codec interface {
	// Encode maps text to symbol ids.
	Encode(text string) (types.Tokens, error)
	// Decode maps symbol ids back to text. Decode(Encode(text)) == text
	// must hold for well-formed input.
	Decode(tokens types.Tokens) string
	// Identity names the vocabulary, so that caches built with different
	// vocabularies are never confused with each other.
	Identity() string
}
