package types

import (
	"bytes"
	"encoding/binary"
)

// Token is one symbol id produced by the codec. Sixteen bits is enough for
// every vocabulary this pipeline targets (fewer than 65536 entries).
type Token uint16
type Tokens []Token

const (
	// TokenSize is the on-disk width of a Token in bytes.
	TokenSize = 2
)

// EndOfDoc is the reserved symbol id appended after every cached document.
// Vocabularies never assign it to ordinary text.
const EndOfDoc Token = 0

// ToBin serializes the tokens to little-endian bytes.
func (tokens *Tokens) ToBin() (*[]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, len(*tokens)*TokenSize))
	if err := binary.Write(buf, binary.LittleEndian, *tokens); err != nil {
		return nil, err
	}
	byt := buf.Bytes()
	return &byt, nil
}

// TokensFromBin deserializes little-endian bytes into Tokens.
func TokensFromBin(bin *[]byte) *Tokens {
	tokens := make(Tokens, 0, len(*bin)/TokenSize)
	buf := bytes.NewReader(*bin)
	for {
		var token Token
		if err := binary.Read(buf, binary.LittleEndian, &token); err != nil {
			break
		}
		tokens = append(tokens, token)
	}
	return &tokens
}
