package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokensBinRoundTrip(t *testing.T) {
	tokens := Tokens{1, 258, 65535, EndOfDoc}
	bin, err := tokens.ToBin()
	assert.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x02, 0x01, 0xff, 0xff, 0x00, 0x00},
		*bin)
	assert.Equal(t, tokens, *TokensFromBin(bin))
}

func TestTokensFromBinIgnoresTrailingByte(t *testing.T) {
	bin := []byte{0x01, 0x00, 0x02}
	assert.Equal(t, Tokens{1}, *TokensFromBin(&bin))
}
