package codec

import (
	"fmt"
	"math"

	"github.com/ufvice/MyRWKV/types"
	"github.com/wbrown/gpt_bpe"
)

var encoders map[string]*gpt_bpe.GPTEncoder

func init() {
	encoders = make(map[string]*gpt_bpe.GPTEncoder)
	gpt2 := gpt_bpe.NewGPT2Encoder()
	pile := gpt_bpe.NewPileEncoder()
	encoders["gpt2"] = &gpt2
	encoders["pile"] = &pile
}

// GPTCodec adapts a gpt_bpe encoder to the Codec interface.
type GPTCodec struct {
	id      string
	encoder *gpt_bpe.GPTEncoder
}

// NewGPTCodec resolves a tokenizer id [gpt2, pile, huggingface-id] into a
// Codec, reusing encoders that were already initialized in this process.
func NewGPTCodec(id string) (*GPTCodec, error) {
	encoderPtr, ok := encoders[id]
	if !ok {
		var encErr error
		encoderPtr, encErr = gpt_bpe.NewEncoder(id)
		if encErr != nil {
			return nil, encErr
		}
		encoders[id] = encoderPtr
	}
	return &GPTCodec{id: id, encoder: encoderPtr}, nil
}

// rangeChecked narrows encoder output to the pipeline's 16-bit width. An id
// that does not fit is a codec contract violation, never wrapped modulo.
func rangeChecked(ids []uint32) (types.Tokens, error) {
	tokens := make(types.Tokens, len(ids))
	for idx, id := range ids {
		if id > math.MaxUint16 {
			return nil, fmt.Errorf("%w: id %d at position %d",
				ErrTokenRange, id, idx)
		}
		tokens[idx] = types.Token(id)
	}
	return tokens, nil
}

// Encode returns ErrTokenRange for any id beyond the 16-bit width; a
// resolvable vocabulary can carry more than 65536 entries.
func (c *GPTCodec) Encode(text string) (types.Tokens, error) {
	encoded := c.encoder.Encode(&text)
	ids := make([]uint32, len(*encoded))
	for idx := range *encoded {
		ids[idx] = uint32((*encoded)[idx])
	}
	return rangeChecked(ids)
}

func (c *GPTCodec) Decode(tokens types.Tokens) string {
	decodable := make(gpt_bpe.Tokens, len(tokens))
	for idx := range tokens {
		decodable[idx] = gpt_bpe.Token(tokens[idx])
	}
	return c.encoder.Decode(&decodable)
}

func (c *GPTCodec) Identity() string {
	return c.id
}
