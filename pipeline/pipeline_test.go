package pipeline

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ufvice/MyRWKV/binidx"
	"github.com/ufvice/MyRWKV/codec"
	"github.com/ufvice/MyRWKV/tokencache"
	"github.com/ufvice/MyRWKV/types"
)

// runeCodec maps every rune to its code point, so decode(encode(text)) is
// exact for plain text while staying independent of any real vocabulary.
type runeCodec struct{}

func (runeCodec) Encode(text string) (types.Tokens, error) {
	tokens := make(types.Tokens, 0, len(text))
	for _, r := range text {
		if r > 0xFFFF {
			return nil, fmt.Errorf("%w: rune %U", codec.ErrTokenRange, r)
		}
		tokens = append(tokens, types.Token(r))
	}
	return tokens, nil
}

func (runeCodec) Decode(tokens types.Tokens) string {
	var sb strings.Builder
	for _, token := range tokens {
		sb.WriteRune(rune(token))
	}
	return sb.String()
}

func (runeCodec) Identity() string { return "rune" }

// shoutingCodec decodes to upper case, so any text containing lower-case
// letters fails round-trip verification.
type shoutingCodec struct{ runeCodec }

func (c shoutingCodec) Decode(tokens types.Tokens) string {
	return strings.ToUpper(c.runeCodec.Decode(tokens))
}

func writeInput(t *testing.T, lines ...string) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.jsonl")
	require.NoError(t, os.WriteFile(path,
		[]byte(strings.Join(lines, "\n")+"\n"), 0644))
	file, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })
	return file
}

func TestBuildCache(t *testing.T) {
	input := writeInput(t,
		`{"text": "hello"}`,
		``,
		`this is not json`,
		`{"body": "no text field"}`,
		`{"text": ""}`,
		`{"text": "world!"}`,
	)
	prefix := filepath.Join(t.TempDir(), "input_temp")
	stats, err := BuildCache(input, runeCodec{}, prefix)
	require.NoError(t, err)

	// Two good records; the blank line is ignored outright, the other
	// three are skipped and counted.
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, uint64(len("hello")+1+len("world!")+1), stats.Tokens)

	assert.True(t, tokencache.Check(prefix))
	reader, err := tokencache.NewReader(prefix)
	require.NoError(t, err)
	defer reader.Close()
	require.Equal(t, 2, reader.Len())
	tokens, err := reader.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "hello", runeCodec{}.Decode(tokens[:len(tokens)-1]))
	assert.Equal(t, types.EndOfDoc, tokens[len(tokens)-1])
}

func TestBuildCacheEncodeRangeSkip(t *testing.T) {
	input := writeInput(t,
		`{"text": "plain"}`,
		`{"text": "emoji 😀 overflows"}`,
	)
	prefix := filepath.Join(t.TempDir(), "input_temp")
	stats, err := BuildCache(input, runeCodec{}, prefix)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 1, stats.Skipped)
}

func TestBuildCacheRoundTripSkip(t *testing.T) {
	input := writeInput(t,
		`{"text": "KEPT AS IS"}`,
		`{"text": "dropped, fails verification"}`,
	)
	prefix := filepath.Join(t.TempDir(), "input_temp")
	stats, err := BuildCache(input, shoutingCodec{}, prefix)
	require.NoError(t, err)

	// The failing document never reaches the cache.
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 1, stats.Skipped)
	reader, err := tokencache.NewReader(prefix)
	require.NoError(t, err)
	defer reader.Close()
	assert.Equal(t, 1, reader.Len())
}

// twelveDocs builds the hand-crafted corpus from the end-to-end scenario:
// twelve distinct short sequences, each terminated by the reserved id 0.
func twelveDocs() []types.Tokens {
	docs := make([]types.Tokens, 12)
	for idx := range docs {
		doc := make(types.Tokens, 0, idx%3+2)
		for pos := 0; pos <= idx%3; pos++ {
			doc = append(doc, types.Token(idx*10+pos+1))
		}
		docs[idx] = append(doc, types.EndOfDoc)
	}
	return docs
}

func buildDocCache(t *testing.T, docs []types.Tokens) string {
	t.Helper()
	prefix := filepath.Join(t.TempDir(), "scenario_temp")
	builder, err := tokencache.NewBuilder(prefix)
	require.NoError(t, err)
	for _, doc := range docs {
		require.NoError(t, builder.AddDocument(doc))
	}
	_, _, err = builder.Finalize()
	require.NoError(t, err)
	return prefix
}

func TestAssembleEndToEnd(t *testing.T) {
	docs := twelveDocs()
	cachePrefix := buildDocCache(t, docs)

	cacheReader, err := tokencache.NewReader(cachePrefix)
	require.NoError(t, err)
	defer cacheReader.Close()
	require.Equal(t, 12, cacheReader.Len())

	finalPrefix := filepath.Join(t.TempDir(), "scenario")
	writer, err := binidx.NewWriter(finalPrefix+binidx.DataSuffix,
		binidx.DTypeUint16)
	require.NoError(t, err)
	const nEpoch = 2
	rng := rand.New(rand.NewSource(42))
	require.NoError(t, Assemble(cacheReader, writer, nEpoch, rng))
	require.NoError(t, writer.Finalize(finalPrefix+binidx.IndexSuffix))

	data, err := binidx.NewReader(finalPrefix)
	require.NoError(t, err)
	defer data.Close()

	assert.Equal(t, 12*nEpoch, data.Len())
	assert.Equal(t, 12*nEpoch, data.Documents())
	assert.Equal(t, uint64(nEpoch)*cacheReader.TotalTokens(),
		data.TotalTokens())

	// Every original sequence appears exactly twice across all items, and
	// every item carries its end marker.
	counts := make(map[string]int)
	for idx := 0; idx < data.Len(); idx++ {
		tokens, getErr := data.Get(idx)
		require.NoError(t, getErr)
		require.NotEmpty(t, tokens)
		assert.Equal(t, types.EndOfDoc, tokens[len(tokens)-1])
		counts[fmt.Sprint(tokens)]++
	}
	require.Len(t, counts, 12)
	for _, doc := range docs {
		assert.Equal(t, nEpoch, counts[fmt.Sprint(doc)])
	}
}

func TestAssembleEpochIsBijection(t *testing.T) {
	docs := twelveDocs()
	cachePrefix := buildDocCache(t, docs)

	cacheReader, err := tokencache.NewReader(cachePrefix)
	require.NoError(t, err)
	defer cacheReader.Close()

	finalPrefix := filepath.Join(t.TempDir(), "scenario")
	writer, err := binidx.NewWriter(finalPrefix+binidx.DataSuffix,
		binidx.DTypeUint16)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(7))
	require.NoError(t, Assemble(cacheReader, writer, 3, rng))
	require.NoError(t, writer.Finalize(finalPrefix+binidx.IndexSuffix))

	data, err := binidx.NewReader(finalPrefix)
	require.NoError(t, err)
	defer data.Close()

	// Within each epoch's span of the data file, every document appears
	// exactly once.
	for epoch := 0; epoch < 3; epoch++ {
		seen := make(map[string]int)
		for idx := epoch * 12; idx < (epoch+1)*12; idx++ {
			tokens, getErr := data.Get(idx)
			require.NoError(t, getErr)
			seen[fmt.Sprint(tokens)]++
		}
		require.Len(t, seen, 12, "epoch %d", epoch)
		for _, doc := range docs {
			assert.Equal(t, 1, seen[fmt.Sprint(doc)], "epoch %d", epoch)
		}
	}
}
