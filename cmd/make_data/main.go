package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ufvice/MyRWKV/binidx"
	"github.com/ufvice/MyRWKV/codec"
	"github.com/ufvice/MyRWKV/magicprime"
	"github.com/ufvice/MyRWKV/pipeline"
	"github.com/ufvice/MyRWKV/tokencache"
	"github.com/ufvice/MyRWKV/types"
)

const previewTokens = 100

// outputStem derives the dataset prefix from the input spec when -output is
// not given: the input's base name without extension, in the current
// directory.
func outputStem(inputSpec string) string {
	base := filepath.Base(strings.TrimSuffix(inputSpec, "/"))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// verifyDataset spot-checks the first and last items of the final dataset:
// both must carry the end-of-document marker, and both must decode. A
// short preview is logged for operator eyeballing.
func verifyDataset(data *binidx.Reader, c codec.Codec) error {
	if data.Len() == 0 {
		return errors.New("final dataset contains no items")
	}
	for _, idx := range []int{0, data.Len() - 1} {
		tokens, err := data.Get(idx)
		if err != nil {
			return err
		}
		if len(tokens) == 0 || tokens[len(tokens)-1] != types.EndOfDoc {
			return fmt.Errorf("item %d is missing its end-of-document "+
				"marker", idx)
		}
		preview := tokens[:len(tokens)-1]
		if len(preview) > previewTokens {
			preview = preview[:previewTokens]
		}
		log.Printf("[item %d, %d tokens] %s", idx, len(tokens),
			c.Decode(preview))
	}
	return nil
}

func main() {
	inputSpec := flag.String("input", "",
		"input source: a .jsonl file, a directory, a glob, or an "+
			"s3:// URI")
	nEpoch := flag.Int("epochs", 1,
		"number of shuffled passes over the corpus")
	contextSize := flag.Int("context", 4096,
		"context length used to derive the magic prime")
	tokenizerId := flag.String("tokenizer", tokencache.DefaultVocab,
		"tokenizer to use [gpt2, pile, huggingface-id]")
	outputPrefix := flag.String("output", "",
		"output prefix for the .bin/.idx pair (default: input stem)")
	forceRetokenization := flag.Bool("retokenize", false,
		"force retokenization even if a valid token cache exists")
	flag.Parse()
	if *inputSpec == "" {
		flag.Usage()
		log.Fatal("Must provide -input for the JSONL source")
	}
	if *nEpoch < 1 {
		log.Fatal("-epochs must be at least 1")
	}

	tokenizer, err := codec.NewGPTCodec(*tokenizerId)
	if err != nil {
		log.Fatal(err)
	}

	finalPrefix := *outputPrefix
	if finalPrefix == "" {
		finalPrefix = outputStem(*inputSpec)
	}
	cachePrefix := tokencache.Prefix(finalPrefix, tokenizer.Identity())

	log.Printf("### Processing %s", *inputSpec)
	log.Printf("### Tokenizer: %s", tokenizer.Identity())
	log.Printf("### Output: %s%s + %s%s", finalPrefix, binidx.DataSuffix,
		finalPrefix, binidx.IndexSuffix)

	if !*forceRetokenization && tokencache.Check(cachePrefix) {
		log.Printf("### Found existing tokenization cache `%s`, skipping "+
			"encode phase. Use -retokenize to force.", cachePrefix)
	} else {
		log.Print("### Phase 1: one-time tokenization")
		paths, cleanup, err := resolveInputs(*inputSpec)
		if err != nil {
			log.Fatal(err)
		}
		input, closeInputs, err := openInputs(paths)
		if err != nil {
			cleanup()
			log.Fatal(err)
		}
		begin := time.Now()
		stats, buildErr := pipeline.BuildCache(input, tokenizer, cachePrefix)
		closeInputs()
		cleanup()
		if buildErr != nil {
			log.Fatal(buildErr)
		}
		duration := time.Since(begin).Seconds()
		log.Printf("Tokenized %s documents, %s tokens in %0.2fs, "+
			"%0.2f tokens/s", humanize.Comma(int64(stats.Documents)),
			humanize.Comma(int64(stats.Tokens)), duration,
			float64(stats.Tokens)/duration)
		if stats.Skipped > 0 {
			log.Printf("Skipped %d documents", stats.Skipped)
		}
	}

	cacheReader, err := tokencache.NewReader(cachePrefix)
	if err != nil {
		log.Fatal(err)
	}
	defer cacheReader.Close()
	log.Printf("### Cache holds %s documents, %s tokens",
		humanize.Comma(int64(cacheReader.Len())),
		humanize.Comma(int64(cacheReader.TotalTokens())))

	log.Printf("### Phase 2: shuffling %d epochs into the final dataset",
		*nEpoch)
	writer, err := binidx.NewWriter(finalPrefix+binidx.DataSuffix,
		binidx.DTypeUint16)
	if err != nil {
		log.Fatal(err)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if err := pipeline.Assemble(cacheReader, writer, *nEpoch, rng); err != nil {
		log.Fatal(err)
	}
	if err := writer.Finalize(finalPrefix + binidx.IndexSuffix); err != nil {
		log.Fatal(err)
	}

	log.Print("### Verifying result")
	data, err := binidx.NewReader(finalPrefix)
	if err != nil {
		log.Fatal(err)
	}
	defer data.Close()
	if err := verifyDataset(data, tokenizer); err != nil {
		log.Fatal(err)
	}
	totalTokens := data.TotalTokens()
	log.Printf("### Final output has %s tokens, %s documents",
		humanize.Comma(int64(totalTokens)),
		humanize.Comma(int64(data.Documents())))
	log.Printf("### Tokenization cache is preserved for future runs:")
	log.Printf("    - %s%s", cachePrefix, tokencache.TokensSuffix)
	log.Printf("    - %s%s", cachePrefix, tokencache.OffsetsSuffix)

	prime, primeErr := magicprime.Search(totalTokens, *contextSize)
	switch {
	case primeErr == nil:
		log.Printf("### magic_prime = %d (for ctxlen %d)", prime,
			*contextSize)
		fmt.Printf("\n--my_exit_tokens %d --magic_prime %d --ctx_len %d\n",
			totalTokens, prime, *contextSize)
	case errors.Is(primeErr, magicprime.ErrInsufficientData):
		log.Printf("### No magic prime: corpus has %d tokens, needs at "+
			"least %d for ctxlen %d", totalTokens, *contextSize*3,
			*contextSize)
	default:
		log.Fatal(primeErr)
	}
}
