// Package pipeline drives the two phases of corpus production: one-time
// tokenization of JSONL text records into the durable token cache, and
// per-epoch shuffle-assembly of the cache into the final indexed dataset.
// The phases share nothing but the cache files, so re-running with a
// different epoch count never re-invokes the codec.
package pipeline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log"
	"math/rand"

	"github.com/ufvice/MyRWKV/binidx"
	"github.com/ufvice/MyRWKV/codec"
	"github.com/ufvice/MyRWKV/tokencache"
	"github.com/ufvice/MyRWKV/types"
)

// Records can be whole novels; the scanner must accept multi-megabyte
// lines.
const maxRecordSize = 64 * 1024 * 1024

const progressInterval = 500

// textRecord is the input contract with the text-acquisition side: one JSON
// object per line, one "text" field per object.
type textRecord struct {
	Text string `json:"text"`
}

// BuildStats summarizes phase 1.
type BuildStats struct {
	Documents int
	Tokens    uint64
	Skipped   int
}

// BuildCache tokenizes every text record from input into a fresh token
// cache at prefix. Every document is round-trip verified before caching and
// terminated with the reserved end-of-document id. Malformed records and
// verification failures are skipped and counted, never fatal; I/O errors
// are.
func BuildCache(input io.Reader, c codec.Codec,
	prefix string) (BuildStats, error) {
	builder, err := tokencache.NewBuilder(prefix)
	if err != nil {
		return BuildStats{}, err
	}
	stats := BuildStats{}
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxRecordSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var record textRecord
		if err := json.Unmarshal(line, &record); err != nil {
			log.Printf("Skipping malformed record: %v", err)
			stats.Skipped++
			continue
		}
		if record.Text == "" {
			log.Print("Skipping record without a text field")
			stats.Skipped++
			continue
		}
		tokens, err := c.Encode(record.Text)
		if err != nil {
			log.Printf("Skipping document: %v", err)
			stats.Skipped++
			continue
		}
		if c.Decode(tokens) != record.Text {
			log.Print("Skipping document: codec round-trip " +
				"verification failed")
			stats.Skipped++
			continue
		}
		tokens = append(tokens, types.EndOfDoc)
		if err := builder.AddDocument(tokens); err != nil {
			return stats, err
		}
		stats.Documents++
		if stats.Documents%progressInterval == 0 {
			log.Printf("Processed %d documents", stats.Documents)
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, err
	}
	docCount, totalTokens, err := builder.Finalize()
	if err != nil {
		return stats, err
	}
	stats.Documents = docCount
	stats.Tokens = totalTokens
	return stats, nil
}

// Assemble streams nEpoch full shuffled passes over the cache into the
// dataset writer. Each epoch draws a fresh permutation from rng, so every
// document appears exactly once per epoch and the data file's on-disk order
// is exactly the permutation order. At most one document plus one
// permutation is held in memory.
func Assemble(reader *tokencache.Reader, writer *binidx.Writer, nEpoch int,
	rng *rand.Rand) error {
	for epoch := 0; epoch < nEpoch; epoch++ {
		perm := rng.Perm(reader.Len())
		for _, ordinal := range perm {
			tokens, err := reader.Get(ordinal)
			if err != nil {
				return err
			}
			if err := writer.AddItem(tokens); err != nil {
				return err
			}
			writer.EndDocument()
		}
		log.Printf("Epoch %d/%d: %d documents assembled", epoch+1, nEpoch,
			reader.Len())
	}
	return nil
}
