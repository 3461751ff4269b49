// Package tokencache implements the durable intermediate store for tokenized
// documents: a raw little-endian symbol stream plus a fixed-record offset
// index. The cache is append-only, written once by a Builder, and reused
// across runs so that re-shuffling never re-invokes the codec.
package tokencache

import (
	"bufio"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/ufvice/MyRWKV/types"
)

const (
	// TokensSuffix holds the concatenated symbol stream, no separators.
	TokensSuffix = ".tokens"
	// OffsetsSuffix holds one offsetRecord per document, in append order.
	OffsetsSuffix = ".offsets"
)

// DefaultVocab is the vocabulary identity that omits the suffix from cache
// prefixes, matching runs that never select a tokenizer explicitly.
const DefaultVocab = "gpt2"

var (
	ErrOutOfRange = errors.New("document ordinal out of range")
	ErrCorrupt    = errors.New("token cache corrupt")
)

// offsetRecord is the fixed 12-byte index entry: the cumulative symbol
// offset of the document, then its length in symbols.
type offsetRecord struct {
	Offset uint64
	Length uint32
}

const offsetRecordSize = 12

// Prefix derives the cache file prefix for an input path and vocabulary
// identity. The identity is part of the name so that switching vocabularies
// never silently reuses a stale cache.
func Prefix(inputPath, vocabIdentity string) string {
	stem := strings.TrimSuffix(filepath.Base(inputPath),
		filepath.Ext(inputPath))
	prefix := filepath.Join(filepath.Dir(inputPath), stem+"_temp")
	if vocabIdentity != "" && vocabIdentity != DefaultVocab {
		prefix += "_" + vocabIdentity
	}
	return prefix
}

// Check reports whether a complete, usable cache exists at prefix. It is a
// cheap sanity probe, not a checksum: the first offset record must parse,
// and the symbol stream must hold at least the bytes that record claims.
// Corruption past the first record is only caught when later reads fail.
func Check(prefix string) bool {
	offsetFile, err := os.Open(prefix + OffsetsSuffix)
	if err != nil {
		return false
	}
	defer offsetFile.Close()
	var first offsetRecord
	if err := binary.Read(offsetFile, binary.LittleEndian, &first); err != nil {
		return false
	}
	tokenStat, err := os.Stat(prefix + TokensSuffix)
	if err != nil {
		return false
	}
	return tokenStat.Size() >= int64(first.Length)*types.TokenSize
}

// Builder appends documents to a fresh cache. It is a pure append sink: no
// deduplication, no token semantics, one offset record per document.
type Builder struct {
	tokenFile     *os.File
	offsetFile    *os.File
	tokenWriter   *bufio.Writer
	offsetWriter  *bufio.Writer
	currentOffset uint64
	docCount      int
}

func NewBuilder(prefix string) (*Builder, error) {
	tokenFile, err := os.Create(prefix + TokensSuffix)
	if err != nil {
		return nil, err
	}
	offsetFile, err := os.Create(prefix + OffsetsSuffix)
	if err != nil {
		tokenFile.Close()
		return nil, err
	}
	return &Builder{
		tokenFile:    tokenFile,
		offsetFile:   offsetFile,
		tokenWriter:  bufio.NewWriterSize(tokenFile, 1024*1024),
		offsetWriter: bufio.NewWriter(offsetFile),
	}, nil
}

// AddDocument appends one document's symbol sequence to the stream and
// writes its offset record. Documents are immutable once written.
func (b *Builder) AddDocument(tokens types.Tokens) error {
	if err := binary.Write(b.tokenWriter, binary.LittleEndian,
		tokens); err != nil {
		return err
	}
	record := offsetRecord{
		Offset: b.currentOffset,
		Length: uint32(len(tokens)),
	}
	if err := binary.Write(b.offsetWriter, binary.LittleEndian,
		&record); err != nil {
		return err
	}
	b.currentOffset += uint64(len(tokens))
	b.docCount++
	return nil
}

// Finalize flushes and closes both files, returning the document count and
// the total symbol count of the stream.
func (b *Builder) Finalize() (docCount int, totalTokens uint64, err error) {
	if err = b.tokenWriter.Flush(); err != nil {
		return 0, 0, err
	}
	if err = b.offsetWriter.Flush(); err != nil {
		return 0, 0, err
	}
	if err = b.tokenFile.Close(); err != nil {
		return 0, 0, err
	}
	if err = b.offsetFile.Close(); err != nil {
		return 0, 0, err
	}
	return b.docCount, b.currentOffset, nil
}
