package tokencache

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	lru "github.com/hashicorp/golang-lru"
	"github.com/ufvice/MyRWKV/types"
)

const DOC_LRU_SZ = 4096

// Reader provides random access to a finalized cache. The offset index is
// loaded fully into memory, so its cost is linear in document count, not
// corpus size; documents themselves are read on demand. Reads go through
// ReadAt, so one Reader may serve concurrent callers.
type Reader struct {
	tokenFile *os.File
	records   []offsetRecord
	cache     *lru.ARCCache
}

// NewReader opens the cache at prefix and reads every offset record.
func NewReader(prefix string) (*Reader, error) {
	offsetFile, err := os.Open(prefix + OffsetsSuffix)
	if err != nil {
		return nil, err
	}
	defer offsetFile.Close()
	stat, err := offsetFile.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size()%offsetRecordSize != 0 {
		return nil, fmt.Errorf("%w: offset index is %d bytes, not a "+
			"multiple of %d", ErrCorrupt, stat.Size(), offsetRecordSize)
	}
	records := make([]offsetRecord, stat.Size()/offsetRecordSize)
	buffered := bufio.NewReaderSize(offsetFile, 1024*1024)
	if err := binary.Read(buffered, binary.LittleEndian, records); err != nil {
		return nil, fmt.Errorf("%w: reading offset index: %v", ErrCorrupt, err)
	}
	tokenFile, err := os.Open(prefix + TokensSuffix)
	if err != nil {
		return nil, err
	}
	cache, err := lru.NewARC(DOC_LRU_SZ)
	if err != nil {
		tokenFile.Close()
		return nil, err
	}
	return &Reader{
		tokenFile: tokenFile,
		records:   records,
		cache:     cache,
	}, nil
}

// Len returns the number of cached documents.
func (r *Reader) Len() int {
	return len(r.records)
}

// TotalTokens returns the total symbol count recorded by the offset index.
func (r *Reader) TotalTokens() uint64 {
	if len(r.records) == 0 {
		return 0
	}
	last := r.records[len(r.records)-1]
	return last.Offset + uint64(last.Length)
}

// Get returns the symbol sequence of the document at ordinal. The returned
// slice may be shared with the reader's document cache and with other
// callers; it is read-only, and callers that need to mutate must copy. A
// short read means the stream is corrupt past the prefix the validity probe
// checked; that is surfaced as ErrCorrupt, never as a truncated document.
func (r *Reader) Get(ordinal int) (types.Tokens, error) {
	if ordinal < 0 || ordinal >= len(r.records) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange,
			ordinal, len(r.records))
	}
	if cached, ok := r.cache.Get(ordinal); ok {
		return cached.(types.Tokens), nil
	}
	record := r.records[ordinal]
	buf := make([]byte, int(record.Length)*types.TokenSize)
	if _, err := r.tokenFile.ReadAt(buf,
		int64(record.Offset)*types.TokenSize); err != nil {
		return nil, fmt.Errorf("%w: reading document %d: %v", ErrCorrupt,
			ordinal, err)
	}
	tokens := *types.TokensFromBin(&buf)
	r.cache.Add(ordinal, tokens)
	return tokens, nil
}

func (r *Reader) Close() error {
	return r.tokenFile.Close()
}
