package binidx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"github.com/ufvice/MyRWKV/types"
)

// Reader opens a finalized dataset for random access. The index is owned
// and fully loaded into memory (one scalar per item); the data file is a
// borrowed read-only mapping whose lifetime is scoped to the Reader.
type Reader struct {
	dataFile *os.File
	data     mmap.MMap
	dtype    DType
	sizes    []int32
	pointers []int64
	docIdx   []int64
}

// NewReader parses prefix.idx and memory-maps prefix.bin.
func NewReader(prefix string) (*Reader, error) {
	indexBytes, err := os.ReadFile(prefix + IndexSuffix)
	if err != nil {
		return nil, err
	}
	if len(indexBytes) < len(indexMagic) ||
		!bytes.Equal(indexBytes[:len(indexMagic)], indexMagic) {
		return nil, fmt.Errorf("%w: bad magic in %s%s", ErrBadIndex,
			prefix, IndexSuffix)
	}
	indexReader := bytes.NewReader(indexBytes[len(indexMagic):])
	var version uint64
	if err := binary.Read(indexReader, binary.LittleEndian,
		&version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadIndex, err)
	}
	if version != indexVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrBadIndex,
			version, indexVersion)
	}
	var dtypeCode uint8
	if err := binary.Read(indexReader, binary.LittleEndian,
		&dtypeCode); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadIndex, err)
	}
	dtype := DType(dtypeCode)
	if dtype.Size() == 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDType, dtypeCode)
	}
	if dtype.Size() != types.TokenSize {
		return nil, fmt.Errorf("%w: dataset elements are %d bytes",
			ErrDTypeMismatch, dtype.Size())
	}
	var sizeCount, docCount uint64
	if err := binary.Read(indexReader, binary.LittleEndian,
		&sizeCount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadIndex, err)
	}
	if err := binary.Read(indexReader, binary.LittleEndian,
		&docCount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadIndex, err)
	}
	sizes := make([]int32, sizeCount)
	if err := binary.Read(indexReader, binary.LittleEndian,
		sizes); err != nil {
		return nil, fmt.Errorf("%w: truncated sizes: %v", ErrBadIndex, err)
	}
	pointers := make([]int64, sizeCount)
	if err := binary.Read(indexReader, binary.LittleEndian,
		pointers); err != nil {
		return nil, fmt.Errorf("%w: truncated pointers: %v", ErrBadIndex, err)
	}
	docIdx := make([]int64, docCount)
	if err := binary.Read(indexReader, binary.LittleEndian,
		docIdx); err != nil {
		return nil, fmt.Errorf("%w: truncated document index: %v",
			ErrBadIndex, err)
	}
	dataFile, err := os.Open(prefix + DataSuffix)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(dataFile, mmap.RDONLY, 0)
	if err != nil {
		dataFile.Close()
		return nil, err
	}
	return &Reader{
		dataFile: dataFile,
		data:     data,
		dtype:    dtype,
		sizes:    sizes,
		pointers: pointers,
		docIdx:   docIdx,
	}, nil
}

// Len returns the number of items in the dataset.
func (r *Reader) Len() int {
	return len(r.sizes)
}

// Documents returns the number of logical documents.
func (r *Reader) Documents() int {
	if len(r.docIdx) == 0 {
		return 0
	}
	return len(r.docIdx) - 1
}

// DType returns the element type declared by the index.
func (r *Reader) DType() DType {
	return r.dtype
}

// TotalTokens returns the total symbol count across all items.
func (r *Reader) TotalTokens() uint64 {
	if len(r.sizes) == 0 {
		return 0
	}
	last := len(r.sizes) - 1
	return uint64(r.pointers[last])/uint64(r.dtype.Size()) +
		uint64(r.sizes[last])
}

// Get returns a zero-copy view of item i inside the mapped data file. The
// view stays valid until Close; callers that outlive the Reader must copy.
func (r *Reader) Get(i int) (types.Tokens, error) {
	if i < 0 || i >= len(r.sizes) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, i,
			len(r.sizes))
	}
	size := int(r.sizes[i])
	if size == 0 {
		return types.Tokens{}, nil
	}
	start := r.pointers[i]
	end := start + int64(size)*int64(r.dtype.Size())
	if start < 0 || end > int64(len(r.data)) {
		return nil, fmt.Errorf("%w: item %d spans past the end of the "+
			"data file", ErrBadIndex, i)
	}
	// Pointers are multiples of the element width, so the cast below stays
	// aligned on the page-aligned mapping.
	view := r.data[start:end]
	return unsafe.Slice((*types.Token)(unsafe.Pointer(&view[0])), size), nil
}

// Close releases the mapping and the data file. Views returned by Get must
// not be used afterwards.
func (r *Reader) Close() error {
	if err := r.data.Unmap(); err != nil {
		r.dataFile.Close()
		return err
	}
	return r.dataFile.Close()
}
