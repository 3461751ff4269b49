// Package binidx implements the final indexed dataset format: a flat .bin
// file of concatenated fixed-width symbol arrays, and a .idx file carrying
// item lengths, cumulative byte pointers, and document boundaries. The
// layout is byte-compatible with the Megatron-LM/fairseq MMapIndexedDataset
// format, so existing training-side loaders consume it unchanged.
package binidx

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/ufvice/MyRWKV/types"
)

const (
	DataSuffix  = ".bin"
	IndexSuffix = ".idx"
)

// indexMagic and indexVersion open every .idx file.
var indexMagic = []byte("MMIDIDX\x00\x00")

const indexVersion uint64 = 1

// DType identifies the element type of the data file, using the index
// format's code assignments.
type DType uint8

const (
	DTypeUint8   DType = 1
	DTypeInt8    DType = 2
	DTypeInt16   DType = 3
	DTypeInt32   DType = 4
	DTypeInt64   DType = 5
	DTypeFloat32 DType = 6
	DTypeFloat64 DType = 7
	DTypeUint16  DType = 8
)

// Size returns the element width in bytes, or 0 for unknown codes.
func (d DType) Size() int {
	switch d {
	case DTypeUint8, DTypeInt8:
		return 1
	case DTypeInt16, DTypeUint16:
		return 2
	case DTypeInt32, DTypeFloat32:
		return 4
	case DTypeInt64, DTypeFloat64:
		return 8
	}
	return 0
}

var (
	ErrUnknownDType  = errors.New("unknown dtype code")
	ErrDTypeMismatch = errors.New("item element width does not match " +
		"dataset dtype")
	ErrOutOfRange = errors.New("item index out of range")
	ErrBadIndex   = errors.New("invalid index file")
)

// Writer appends items to the data file and accumulates the index in
// memory (one length per item, one boundary per document). The index is
// small, so this keeps memory linear in item count, not corpus size.
type Writer struct {
	dataFile   *os.File
	dataWriter *bufio.Writer
	dtype      DType
	sizes      []int32
	docIdx     []int64
}

// NewWriter creates the data file at dataPath. The document index always
// begins with a zero boundary.
func NewWriter(dataPath string, dtype DType) (*Writer, error) {
	if dtype.Size() == 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDType, dtype)
	}
	dataFile, err := os.Create(dataPath)
	if err != nil {
		return nil, err
	}
	return &Writer{
		dataFile:   dataFile,
		dataWriter: bufio.NewWriterSize(dataFile, 1024*1024),
		dtype:      dtype,
		docIdx:     []int64{0},
	}, nil
}

// AddItem appends one symbol array to the data file and records its length.
// Tokens are 16-bit; a writer declared with any other element width rejects
// them rather than silently coercing.
func (w *Writer) AddItem(tokens types.Tokens) error {
	if w.dtype.Size() != types.TokenSize {
		return fmt.Errorf("%w: dataset elements are %d bytes",
			ErrDTypeMismatch, w.dtype.Size())
	}
	bin, err := tokens.ToBin()
	if err != nil {
		return err
	}
	if _, err := w.dataWriter.Write(*bin); err != nil {
		return err
	}
	w.sizes = append(w.sizes, int32(len(tokens)))
	return nil
}

// EndDocument closes the current document boundary at the item count.
func (w *Writer) EndDocument() {
	w.docIdx = append(w.docIdx, int64(len(w.sizes)))
}

// Finalize closes the data file and writes the index file: magic, version,
// dtype code, counts, item lengths, cumulative byte pointers, and the
// document boundary list.
func (w *Writer) Finalize(indexPath string) error {
	if err := w.dataWriter.Flush(); err != nil {
		return err
	}
	if err := w.dataFile.Close(); err != nil {
		return err
	}
	indexFile, err := os.Create(indexPath)
	if err != nil {
		return err
	}
	indexWriter := bufio.NewWriter(indexFile)
	if _, err := indexWriter.Write(indexMagic); err != nil {
		return err
	}
	if err := binary.Write(indexWriter, binary.LittleEndian,
		indexVersion); err != nil {
		return err
	}
	if err := binary.Write(indexWriter, binary.LittleEndian,
		uint8(w.dtype)); err != nil {
		return err
	}
	if err := binary.Write(indexWriter, binary.LittleEndian,
		uint64(len(w.sizes))); err != nil {
		return err
	}
	if err := binary.Write(indexWriter, binary.LittleEndian,
		uint64(len(w.docIdx))); err != nil {
		return err
	}
	if err := binary.Write(indexWriter, binary.LittleEndian,
		w.sizes); err != nil {
		return err
	}
	pointers := make([]int64, len(w.sizes))
	elemSize := int64(w.dtype.Size())
	var offset int64
	for idx, size := range w.sizes {
		pointers[idx] = offset
		offset += int64(size) * elemSize
	}
	if err := binary.Write(indexWriter, binary.LittleEndian,
		pointers); err != nil {
		return err
	}
	if err := binary.Write(indexWriter, binary.LittleEndian,
		w.docIdx); err != nil {
		return err
	}
	if err := indexWriter.Flush(); err != nil {
		return err
	}
	return indexFile.Close()
}
