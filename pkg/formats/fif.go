// Package formats provides parsers and writers for the neuroimaging file formats
// handled by stc2gii.
// FIF (Functional Image File) tagged container parser.
package formats

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/Faultbox/stc2gii/pkg/encoding"
)

// FIF format errors.
var (
	ErrNotFIF              = errors.New("not a FIF file: first tag is not FIFF_FILE_ID")
	ErrTruncatedFIFData    = errors.New("truncated FIF data")
	ErrInvalidFIFPointer   = errors.New("invalid FIF next-tag pointer")
	ErrUnbalancedFIFBlocks = errors.New("unbalanced FIF block start/end tags")
	ErrUnsupportedFIFType  = errors.New("unsupported FIF tag data type")
	ErrInvalidFIFMatrix    = errors.New("invalid FIF matrix")
)

// fifTagHeaderSize is the size of kind, type, size and next.
const fifTagHeaderSize = 16

// Next-tag pointer values.
const (
	FIFFNextSeq  = 0
	FIFFNextNone = -1
)

// Tag kinds.
const (
	FIFFFileID     = 100
	FIFFDirPointer = 101
	FIFFBlockStart = 104
	FIFFBlockEnd   = 105
	FIFFNop        = 108
	FIFFSubjHisID  = 410

	FIFFMNECoordFrame              = 3506
	FIFFMNESourceSpacePoints       = 3510
	FIFFMNESourceSpaceNormals      = 3511
	FIFFMNESourceSpaceNPoints      = 3512
	FIFFMNESourceSpaceSelection    = 3513
	FIFFMNESourceSpaceNUse         = 3514
	FIFFMNESourceSpaceID           = 3517
	FIFFMNESourceSpaceType         = 3518
	FIFFMNESourceSpaceNTri         = 3590
	FIFFMNESourceSpaceTriangles    = 3591
	FIFFMNESourceSpaceNUseTri      = 3592
	FIFFMNESourceSpaceUseTriangles = 3593
)

// Block kinds.
const (
	FIFFBRoot           = 999
	FIFFBMNE            = 350
	FIFFBMNESourceSpace = 351
)

// Tag data types. Matrix tags carry the coding in the upper 16 bits.
const (
	FIFFTVoid     = 0
	FIFFTInt      = 3
	FIFFTFloat    = 4
	FIFFTDouble   = 5
	FIFFTString   = 10
	FIFFTIDStruct = 31

	FIFFTMatrixDense = 0x40000000

	fifMatrixMask   = 0xFFFF0000
	fifDataTypeMask = 0x0000FFFF
)

// FIFTag describes one tag in a FIF file. Pos is the offset of the payload.
type FIFTag struct {
	Kind int32
	Type uint32
	Size int32
	Next int32
	Pos  int64
}

// IsMatrix reports whether the tag holds a matrix.
func (t FIFTag) IsMatrix() bool {
	return t.Type&fifMatrixMask != 0
}

// BaseType returns the element data type with the matrix coding removed.
func (t FIFTag) BaseType() uint32 {
	return t.Type & fifDataTypeMask
}

// FIFBlock is a node of the block tree. Tags holds only the tags directly
// inside the block, not those of nested blocks.
type FIFBlock struct {
	Kind     int32
	Tags     []FIFTag
	Children []*FIFBlock
}

// Find returns the first direct tag of the given kind.
func (b *FIFBlock) Find(kind int32) (FIFTag, bool) {
	for _, t := range b.Tags {
		if t.Kind == kind {
			return t, true
		}
	}
	return FIFTag{}, false
}

// FindBlocks returns all blocks of the given kind below (and including) b,
// in file order.
func (b *FIFBlock) FindBlocks(kind int32) []*FIFBlock {
	var found []*FIFBlock
	if b.Kind == kind {
		found = append(found, b)
	}
	for _, child := range b.Children {
		found = append(found, child.FindBlocks(kind)...)
	}
	return found
}

// FIF represents a parsed FIF file held in memory.
type FIF struct {
	data []byte
	Tags []FIFTag
	Root *FIFBlock
}

// ParseFIF parses the tag structure of a FIF file from raw bytes.
// Tag payloads are decoded lazily through the Read* methods.
func ParseFIF(data []byte) (*FIF, error) {
	if len(data) < fifTagHeaderSize {
		return nil, ErrTruncatedFIFData
	}

	f := &FIF{
		data: data,
		Root: &FIFBlock{Kind: FIFFBRoot},
	}
	stack := []*FIFBlock{f.Root}

	pos := int64(0)
	for pos < int64(len(data)) {
		tag, err := readFIFTagHeader(data, pos)
		if err != nil {
			return nil, fmt.Errorf("tag at offset %d: %w", pos, err)
		}

		if len(f.Tags) == 0 && tag.Kind != FIFFFileID {
			return nil, ErrNotFIF
		}
		f.Tags = append(f.Tags, tag)

		current := stack[len(stack)-1]
		switch tag.Kind {
		case FIFFBlockStart:
			kind, err := f.ReadInt(tag)
			if err != nil {
				return nil, fmt.Errorf("reading block kind at offset %d: %w", pos, err)
			}
			block := &FIFBlock{Kind: kind}
			current.Children = append(current.Children, block)
			stack = append(stack, block)
		case FIFFBlockEnd:
			if len(stack) == 1 {
				return nil, fmt.Errorf("%w: block end at offset %d without start", ErrUnbalancedFIFBlocks, pos)
			}
			stack = stack[:len(stack)-1]
		default:
			current.Tags = append(current.Tags, tag)
		}

		switch {
		case tag.Next == FIFFNextSeq:
			pos = tag.Pos + int64(tag.Size)
		case tag.Next == FIFFNextNone:
			pos = int64(len(data))
		case int64(tag.Next) > pos:
			pos = int64(tag.Next)
		default:
			return nil, fmt.Errorf("%w: %d at offset %d", ErrInvalidFIFPointer, tag.Next, pos)
		}
	}

	if len(stack) != 1 {
		return nil, fmt.Errorf("%w: %d block(s) left open", ErrUnbalancedFIFBlocks, len(stack)-1)
	}

	return f, nil
}

// ParseFIFFile parses a FIF file from disk.
func ParseFIFFile(path string) (*FIF, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading FIF file: %w", err)
	}
	return ParseFIF(data)
}

func readFIFTagHeader(data []byte, pos int64) (FIFTag, error) {
	if pos+fifTagHeaderSize > int64(len(data)) {
		return FIFTag{}, fmt.Errorf("%w: tag header", ErrTruncatedFIFData)
	}
	h := data[pos : pos+fifTagHeaderSize]
	tag := FIFTag{
		Kind: int32(binary.BigEndian.Uint32(h[0:])),
		Type: binary.BigEndian.Uint32(h[4:]),
		Size: int32(binary.BigEndian.Uint32(h[8:])),
		Next: int32(binary.BigEndian.Uint32(h[12:])),
		Pos:  pos + fifTagHeaderSize,
	}
	if tag.Size < 0 || tag.Pos+int64(tag.Size) > int64(len(data)) {
		return FIFTag{}, fmt.Errorf("%w: payload of tag kind %d (%d bytes)", ErrTruncatedFIFData, tag.Kind, tag.Size)
	}
	return tag, nil
}

// Payload returns the raw payload bytes of a tag.
func (f *FIF) Payload(tag FIFTag) []byte {
	return f.data[tag.Pos : tag.Pos+int64(tag.Size)]
}

// ReadInt decodes a scalar int tag.
func (f *FIF) ReadInt(tag FIFTag) (int32, error) {
	values, err := f.ReadInts(tag)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: empty int tag %d", ErrTruncatedFIFData, tag.Kind)
	}
	return values[0], nil
}

// ReadInts decodes a one-dimensional int tag.
func (f *FIF) ReadInts(tag FIFTag) ([]int32, error) {
	if tag.IsMatrix() || tag.BaseType() != FIFFTInt {
		return nil, fmt.Errorf("%w: tag %d has type 0x%x, want int", ErrUnsupportedFIFType, tag.Kind, tag.Type)
	}
	p := f.Payload(tag)
	if len(p)%4 != 0 {
		return nil, fmt.Errorf("%w: int tag %d has %d bytes", ErrTruncatedFIFData, tag.Kind, len(p))
	}
	values := make([]int32, len(p)/4)
	for i := range values {
		values[i] = int32(binary.BigEndian.Uint32(p[i*4:]))
	}
	return values, nil
}

// ReadString decodes a string tag. FIF strings are Latin-1.
func (f *FIF) ReadString(tag FIFTag) (string, error) {
	if tag.IsMatrix() || tag.BaseType() != FIFFTString {
		return "", fmt.Errorf("%w: tag %d has type 0x%x, want string", ErrUnsupportedFIFType, tag.Kind, tag.Type)
	}
	return encoding.FIFString(f.Payload(tag)), nil
}

// matrixLayout splits a dense matrix payload into its element bytes and its
// dimensions. Dimensions are stored fastest-varying first, followed by the
// rank, so they are reversed here into row-major order.
func (f *FIF) matrixLayout(tag FIFTag) ([]byte, []int, error) {
	if tag.Type&fifMatrixMask != FIFFTMatrixDense {
		return nil, nil, fmt.Errorf("%w: tag %d coding 0x%x is not dense", ErrUnsupportedFIFType, tag.Kind, tag.Type&fifMatrixMask)
	}
	p := f.Payload(tag)
	if len(p) < 4 {
		return nil, nil, fmt.Errorf("%w: tag %d too short", ErrInvalidFIFMatrix, tag.Kind)
	}
	ndim := int(int32(binary.BigEndian.Uint32(p[len(p)-4:])))
	if ndim < 1 || (ndim+1)*4 > len(p) {
		return nil, nil, fmt.Errorf("%w: tag %d rank %d", ErrInvalidFIFMatrix, tag.Kind, ndim)
	}
	tail := p[len(p)-(ndim+1)*4 : len(p)-4]
	dims := make([]int, ndim)
	for i := 0; i < ndim; i++ {
		d := int(int32(binary.BigEndian.Uint32(tail[i*4:])))
		if d < 0 {
			return nil, nil, fmt.Errorf("%w: tag %d negative dimension %d", ErrInvalidFIFMatrix, tag.Kind, d)
		}
		dims[ndim-1-i] = d
	}
	return p[:len(p)-(ndim+1)*4], dims, nil
}

// ReadMatrix decodes a dense two-dimensional float, double or int matrix.
func (f *FIF) ReadMatrix(tag FIFTag) (*mat.Dense, error) {
	body, dims, err := f.matrixLayout(tag)
	if err != nil {
		return nil, err
	}
	if len(dims) != 2 {
		return nil, fmt.Errorf("%w: tag %d has rank %d, want 2", ErrInvalidFIFMatrix, tag.Kind, len(dims))
	}
	rows, cols := dims[0], dims[1]
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("%w: tag %d is empty (%dx%d)", ErrInvalidFIFMatrix, tag.Kind, rows, cols)
	}

	var size int
	switch tag.BaseType() {
	case FIFFTFloat, FIFFTInt:
		size = 4
	case FIFFTDouble:
		size = 8
	default:
		return nil, fmt.Errorf("%w: matrix tag %d element type %d", ErrUnsupportedFIFType, tag.Kind, tag.BaseType())
	}
	if rows > len(body)/(cols*size) || len(body) != rows*cols*size {
		return nil, fmt.Errorf("%w: tag %d has %d bytes for %dx%d elements of %d bytes", ErrInvalidFIFMatrix, tag.Kind, len(body), rows, cols, size)
	}

	values := make([]float64, rows*cols)
	switch tag.BaseType() {
	case FIFFTFloat:
		for i := range values {
			values[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(body[i*4:])))
		}
	case FIFFTDouble:
		for i := range values {
			values[i] = math.Float64frombits(binary.BigEndian.Uint64(body[i*8:]))
		}
	case FIFFTInt:
		for i := range values {
			values[i] = float64(int32(binary.BigEndian.Uint32(body[i*4:])))
		}
	}

	return mat.NewDense(rows, cols, values), nil
}

// ReadIntMatrix decodes a dense two-dimensional int matrix in row-major order.
func (f *FIF) ReadIntMatrix(tag FIFTag) (rows, cols int, values []int32, err error) {
	body, dims, err := f.matrixLayout(tag)
	if err != nil {
		return 0, 0, nil, err
	}
	if len(dims) != 2 {
		return 0, 0, nil, fmt.Errorf("%w: tag %d has rank %d, want 2", ErrInvalidFIFMatrix, tag.Kind, len(dims))
	}
	if tag.BaseType() != FIFFTInt {
		return 0, 0, nil, fmt.Errorf("%w: matrix tag %d element type %d, want int", ErrUnsupportedFIFType, tag.Kind, tag.BaseType())
	}
	rows, cols = dims[0], dims[1]
	if (cols != 0 && rows > len(body)/(cols*4)) || len(body) != rows*cols*4 {
		return 0, 0, nil, fmt.Errorf("%w: tag %d has %d bytes for %dx%d int32", ErrInvalidFIFMatrix, tag.Kind, len(body), rows, cols)
	}
	values = make([]int32, rows*cols)
	for i := range values {
		values[i] = int32(binary.BigEndian.Uint32(body[i*4:]))
	}
	return rows, cols, values, nil
}
