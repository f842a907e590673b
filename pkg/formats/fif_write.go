// Package formats provides parsers and writers for the neuroimaging file formats
// handled by stc2gii.
// Minimal FIF writer for MNE source space files.
package formats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/Faultbox/stc2gii/pkg/encoding"
)

// fifFileVersion is the FIFF_FILE_ID version word written by MNE (1.3).
const fifFileVersion = 0x00010003

// fifWriter accumulates big-endian FIF tags in memory.
type fifWriter struct {
	buf bytes.Buffer
}

func (w *fifWriter) tag(kind int32, typ uint32, payload []byte, next int32) {
	binary.Write(&w.buf, binary.BigEndian, kind)
	binary.Write(&w.buf, binary.BigEndian, typ)
	binary.Write(&w.buf, binary.BigEndian, int32(len(payload)))
	binary.Write(&w.buf, binary.BigEndian, next)
	w.buf.Write(payload)
}

func (w *fifWriter) ints(kind int32, values ...int32) {
	payload := make([]byte, 4*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint32(payload[i*4:], uint32(v))
	}
	w.tag(kind, FIFFTInt, payload, FIFFNextSeq)
}

func (w *fifWriter) str(kind int32, s string) {
	w.tag(kind, FIFFTString, encoding.UTF8ToLatin1(s), FIFFNextSeq)
}

// matrix writes a dense row-major matrix followed by its reversed
// dimensions and rank.
func (w *fifWriter) matrix(kind int32, base uint32, rows, cols int, body []byte) {
	payload := make([]byte, 0, len(body)+12)
	payload = append(payload, body...)
	payload = binary.BigEndian.AppendUint32(payload, uint32(cols))
	payload = binary.BigEndian.AppendUint32(payload, uint32(rows))
	payload = binary.BigEndian.AppendUint32(payload, 2)
	w.tag(kind, FIFFTMatrixDense|base, payload, FIFFNextSeq)
}

func (w *fifWriter) startBlock(kind int32) { w.ints(FIFFBlockStart, kind) }
func (w *fifWriter) endBlock(kind int32)   { w.ints(FIFFBlockEnd, kind) }

func (w *fifWriter) fileID(now time.Time) {
	payload := make([]byte, 20)
	binary.BigEndian.PutUint32(payload[0:], fifFileVersion)
	binary.BigEndian.PutUint32(payload[12:], uint32(now.Unix()))
	binary.BigEndian.PutUint32(payload[16:], uint32(now.Nanosecond()/1000))
	w.tag(FIFFFileID, FIFFTIDStruct, payload, FIFFNextSeq)
}

// EncodeSourceSpaces serializes source spaces into a FIF file that
// ParseFIF and the MNE readers accept. Points and normals are stored as
// float32, triangles 1-based.
func EncodeSourceSpaces(spaces []SourceSpace) ([]byte, error) {
	w := &fifWriter{}
	w.fileID(time.Now())
	w.ints(FIFFDirPointer, -1)

	w.startBlock(FIFFBMNE)
	for i := range spaces {
		if err := w.sourceSpace(&spaces[i]); err != nil {
			return nil, fmt.Errorf("source space %d: %w", i, err)
		}
	}
	w.endBlock(FIFFBMNE)
	w.tag(FIFFNop, FIFFTVoid, nil, FIFFNextNone)

	return w.buf.Bytes(), nil
}

// WriteSourceSpacesFile writes source spaces to a FIF file on disk.
func WriteSourceSpacesFile(path string, spaces []SourceSpace) error {
	data, err := EncodeSourceSpaces(spaces)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (w *fifWriter) sourceSpace(s *SourceSpace) error {
	if s.Points == nil {
		return fmt.Errorf("%w: points", ErrMissingFIFTag)
	}
	rows, cols := s.Points.Dims()
	if rows != s.NumPoints || cols != 3 {
		return fmt.Errorf("%w: points are %dx%d for %d points", ErrInvalidSourceSpace, rows, cols, s.NumPoints)
	}

	w.startBlock(FIFFBMNESourceSpace)
	w.ints(FIFFMNESourceSpaceType, int32(s.Type))
	w.ints(FIFFMNESourceSpaceID, s.ID)
	if s.SubjectHisID != "" {
		w.str(FIFFSubjHisID, s.SubjectHisID)
	}
	w.ints(FIFFMNECoordFrame, s.CoordFrame)
	w.ints(FIFFMNESourceSpaceNPoints, int32(s.NumPoints))
	w.float32Matrix(FIFFMNESourceSpacePoints, s.Points)
	if s.Normals != nil {
		w.float32Matrix(FIFFMNESourceSpaceNormals, s.Normals)
	}
	if len(s.Triangles) > 0 {
		w.ints(FIFFMNESourceSpaceNTri, int32(len(s.Triangles)))
		w.triangles(FIFFMNESourceSpaceTriangles, s.Triangles)
	}

	w.ints(FIFFMNESourceSpaceNUse, int32(len(s.Vertno)))
	if len(s.Vertno) > 0 {
		inuse := make([]int32, s.NumPoints)
		for _, v := range s.Vertno {
			if v < 0 || v >= s.NumPoints {
				return fmt.Errorf("%w: vertno %d outside %d points", ErrInvalidSourceSpace, v, s.NumPoints)
			}
			inuse[v] = 1
		}
		w.ints(FIFFMNESourceSpaceSelection, inuse...)
	}
	if len(s.UseTriangles) > 0 {
		w.ints(FIFFMNESourceSpaceNUseTri, int32(len(s.UseTriangles)))
		w.triangles(FIFFMNESourceSpaceUseTriangles, s.UseTriangles)
	}
	w.endBlock(FIFFBMNESourceSpace)
	return nil
}

func (w *fifWriter) float32Matrix(kind int32, m mat.Matrix) {
	rows, cols := m.Dims()
	body := make([]byte, 0, rows*cols*4)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			body = binary.BigEndian.AppendUint32(body, math.Float32bits(float32(m.At(i, j))))
		}
	}
	w.matrix(kind, FIFFTFloat, rows, cols, body)
}

func (w *fifWriter) triangles(kind int32, tris [][3]int32) {
	body := make([]byte, 0, len(tris)*12)
	for _, t := range tris {
		for _, v := range t {
			body = binary.BigEndian.AppendUint32(body, uint32(v+1))
		}
	}
	w.matrix(kind, FIFFTInt, len(tris), 3, body)
}
