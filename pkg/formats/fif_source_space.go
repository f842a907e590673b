// Package formats provides parsers and writers for the neuroimaging file formats
// handled by stc2gii.
// MNE source space extraction from FIF files.
package formats

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Source space errors.
var (
	ErrMissingFIFTag       = errors.New("missing required FIF tag")
	ErrInvalidSourceSpace  = errors.New("invalid source space")
	ErrMissingUseTriangles = errors.New("surface source space has no decimated triangles")
	ErrNoSourceSpaces      = errors.New("FIF file contains no source spaces")
)

// SourceSpaceType is the kind of an MNE source space.
type SourceSpaceType int32

const (
	SourceSpaceSurface  SourceSpaceType = 1
	SourceSpaceVolume   SourceSpaceType = 2
	SourceSpaceDiscrete SourceSpaceType = 3
)

// String returns the MNE name of the source space type.
func (t SourceSpaceType) String() string {
	switch t {
	case SourceSpaceSurface:
		return "surf"
	case SourceSpaceVolume:
		return "vol"
	case SourceSpaceDiscrete:
		return "discrete"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(t))
	}
}

// Surface IDs stored in FIFF_MNE_SOURCE_SPACE_ID.
const (
	FIFFVMNESurfUnknown   = -1
	FIFFVMNESurfLeftHemi  = 101
	FIFFVMNESurfRightHemi = 102
)

// SourceSpace is one source space entry of an MNE source space file.
type SourceSpace struct {
	Type       SourceSpaceType
	ID         int32
	CoordFrame int32

	NumPoints int
	Points    *mat.Dense // NumPoints x 3, meters
	Normals   *mat.Dense // NumPoints x 3, nil when absent

	Triangles [][3]int32 // Full-resolution triangles, 0-based

	Vertno       []int      // Active vertex indices in ascending order
	UseTriangles [][3]int32 // Decimated triangles, 0-based original indices

	SubjectHisID string
}

// Hemisphere maps the surface ID to a hemisphere.
func (s *SourceSpace) Hemisphere() Hemisphere {
	switch s.ID {
	case FIFFVMNESurfLeftHemi:
		return HemisphereLeft
	case FIFFVMNESurfRightHemi:
		return HemisphereRight
	default:
		return HemisphereUnknown
	}
}

// NumUsed returns the number of active vertices.
func (s *SourceSpace) NumUsed() int {
	return len(s.Vertno)
}

// SourceSpaces extracts every source space block of the file, in file order.
func (f *FIF) SourceSpaces() ([]SourceSpace, error) {
	blocks := f.Root.FindBlocks(FIFFBMNESourceSpace)
	if len(blocks) == 0 {
		return nil, ErrNoSourceSpaces
	}

	spaces := make([]SourceSpace, 0, len(blocks))
	for i, b := range blocks {
		s, err := f.parseSourceSpace(b)
		if err != nil {
			return nil, fmt.Errorf("source space %d: %w", i, err)
		}
		spaces = append(spaces, *s)
	}
	return spaces, nil
}

// ReadSourceSpacesFile parses a FIF file from disk and returns its source spaces.
func ReadSourceSpacesFile(path string) ([]SourceSpace, error) {
	f, err := ParseFIFFile(path)
	if err != nil {
		return nil, err
	}
	return f.SourceSpaces()
}

func (f *FIF) optionalInt(b *FIFBlock, kind int32, fallback int32) (int32, error) {
	tag, ok := b.Find(kind)
	if !ok {
		return fallback, nil
	}
	return f.ReadInt(tag)
}

func (f *FIF) parseSourceSpace(b *FIFBlock) (*SourceSpace, error) {
	s := &SourceSpace{}

	// Type defaults to a surface when the tag is absent
	typ, err := f.optionalInt(b, FIFFMNESourceSpaceType, int32(SourceSpaceSurface))
	if err != nil {
		return nil, fmt.Errorf("reading type: %w", err)
	}
	s.Type = SourceSpaceType(typ)

	if s.ID, err = f.optionalInt(b, FIFFMNESourceSpaceID, FIFFVMNESurfUnknown); err != nil {
		return nil, fmt.Errorf("reading id: %w", err)
	}
	if s.CoordFrame, err = f.optionalInt(b, FIFFMNECoordFrame, 0); err != nil {
		return nil, fmt.Errorf("reading coordinate frame: %w", err)
	}

	tag, ok := b.Find(FIFFMNESourceSpaceNPoints)
	if !ok {
		return nil, fmt.Errorf("%w: npoints", ErrMissingFIFTag)
	}
	np, err := f.ReadInt(tag)
	if err != nil {
		return nil, fmt.Errorf("reading npoints: %w", err)
	}
	if np < 0 {
		return nil, fmt.Errorf("%w: npoints %d", ErrInvalidSourceSpace, np)
	}
	s.NumPoints = int(np)

	tag, ok = b.Find(FIFFMNESourceSpacePoints)
	if !ok {
		return nil, fmt.Errorf("%w: points", ErrMissingFIFTag)
	}
	if s.Points, err = f.readVertexMatrix(tag, s.NumPoints); err != nil {
		return nil, fmt.Errorf("reading points: %w", err)
	}

	if tag, ok = b.Find(FIFFMNESourceSpaceNormals); ok {
		if s.Normals, err = f.readVertexMatrix(tag, s.NumPoints); err != nil {
			return nil, fmt.Errorf("reading normals: %w", err)
		}
	}

	if tag, ok = b.Find(FIFFMNESourceSpaceTriangles); ok {
		if s.Triangles, err = f.readTriangles(tag); err != nil {
			return nil, fmt.Errorf("reading triangles: %w", err)
		}
	}

	nuse, err := f.optionalInt(b, FIFFMNESourceSpaceNUse, 0)
	if err != nil {
		return nil, fmt.Errorf("reading nuse: %w", err)
	}
	if nuse > 0 {
		tag, ok = b.Find(FIFFMNESourceSpaceSelection)
		if !ok {
			return nil, fmt.Errorf("%w: selection", ErrMissingFIFTag)
		}
		inuse, err := f.ReadInts(tag)
		if err != nil {
			return nil, fmt.Errorf("reading selection: %w", err)
		}
		if len(inuse) != s.NumPoints {
			return nil, fmt.Errorf("%w: selection has %d entries for %d points", ErrInvalidSourceSpace, len(inuse), s.NumPoints)
		}
		for i, used := range inuse {
			if used != 0 {
				s.Vertno = append(s.Vertno, i)
			}
		}
		if len(s.Vertno) != int(nuse) {
			return nil, fmt.Errorf("%w: nuse is %d but %d vertices are selected", ErrInvalidSourceSpace, nuse, len(s.Vertno))
		}
	}

	if tag, ok = b.Find(FIFFMNESourceSpaceUseTriangles); ok {
		if s.UseTriangles, err = f.readTriangles(tag); err != nil {
			return nil, fmt.Errorf("reading use_tris: %w", err)
		}
	} else if s.Type == SourceSpaceSurface {
		// A surface with every vertex in use keeps its full triangulation
		if s.NumPoints > 0 && len(s.Vertno) == s.NumPoints && len(s.Triangles) > 0 {
			s.UseTriangles = s.Triangles
		} else {
			return nil, ErrMissingUseTriangles
		}
	}

	if tag, ok = b.Find(FIFFSubjHisID); ok {
		if s.SubjectHisID, err = f.ReadString(tag); err != nil {
			return nil, fmt.Errorf("reading subject id: %w", err)
		}
	}

	return s, nil
}

func (f *FIF) readVertexMatrix(tag FIFTag, np int) (*mat.Dense, error) {
	m, err := f.ReadMatrix(tag)
	if err != nil {
		return nil, err
	}
	rows, cols := m.Dims()
	if rows != np || cols != 3 {
		return nil, fmt.Errorf("%w: got %dx%d, want %dx3", ErrInvalidSourceSpace, rows, cols, np)
	}
	return m, nil
}

// readTriangles decodes a 1-based triangle matrix into 0-based triples.
func (f *FIF) readTriangles(tag FIFTag) ([][3]int32, error) {
	rows, cols, values, err := f.ReadIntMatrix(tag)
	if err != nil {
		return nil, err
	}
	if cols != 3 {
		return nil, fmt.Errorf("%w: triangle matrix has %d columns", ErrInvalidSourceSpace, cols)
	}
	tris := make([][3]int32, rows)
	for i := range tris {
		tris[i] = [3]int32{values[i*3] - 1, values[i*3+1] - 1, values[i*3+2] - 1}
	}
	return tris, nil
}
