// Package surface compacts decimated source space surfaces into standalone
// meshes over their active vertices.
package surface

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/Faultbox/stc2gii/pkg/formats"
)

// Reindexing errors.
var (
	ErrNotSurface       = errors.New("source space is not a surface")
	ErrInactiveVertex   = errors.New("decimated triangle references an inactive vertex")
	ErrVertexOutOfRange = errors.New("vertex index outside the source space")
)

// inactive marks original vertices with no compacted index.
const inactive = -1

// Compacted is a decimated surface whose triangles index its own vertex
// list. Row i of Coords is original vertex Vertno[i].
type Compacted struct {
	Coords     *mat.Dense // K x 3
	Triangles  [][3]int32 // Indices in [0, K)
	Vertno     []int
	Hemisphere formats.Hemisphere
	SubjectID  string
}

// NumVertices returns K.
func (c *Compacted) NumVertices() int {
	return len(c.Vertno)
}

// Decimate gathers the active vertices of a surface source space and
// rewrites its decimated triangles against them. src is not modified.
func Decimate(src *formats.SourceSpace) (*Compacted, error) {
	if src.Type != formats.SourceSpaceSurface {
		return nil, fmt.Errorf("%w: type %s", ErrNotSurface, src.Type)
	}

	n := src.NumPoints
	if src.Points == nil {
		return nil, fmt.Errorf("%w: no points", formats.ErrInvalidSourceSpace)
	}
	if r, c := src.Points.Dims(); r != n || c != 3 {
		return nil, fmt.Errorf("%w: points are %dx%d for %d vertices", formats.ErrInvalidSourceSpace, r, c, n)
	}

	k := len(src.Vertno)
	reindex := make([]int32, n)
	for i := range reindex {
		reindex[i] = inactive
	}

	coords := &mat.Dense{}
	if k > 0 {
		coords = mat.NewDense(k, 3, nil)
	}
	for i, v := range src.Vertno {
		if v < 0 || v >= n {
			return nil, fmt.Errorf("%w: vertno[%d] = %d, %d vertices", ErrVertexOutOfRange, i, v, n)
		}
		reindex[v] = int32(i)
		coords.SetRow(i, mat.Row(nil, v, src.Points))
	}

	tris := make([][3]int32, len(src.UseTriangles))
	for t, tri := range src.UseTriangles {
		for c, v := range tri {
			if v < 0 || int(v) >= n {
				return nil, fmt.Errorf("%w: triangle %d corner %d = %d, %d vertices", ErrVertexOutOfRange, t, c, v, n)
			}
			idx := reindex[v]
			if idx == inactive {
				return nil, fmt.Errorf("%w: triangle %d uses vertex %d", ErrInactiveVertex, t, v)
			}
			tris[t][c] = idx
		}
	}

	return &Compacted{
		Coords:     coords,
		Triangles:  tris,
		Vertno:     append([]int(nil), src.Vertno...),
		Hemisphere: src.Hemisphere(),
		SubjectID:  src.SubjectHisID,
	}, nil
}

// DecimatedSurfaces compacts every surface entry of spaces in order,
// skipping volume and discrete source spaces.
func DecimatedSurfaces(spaces []formats.SourceSpace) ([]*Compacted, error) {
	var out []*Compacted
	for i := range spaces {
		if spaces[i].Type != formats.SourceSpaceSurface {
			continue
		}
		c, err := Decimate(&spaces[i])
		if err != nil {
			return nil, fmt.Errorf("source space %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Scaled returns a copy of c with coordinates multiplied by factor.
func (c *Compacted) Scaled(factor float64) *Compacted {
	out := *c
	if c.NumVertices() > 0 {
		coords := mat.DenseCopyOf(c.Coords)
		coords.Scale(factor, coords)
		out.Coords = coords
	}
	return &out
}

// Float32Coords returns the coordinates as a row-major float32 slice.
func (c *Compacted) Float32Coords() []float32 {
	k := c.NumVertices()
	out := make([]float32, 0, k*3)
	for i := 0; i < k; i++ {
		for j := 0; j < 3; j++ {
			out = append(out, float32(c.Coords.At(i, j)))
		}
	}
	return out
}
