package convert

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/Faultbox/stc2gii/internal/assemble"
	"github.com/Faultbox/stc2gii/pkg/formats"
)

// createTestSourceSpace returns a six-vertex surface where vertex v sits at
// (v, v, v) millimeters, stored in meters.
func createTestSourceSpace(id int32) formats.SourceSpace {
	points := mat.NewDense(6, 3, nil)
	for v := 0; v < 6; v++ {
		mm := float64(v) / 1000
		points.SetRow(v, []float64{mm, mm, mm})
	}
	return formats.SourceSpace{
		Type:         formats.SourceSpaceSurface,
		ID:           id,
		NumPoints:    6,
		Points:       points,
		Triangles:    [][3]int32{{0, 1, 2}, {2, 3, 4}, {3, 4, 5}},
		Vertno:       []int{0, 2, 4, 5},
		UseTriangles: [][3]int32{{0, 2, 4}, {2, 4, 5}},
	}
}

type fixture struct {
	dir   string
	fif   string
	left  string
	right string
}

func createFixture(t *testing.T, spaces []formats.SourceSpace, times int) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:   dir,
		fif:   filepath.Join(dir, "sample-oct-6-src.fif"),
		left:  filepath.Join(dir, "sample-lh.stc"),
		right: filepath.Join(dir, "sample-rh.stc"),
	}
	require.NoError(t, formats.WriteSourceSpacesFile(f.fif, spaces))

	for i, path := range []string{f.left, f.right} {
		data := mat.NewDense(4, times, nil)
		for v := 0; v < 4; v++ {
			for ti := 0; ti < times; ti++ {
				data.Set(v, ti, float64(100*i+10*v+ti))
			}
		}
		stc := &formats.STC{Tmin: 0, Tstep: 0.01, Vertices: []int{0, 2, 4, 5}, Data: data}
		require.NoError(t, formats.WriteSTCFile(path, stc))
	}
	return f
}

func (f fixture) request() Request {
	return Request{
		SourceSpacePath: f.fif,
		LeftSTCPath:     f.left,
		RightSTCPath:    f.right,
		Basename:        filepath.Join(f.dir, "out"),
		Scale:           assemble.DefaultScale(),
	}
}

func TestRun_EndToEnd(t *testing.T) {
	f := createFixture(t, []formats.SourceSpace{
		createTestSourceSpace(formats.FIFFVMNESurfLeftHemi),
		createTestSourceSpace(formats.FIFFVMNESurfRightHemi),
	}, 3)

	res, err := Run(context.Background(), f.request(), nil)
	require.NoError(t, err)
	assert.Equal(t, assemble.OutputPaths(filepath.Join(f.dir, "out")), res.Paths)
	assert.Equal(t, [2]int{4, 4}, res.Vertices)
	assert.Equal(t, [2]int{2, 2}, res.Triangles)
	assert.Equal(t, 3, res.Times)

	lh, err := formats.ParseGIFTIFile(res.Paths[0])
	require.NoError(t, err)
	tris, err := lh.DataArrays[1].Triangles()
	require.NoError(t, err)
	assert.Equal(t, [][3]int32{{0, 1, 2}, {1, 2, 3}}, tris)

	// Vertex 4 at 4 mm after the default meters to millimeters scale
	coords := lh.DataArrays[0].Float32
	assert.InDelta(t, 4.0, coords[2*3], 1e-4)
	assert.InDelta(t, 5.0, coords[3*3+2], 1e-4)

	rhTime, err := formats.ParseGIFTIFile(res.Paths[3])
	require.NoError(t, err)
	require.Len(t, rhTime.DataArrays, 3)
	assert.Equal(t, []float32{101, 111, 121, 131}, rhTime.DataArrays[1].Float32)
}

func TestRun_SkipsVolumeSourceSpaces(t *testing.T) {
	vol := createTestSourceSpace(formats.FIFFVMNESurfUnknown)
	vol.Type = formats.SourceSpaceVolume
	vol.Triangles = nil
	vol.UseTriangles = nil

	f := createFixture(t, []formats.SourceSpace{
		createTestSourceSpace(formats.FIFFVMNESurfLeftHemi),
		vol,
		createTestSourceSpace(formats.FIFFVMNESurfRightHemi),
	}, 1)

	res, err := Run(context.Background(), f.request(), nil)
	require.NoError(t, err)
	assert.Len(t, res.Paths, 4)
}

func TestRun_SingleSurfaceWritesNothing(t *testing.T) {
	f := createFixture(t, []formats.SourceSpace{
		createTestSourceSpace(formats.FIFFVMNESurfLeftHemi),
	}, 1)

	_, err := Run(context.Background(), f.request(), nil)
	assert.ErrorIs(t, err, assemble.ErrSurfaceCount)

	for _, path := range assemble.OutputPaths(filepath.Join(f.dir, "out")) {
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr), "%s should not exist", path)
	}
}

func TestRun_MissingSourceEstimate(t *testing.T) {
	f := createFixture(t, []formats.SourceSpace{
		createTestSourceSpace(formats.FIFFVMNESurfLeftHemi),
		createTestSourceSpace(formats.FIFFVMNESurfRightHemi),
	}, 1)
	require.NoError(t, os.Remove(f.right))

	_, err := Run(context.Background(), f.request(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), f.right)
}

func TestRun_CorruptSourceSpace(t *testing.T) {
	f := createFixture(t, []formats.SourceSpace{
		createTestSourceSpace(formats.FIFFVMNESurfLeftHemi),
	}, 1)
	require.NoError(t, os.WriteFile(f.fif, make([]byte, 32), 0644))

	_, err := Run(context.Background(), f.request(), nil)
	assert.ErrorIs(t, err, formats.ErrNotFIF)
}

func TestRun_Cancelled(t *testing.T) {
	f := createFixture(t, []formats.SourceSpace{
		createTestSourceSpace(formats.FIFFVMNESurfLeftHemi),
		createTestSourceSpace(formats.FIFFVMNESurfRightHemi),
	}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, f.request(), nil)
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3) // inputs only
}

func TestLoadSeries_KeepsOrder(t *testing.T) {
	f := createFixture(t, []formats.SourceSpace{
		createTestSourceSpace(formats.FIFFVMNESurfLeftHemi),
	}, 2)

	series, err := loadSeries(context.Background(), []string{f.right, f.left})
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, formats.HemisphereRight, series[0].Hemisphere)
	assert.Equal(t, 100.0, series[0].Data.At(0, 0))
	assert.Equal(t, formats.HemisphereLeft, series[1].Hemisphere)
}
