// Package assemble turns compacted surfaces and their source estimates into
// GIFTI geometry and time-series images.
package assemble

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/Faultbox/stc2gii/internal/surface"
	"github.com/Faultbox/stc2gii/pkg/formats"
)

// Input validation errors. All are reported before any file is written.
var (
	ErrSurfaceCount        = errors.New("need exactly two surfaces in source space")
	ErrSeriesCount         = errors.New("need exactly two source estimates")
	ErrVertexCountMismatch = errors.New("source estimate and surface vertex counts differ")
	ErrVertexOrderMismatch = errors.New("source estimate vertices do not match surface vertices")
	ErrTimeCountMismatch   = errors.New("hemispheres have different numbers of time samples")
)

// Metadata names written to every image.
const (
	MetaAnatomicalStructure = "AnatomicalStructurePrimary"
	MetaSubjectID           = "SubjectID"
	MetaUniqueID            = "UniqueID"
	MetaTime                = "Time"
)

// hemispheres lists the positional hemisphere of each input slot.
var hemispheres = [2]formats.Hemisphere{formats.HemisphereLeft, formats.HemisphereRight}

// Scale holds the linear factors applied before serialization.
type Scale struct {
	Coordinates float64
	Values      float64
}

// DefaultScale converts meters to millimeters and leaves values unchanged.
func DefaultScale() Scale {
	return Scale{Coordinates: 1e3, Values: 1.0}
}

// Options tunes the output images.
type Options struct {
	Encoding formats.GIFTIEncoding // Defaults to GZipBase64Binary
	Logger   *zap.Logger           // Defaults to a no-op logger
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Images holds the four output images, indexed left then right.
type Images struct {
	Geometry [2]*formats.GIFTI
	Time     [2]*formats.GIFTI
}

// OutputPaths returns the four file names for basename in write order:
// left geometry, right geometry, left time series, right time series.
func OutputPaths(basename string) []string {
	return []string{
		basename + "-lh.gii",
		basename + "-rh.gii",
		basename + "-lh.time.gii",
		basename + "-rh.time.gii",
	}
}

// Validate checks the counts and shapes of the inputs. Slot 0 is the left
// hemisphere and slot 1 the right one.
func Validate(surfaces []*surface.Compacted, series []*formats.STC) error {
	if len(surfaces) != 2 {
		return fmt.Errorf("%w: found %d", ErrSurfaceCount, len(surfaces))
	}
	if len(series) != 2 {
		return fmt.Errorf("%w: found %d", ErrSeriesCount, len(series))
	}

	for h := range hemispheres {
		k := surfaces[h].NumVertices()
		if rows := series[h].NumVertices(); rows != k {
			return fmt.Errorf("%w: %s surface has %d vertices, source estimate has %d",
				ErrVertexCountMismatch, hemispheres[h], k, rows)
		}
		if series[h].Vertices != nil && !slices.Equal(series[h].Vertices, surfaces[h].Vertno) {
			return fmt.Errorf("%w: %s", ErrVertexOrderMismatch, hemispheres[h])
		}
	}

	if lt, rt := series[0].NumTimes(), series[1].NumTimes(); lt != rt {
		return fmt.Errorf("%w: lh has %d, rh has %d", ErrTimeCountMismatch, lt, rt)
	}
	return nil
}

// Build validates the inputs and assembles the four images in memory.
// Neither surfaces nor series are modified.
func Build(surfaces []*surface.Compacted, series []*formats.STC, scale Scale, opts Options) (*Images, error) {
	if err := Validate(surfaces, series); err != nil {
		return nil, err
	}
	log := opts.logger()

	imgs := &Images{}
	for h, hemi := range hemispheres {
		// Slots are positional; a mislabelled input is converted as given.
		if got := surfaces[h].Hemisphere; got != formats.HemisphereUnknown && got != hemi {
			log.Warn("surface hemisphere does not match its position",
				zap.Stringer("position", hemi), zap.Stringer("surface", got))
		}
		if got := series[h].Hemisphere; got != formats.HemisphereUnknown && got != hemi {
			log.Warn("source estimate file name does not match its position",
				zap.Stringer("position", hemi), zap.Stringer("file", got))
		}

		imgs.Geometry[h] = geometryImage(surfaces[h].Scaled(scale.Coordinates), imageMeta(hemi, surfaces[h].SubjectID), opts.Encoding)
		imgs.Time[h] = timeImage(series[h], scale.Values, imageMeta(hemi, surfaces[h].SubjectID), opts.Encoding)

		log.Debug("assembled hemisphere",
			zap.Stringer("hemisphere", hemi),
			zap.Int("vertices", surfaces[h].NumVertices()),
			zap.Int("triangles", len(surfaces[h].Triangles)),
			zap.Int("times", series[h].NumTimes()))
	}
	return imgs, nil
}

// Assemble builds the images and writes them next to basename. Files are
// written in OutputPaths order and existing files are replaced. A failed
// write leaves earlier files in place.
func Assemble(surfaces []*surface.Compacted, series []*formats.STC, basename string, scale Scale, opts Options) ([]string, error) {
	imgs, err := Build(surfaces, series, scale, opts)
	if err != nil {
		return nil, err
	}

	paths := OutputPaths(basename)
	ordered := []*formats.GIFTI{imgs.Geometry[0], imgs.Geometry[1], imgs.Time[0], imgs.Time[1]}
	log := opts.logger()
	for i, g := range ordered {
		if err := formats.WriteGIFTIFile(paths[i], g); err != nil {
			return paths[:i], fmt.Errorf("writing %s: %w", paths[i], err)
		}
		log.Info("wrote GIFTI", zap.String("path", paths[i]), zap.Int("arrays", len(g.DataArrays)))
	}
	return paths, nil
}

func imageMeta(hemi formats.Hemisphere, subject string) formats.MetaData {
	meta := formats.MetaData{{Name: MetaAnatomicalStructure, Value: hemi.AnatomicalStructure()}}
	if subject != "" {
		meta = append(meta, formats.MetaEntry{Name: MetaSubjectID, Value: subject})
	}
	return append(meta, formats.MetaEntry{Name: MetaUniqueID, Value: uuid.NewString()})
}

func geometryImage(c *surface.Compacted, meta formats.MetaData, enc formats.GIFTIEncoding) *formats.GIFTI {
	coords := formats.NewPointSetArray(c.NumVertices(), 3, c.Float32Coords())
	coords.Encoding = enc
	tris := formats.NewTriangleArray(c.Triangles)
	tris.Encoding = enc

	return &formats.GIFTI{
		MetaData:   meta,
		DataArrays: []formats.GIFTIDataArray{coords, tris},
	}
}

// timeImage emits one K-vector per time sample, in ascending time order.
func timeImage(s *formats.STC, factor float64, meta formats.MetaData, enc formats.GIFTIEncoding) *formats.GIFTI {
	times := s.Times()
	arrays := make([]formats.GIFTIDataArray, 0, len(times))
	for t := range times {
		column := mat.Col(nil, t, s.Data)
		floats.Scale(factor, column)

		a := formats.NewPointSetVector(toFloat32(column))
		a.Encoding = enc
		a.MetaData = formats.MetaData{{Name: MetaTime, Value: strconv.FormatFloat(times[t], 'g', -1, 64)}}
		arrays = append(arrays, a)
	}
	return &formats.GIFTI{MetaData: meta, DataArrays: arrays}
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}
