// Package convert runs the source space and source estimate to GIFTI
// conversion end to end.
package convert

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/stc2gii/internal/assemble"
	"github.com/Faultbox/stc2gii/internal/surface"
	"github.com/Faultbox/stc2gii/pkg/formats"
)

// Request names the inputs and output basename of one conversion.
type Request struct {
	SourceSpacePath string
	LeftSTCPath     string
	RightSTCPath    string
	Basename        string

	Scale    assemble.Scale
	Encoding formats.GIFTIEncoding
}

// Result reports what a conversion produced.
type Result struct {
	Paths     []string
	Vertices  [2]int
	Triangles [2]int
	Times     int
	Elapsed   time.Duration
}

// Run loads the source space, compacts its surfaces, loads both source
// estimates and writes the four GIFTI files. ctx is checked between stages.
func Run(ctx context.Context, req Request, log *zap.Logger) (*Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	start := time.Now()

	log.Info("reading source space", zap.String("path", req.SourceSpacePath))
	spaces, err := formats.ReadSourceSpacesFile(req.SourceSpacePath)
	if err != nil {
		return nil, fmt.Errorf("reading source space %s: %w", req.SourceSpacePath, err)
	}
	for i := range spaces {
		log.Debug("source space",
			zap.Int("index", i),
			zap.Stringer("type", spaces[i].Type),
			zap.Stringer("hemisphere", spaces[i].Hemisphere()),
			zap.Int("points", spaces[i].NumPoints),
			zap.Int("used", spaces[i].NumUsed()))
	}

	surfaces, err := surface.DecimatedSurfaces(spaces)
	if err != nil {
		return nil, fmt.Errorf("compacting %s: %w", req.SourceSpacePath, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	series, err := loadSeries(ctx, []string{req.LeftSTCPath, req.RightSTCPath})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	paths, err := assemble.Assemble(surfaces, series, req.Basename, req.Scale, assemble.Options{
		Encoding: req.Encoding,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		Paths:   paths,
		Times:   series[0].NumTimes(),
		Elapsed: time.Since(start),
	}
	for h := range surfaces {
		res.Vertices[h] = surfaces[h].NumVertices()
		res.Triangles[h] = len(surfaces[h].Triangles)
	}

	log.Info("conversion complete",
		zap.Ints("vertices", res.Vertices[:]),
		zap.Ints("triangles", res.Triangles[:]),
		zap.Int("times", res.Times),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// loadSeries reads the source estimates concurrently. The result keeps the
// order of paths.
func loadSeries(ctx context.Context, paths []string) ([]*formats.STC, error) {
	series := make([]*formats.STC, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := formats.ParseSTCFile(path)
			if err != nil {
				return fmt.Errorf("reading source estimate %s: %w", path, err)
			}
			series[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return series, nil
}
