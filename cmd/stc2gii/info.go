package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/Faultbox/stc2gii/pkg/formats"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>",
		Short: "Summarize a .fif source space, .stc estimate or .gii file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printInfo(cmd.OutOrStdout(), args[0])
		},
	}
}

func printInfo(w io.Writer, path string) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".fif":
		return infoFIF(w, path)
	case ".stc":
		return infoSTC(w, path)
	case ".gii":
		return infoGIFTI(w, path)
	default:
		return fmt.Errorf("%w: %s (want .fif, .stc or .gii)", ErrBadExtension, path)
	}
}

func infoFIF(w io.Writer, path string) error {
	spaces, err := formats.ReadSourceSpacesFile(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Source space: %s\n", path)
	fmt.Fprintf(w, "Entries:      %d\n", len(spaces))
	for i := range spaces {
		s := &spaces[i]
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  [%d] %s %s\n", i, s.Type, s.Hemisphere())
		fmt.Fprintf(w, "      points:    %d (%d in use)\n", s.NumPoints, s.NumUsed())
		fmt.Fprintf(w, "      triangles: %d (%d in use)\n", len(s.Triangles), len(s.UseTriangles))
		fmt.Fprintf(w, "      frame:     %d\n", s.CoordFrame)
		if s.SubjectHisID != "" {
			fmt.Fprintf(w, "      subject:   %s\n", s.SubjectHisID)
		}
	}
	return nil
}

func infoSTC(w io.Writer, path string) error {
	stc, err := formats.ParseSTCFile(path)
	if err != nil {
		return err
	}

	values := stc.Data.RawMatrix().Data
	fmt.Fprintf(w, "Source estimate: %s\n", path)
	fmt.Fprintf(w, "Hemisphere:      %s\n", stc.Hemisphere)
	fmt.Fprintf(w, "Vertices:        %d\n", stc.NumVertices())
	fmt.Fprintf(w, "Times:           %d (tmin %g s, tstep %g s)\n", stc.NumTimes(), stc.Tmin, stc.Tstep)
	fmt.Fprintf(w, "Range:           [%g, %g]\n", floats.Min(values), floats.Max(values))
	return nil
}

func infoGIFTI(w io.Writer, path string) error {
	g, err := formats.ParseGIFTIFile(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "GIFTI:   %s\n", path)
	fmt.Fprintf(w, "Version: %s\n", g.Version)
	for _, md := range g.MetaData {
		fmt.Fprintf(w, "  %s = %s\n", md.Name, md.Value)
	}
	fmt.Fprintf(w, "Arrays:  %d\n", len(g.DataArrays))

	for i := range g.DataArrays {
		a := &g.DataArrays[i]
		line := fmt.Sprintf("  [%d] %s %s %v %s", i, a.Intent, a.DataType, a.Dims, a.Encoding)
		if r, ok := valueRange(a); ok {
			line += r
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func valueRange(a *formats.GIFTIDataArray) (string, bool) {
	var values []float64
	switch {
	case len(a.Float32) > 0:
		values = make([]float64, len(a.Float32))
		for i, v := range a.Float32 {
			values[i] = float64(v)
		}
	case len(a.Int32) > 0:
		values = make([]float64, len(a.Int32))
		for i, v := range a.Int32 {
			values[i] = float64(v)
		}
	default:
		return "", false
	}
	return fmt.Sprintf(" [%g, %g]", floats.Min(values), floats.Max(values)), true
}
