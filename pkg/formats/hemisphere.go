// Package formats provides parsers and writers for the neuroimaging file formats
// handled by stc2gii.
package formats

import (
	"path/filepath"
	"strings"
)

// Hemisphere identifies a cortical hemisphere.
type Hemisphere int

const (
	HemisphereUnknown Hemisphere = iota
	HemisphereLeft
	HemisphereRight
)

// String returns the short MNE hemisphere tag ("lh", "rh").
func (h Hemisphere) String() string {
	switch h {
	case HemisphereLeft:
		return "lh"
	case HemisphereRight:
		return "rh"
	default:
		return "unknown"
	}
}

// AnatomicalStructure returns the GIFTI AnatomicalStructurePrimary value.
func (h Hemisphere) AnatomicalStructure() string {
	switch h {
	case HemisphereLeft:
		return "CortexLeft"
	case HemisphereRight:
		return "CortexRight"
	default:
		return ""
	}
}

// HemisphereFromPath infers the hemisphere from an MNE-style file name such
// as "sub-01-lh.stc".
func HemisphereFromPath(path string) Hemisphere {
	base := strings.ToLower(filepath.Base(path))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	switch {
	case strings.HasSuffix(base, "-lh"):
		return HemisphereLeft
	case strings.HasSuffix(base, "-rh"):
		return HemisphereRight
	default:
		return HemisphereUnknown
	}
}
