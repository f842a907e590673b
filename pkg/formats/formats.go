// Package formats provides parsers and writers for the neuroimaging file formats
// handled by stc2gii.
package formats

// Note: FIF source spaces are read in fif.go and fif_source_space.go, written in fif_write.go
// Note: STC source estimates are read and written in stc.go
// Note: GIFTI images are read and written in gifti.go
