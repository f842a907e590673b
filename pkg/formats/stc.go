// Package formats provides parsers and writers for the neuroimaging file formats
// handled by stc2gii.
// STC (MNE source estimate) format parser and writer.
package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

// STC format errors.
var (
	ErrTruncatedSTCData = errors.New("truncated STC data")
	ErrSTCSizeMismatch  = errors.New("STC data size does not match vertex and time counts")
	ErrEmptySTC         = errors.New("STC file has no vertices or no time samples")
)

// stcHeaderSize covers tmin, tstep and the vertex count.
const stcHeaderSize = 12

// STC is a single-hemisphere source estimate: a vertex-by-time matrix.
type STC struct {
	Tmin     float64 // Seconds
	Tstep    float64 // Seconds
	Vertices []int   // Source space vertex numbers, one per data row
	Data     *mat.Dense

	// Hemisphere is inferred from the file name when read from disk.
	Hemisphere Hemisphere
}

// NumVertices returns the number of data rows.
func (s *STC) NumVertices() int {
	r, _ := s.Data.Dims()
	return r
}

// NumTimes returns the number of time samples.
func (s *STC) NumTimes() int {
	_, c := s.Data.Dims()
	return c
}

// Times returns the sample times in seconds.
func (s *STC) Times() []float64 {
	times := make([]float64, s.NumTimes())
	for i := range times {
		times[i] = s.Tmin + float64(i)*s.Tstep
	}
	return times
}

// ParseSTC parses an STC file from raw bytes. Times are stored in
// milliseconds and data time-major.
func ParseSTC(data []byte) (*STC, error) {
	if len(data) < stcHeaderSize {
		return nil, ErrTruncatedSTCData
	}

	r := bytes.NewReader(data)

	var tminMs, tstepMs float32
	var nvert uint32
	if err := binary.Read(r, binary.BigEndian, &tminMs); err != nil {
		return nil, fmt.Errorf("%w: reading tmin", ErrTruncatedSTCData)
	}
	if err := binary.Read(r, binary.BigEndian, &tstepMs); err != nil {
		return nil, fmt.Errorf("%w: reading tstep", ErrTruncatedSTCData)
	}
	if err := binary.Read(r, binary.BigEndian, &nvert); err != nil {
		return nil, fmt.Errorf("%w: reading vertex count", ErrTruncatedSTCData)
	}

	if int64(nvert)*4 > int64(r.Len()) {
		return nil, fmt.Errorf("%w: %d vertices declared", ErrTruncatedSTCData, nvert)
	}
	vertRaw := make([]uint32, nvert)
	if nvert > 0 {
		if err := binary.Read(r, binary.BigEndian, vertRaw); err != nil {
			return nil, fmt.Errorf("%w: reading vertices", ErrTruncatedSTCData)
		}
	}

	var ntimes uint32
	if err := binary.Read(r, binary.BigEndian, &ntimes); err != nil {
		return nil, fmt.Errorf("%w: reading time count", ErrTruncatedSTCData)
	}

	if nvert == 0 || ntimes == 0 {
		return nil, ErrEmptySTC
	}

	want := int64(nvert) * int64(ntimes) * 4
	if int64(r.Len()) != want {
		return nil, fmt.Errorf("%w: %d bytes of data for %d vertices x %d times", ErrSTCSizeMismatch, r.Len(), nvert, ntimes)
	}

	body := data[len(data)-r.Len():]
	k, t := int(nvert), int(ntimes)
	values := make([]float64, k*t)
	for ti := 0; ti < t; ti++ {
		for vi := 0; vi < k; vi++ {
			bits := binary.BigEndian.Uint32(body[(ti*k+vi)*4:])
			values[vi*t+ti] = float64(math.Float32frombits(bits))
		}
	}

	stc := &STC{
		Tmin:     float64(tminMs) / 1000,
		Tstep:    float64(tstepMs) / 1000,
		Vertices: make([]int, k),
		Data:     mat.NewDense(k, t, values),
	}
	for i, v := range vertRaw {
		stc.Vertices[i] = int(v)
	}

	return stc, nil
}

// ParseSTCFile parses an STC file from disk and tags it with the hemisphere
// named in the file name.
func ParseSTCFile(path string) (*STC, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading STC file: %w", err)
	}
	stc, err := ParseSTC(data)
	if err != nil {
		return nil, err
	}
	stc.Hemisphere = HemisphereFromPath(path)
	return stc, nil
}

// Encode serializes the source estimate in STC layout.
func (s *STC) Encode() ([]byte, error) {
	k, t := s.Data.Dims()
	if len(s.Vertices) != k {
		return nil, fmt.Errorf("%w: %d vertices for %d data rows", ErrSTCSizeMismatch, len(s.Vertices), k)
	}

	buf := new(bytes.Buffer)
	buf.Grow(stcHeaderSize + 4*k + 4 + 4*k*t)

	binary.Write(buf, binary.BigEndian, float32(s.Tmin*1000))
	binary.Write(buf, binary.BigEndian, float32(s.Tstep*1000))
	binary.Write(buf, binary.BigEndian, uint32(k))
	for _, v := range s.Vertices {
		binary.Write(buf, binary.BigEndian, uint32(v))
	}
	binary.Write(buf, binary.BigEndian, uint32(t))
	for ti := 0; ti < t; ti++ {
		for vi := 0; vi < k; vi++ {
			binary.Write(buf, binary.BigEndian, float32(s.Data.At(vi, ti)))
		}
	}

	return buf.Bytes(), nil
}

// WriteSTCFile writes the source estimate to disk.
func WriteSTCFile(path string, s *STC) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
