package formats

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestGIFTI(enc GIFTIEncoding) *GIFTI {
	coords := NewPointSetArray(4, 3, []float32{
		0, 1, 2,
		20, 21, 22,
		40, 41, 42,
		50, 51, 52,
	})
	coords.Encoding = enc
	tris := NewTriangleArray([][3]int32{{0, 1, 2}, {1, 2, 3}})
	tris.Encoding = enc

	return &GIFTI{
		MetaData: MetaData{
			{Name: "AnatomicalStructurePrimary", Value: "CortexLeft"},
			{Name: "SubjectID", Value: "sample & <co>"},
		},
		DataArrays: []GIFTIDataArray{coords, tris},
	}
}

func TestGIFTI_RoundTrip(t *testing.T) {
	for _, enc := range []GIFTIEncoding{EncodingGZipBase64, EncodingBase64, EncodingASCII} {
		t.Run(string(enc), func(t *testing.T) {
			in := createTestGIFTI(enc)
			data, err := in.Encode()
			require.NoError(t, err)

			text := string(data)
			assert.True(t, strings.HasPrefix(text, `<?xml version="1.0" encoding="UTF-8"?>`))
			assert.Contains(t, text, `<!DOCTYPE GIFTI`)
			assert.Contains(t, text, `NumberOfDataArrays="2"`)
			assert.Contains(t, text, `Encoding="`+string(enc)+`"`)
			assert.Contains(t, text, `Dim0="4" Dim1="3"`)

			out, err := ParseGIFTI(data)
			require.NoError(t, err)
			assert.Equal(t, "1.0", out.Version)
			require.Len(t, out.DataArrays, 2)

			coords := out.DataArrays[0]
			assert.Equal(t, IntentPointSet, coords.Intent)
			assert.Equal(t, TypeFloat32, coords.DataType)
			assert.Equal(t, []int{4, 3}, coords.Dims)
			assert.Equal(t, in.DataArrays[0].Float32, coords.Float32)
			require.NotNil(t, coords.CoordSystem)
			assert.Equal(t, *IdentityCoordSystem(), *coords.CoordSystem)

			tris, err := out.DataArrays[1].Triangles()
			require.NoError(t, err)
			assert.Equal(t, [][3]int32{{0, 1, 2}, {1, 2, 3}}, tris)
			assert.Nil(t, out.DataArrays[1].CoordSystem)

			v, ok := out.MetaData.Get("SubjectID")
			assert.True(t, ok)
			assert.Equal(t, "sample & <co>", v)
		})
	}
}

func TestGIFTI_DefaultEncoding(t *testing.T) {
	g := &GIFTI{DataArrays: []GIFTIDataArray{NewPointSetVector([]float32{1.5, -2.25, 3})}}
	data, err := g.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), `Encoding="GZipBase64Binary"`)
	assert.Contains(t, string(data), `Endian="LittleEndian"`)
	assert.Contains(t, string(data), `ArrayIndexingOrder="RowMajorOrder"`)

	out, err := ParseGIFTI(data)
	require.NoError(t, err)
	require.Len(t, out.DataArrays, 1)
	assert.Equal(t, []int{3}, out.DataArrays[0].Dims)
	assert.Equal(t, []float32{1.5, -2.25, 3}, out.DataArrays[0].Float32)
	assert.Equal(t, EncodingGZipBase64, out.DataArrays[0].Encoding)
}

func TestGIFTI_ASCIIRowsOnLines(t *testing.T) {
	data, err := createTestGIFTI(EncodingASCII).Encode()
	require.NoError(t, err)

	text := string(data)
	assert.NotContains(t, text, "&#xA;")
	assert.Contains(t, text, "<Data>0 1 2\n20 21 22\n40 41 42\n50 51 52\n</Data>")
	assert.Contains(t, text, "<Data>0 1 2\n1 2 3\n</Data>")
	assert.Contains(t, text, "<MatrixData>1.000000 0.000000 0.000000 0.000000\n")
}

func TestGIFTI_EncodeShapeMismatch(t *testing.T) {
	g := &GIFTI{DataArrays: []GIFTIDataArray{NewPointSetArray(2, 3, []float32{1, 2, 3})}}
	_, err := g.Encode()
	assert.ErrorIs(t, err, ErrGIFTIShapeMismatch)

	g = &GIFTI{DataArrays: []GIFTIDataArray{{DataType: "NIFTI_TYPE_UINT8", Dims: []int{1}}}}
	_, err = g.Encode()
	assert.ErrorIs(t, err, ErrUnsupportedGIFTIType)
}

func TestParseGIFTI_ColumnMajor(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<GIFTI Version="1.0" NumberOfDataArrays="1">
  <DataArray Intent="NIFTI_INTENT_TRIANGLE" DataType="NIFTI_TYPE_INT32" ArrayIndexingOrder="ColumnMajorOrder"
             Dimensionality="2" Dim0="2" Dim1="3" Encoding="ASCII" Endian="LittleEndian"
             ExternalFileName="" ExternalFileOffset="">
    <Data>0 1 1 2 2 3</Data>
  </DataArray>
</GIFTI>`

	g, err := ParseGIFTI([]byte(doc))
	require.NoError(t, err)
	tris, err := g.DataArrays[0].Triangles()
	require.NoError(t, err)
	assert.Equal(t, [][3]int32{{0, 1, 2}, {1, 2, 3}}, tris)
}

func TestParseGIFTI_BigEndianBase64(t *testing.T) {
	// float32 1.0 and 2.0, big-endian
	doc := `<GIFTI Version="1.0" NumberOfDataArrays="1">
  <DataArray Intent="NIFTI_INTENT_NONE" DataType="NIFTI_TYPE_FLOAT32" ArrayIndexingOrder="RowMajorOrder"
             Dimensionality="1" Dim0="2" Encoding="Base64Binary" Endian="BigEndian">
    <Data>P4AAAEAAAAA=</Data>
  </DataArray>
</GIFTI>`

	g, err := ParseGIFTI([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, g.DataArrays[0].Float32)
}

func TestParseGIFTI_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"not xml", "GIFTI", ErrInvalidGIFTI},
		{
			"array count",
			`<GIFTI NumberOfDataArrays="2"><DataArray DataType="NIFTI_TYPE_FLOAT32" Dimensionality="1" Dim0="1" Encoding="ASCII"><Data>1</Data></DataArray></GIFTI>`,
			ErrInvalidGIFTI,
		},
		{
			"missing dim",
			`<GIFTI NumberOfDataArrays="1"><DataArray DataType="NIFTI_TYPE_FLOAT32" Dimensionality="2" Dim0="1" Encoding="ASCII"><Data>1</Data></DataArray></GIFTI>`,
			ErrInvalidGIFTI,
		},
		{
			"bad dimensionality",
			`<GIFTI NumberOfDataArrays="1"><DataArray DataType="NIFTI_TYPE_FLOAT32" Dimensionality="0" Encoding="ASCII"><Data></Data></DataArray></GIFTI>`,
			ErrInvalidGIFTI,
		},
		{
			"value count",
			`<GIFTI NumberOfDataArrays="1"><DataArray DataType="NIFTI_TYPE_FLOAT32" Dimensionality="1" Dim0="3" Encoding="ASCII"><Data>1 2</Data></DataArray></GIFTI>`,
			ErrGIFTIShapeMismatch,
		},
		{
			"data type",
			`<GIFTI NumberOfDataArrays="1"><DataArray DataType="NIFTI_TYPE_FLOAT64" Dimensionality="1" Dim0="1" Encoding="ASCII"><Data>1</Data></DataArray></GIFTI>`,
			ErrUnsupportedGIFTIType,
		},
		{
			"external file",
			`<GIFTI NumberOfDataArrays="1"><DataArray DataType="NIFTI_TYPE_FLOAT32" Dimensionality="1" Dim0="1" Encoding="ExternalFileBinary" ExternalFileName="x.dat"><Data></Data></DataArray></GIFTI>`,
			ErrUnsupportedGIFTIEncoding,
		},
		{
			"corrupt gzip",
			`<GIFTI NumberOfDataArrays="1"><DataArray DataType="NIFTI_TYPE_FLOAT32" Dimensionality="1" Dim0="1" Encoding="GZipBase64Binary"><Data>AAAAAA==</Data></DataArray></GIFTI>`,
			ErrInvalidGIFTI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGIFTI([]byte(tt.doc))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseGIFTIEncoding(t *testing.T) {
	for _, name := range []string{"ASCII", "Base64Binary", "GZipBase64Binary"} {
		enc, err := ParseGIFTIEncoding(name)
		require.NoError(t, err)
		assert.Equal(t, GIFTIEncoding(name), enc)
	}
	_, err := ParseGIFTIEncoding("ExternalFileBinary")
	assert.ErrorIs(t, err, ErrUnsupportedGIFTIEncoding)
}

func TestWriteGIFTIFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out-lh.gii")
	require.NoError(t, WriteGIFTIFile(path, createTestGIFTI("")))

	g, err := ParseGIFTIFile(path)
	require.NoError(t, err)
	assert.Len(t, g.ArraysByIntent(IntentPointSet), 1)
	assert.Len(t, g.ArraysByIntent(IntentTriangle), 1)
	assert.Empty(t, g.ArraysByIntent(IntentNone))
}
