package nifti

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kneeseg/internal/models"
)

func testAffine(t *testing.T) models.Affine {
	t.Helper()
	aff, err := models.NewAffine([4][4]float64{
		{0.5, 0, 0, -40},
		{0, 0.75, 0, 12.5},
		{0, 0, 1.5, 100},
		{0, 0, 0, 1},
	})
	require.NoError(t, err)
	return aff
}

func encode(t *testing.T, h *Header, order binary.ByteOrder, voxels []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, order, h))
	buf.Write(make([]byte, voxOffset-HeaderSize))
	buf.Write(voxels)
	return buf.Bytes()
}

// intensities collects the voxel values of vol in storage order.
func intensities(vol *models.Volume) []float64 {
	out := make([]float64, 0, vol.Shape().Len())
	for _, v := range vol.All() {
		out = append(out, v)
	}
	return out
}

func TestHeaderSize(t *testing.T) {
	assert.Equal(t, HeaderSize, binary.Size(Header{}))
}

func TestMaskRoundTrip(t *testing.T) {
	shape := models.Shape{5, 4, 3}
	labels := make([]models.Label, shape.Len())
	for i := range labels {
		labels[i] = models.Label(i % 3)
	}
	mask, err := models.NewLabeledMask("expanded_2mm", shape, labels, testAffine(t))
	require.NoError(t, err)

	for _, name := range []string{"m.nii", "m.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, SaveMask(path, mask))

			vol, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, shape, vol.Shape())
			assert.Equal(t, mask.Affine().Matrix(), vol.Affine().Matrix())
			for i, v := range intensities(vol) {
				require.Equal(t, float64(labels[i]), v)
			}
		})
	}
}

func TestVolumeRoundTrip(t *testing.T) {
	shape := models.Shape{6, 5, 4}
	data := make([]float64, shape.Len())
	for i := range data {
		data[i] = float64(i)*1.5 - 300
	}
	vol, err := models.NewVolume(data, shape, testAffine(t))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ct.nii.gz")
	require.NoError(t, SaveVolume(path, vol))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, data, intensities(got))
	assert.Equal(t, [3]float64{0.5, 0.75, 1.5}, got.Spacing())
	assert.Equal(t, models.Point{-40 + 0.5, 12.5 + 1.5, 100 + 4.5}, got.ToPhysical(models.Index{1, 2, 3}))
}

func TestDecodeScalingAndBigEndian(t *testing.T) {
	shape := models.Shape{2, 2, 1}
	aff, err := models.DiagonalAffine([3]float64{1, 1, 1}, models.Point{})
	require.NoError(t, err)

	h := newHeader(shape, aff, DTInt16, 16, "")
	h.SclSlope, h.SclInter = 2, -1024

	voxels := make([]byte, 8)
	for i, v := range []int16{0, 10, 512, -3} {
		binary.BigEndian.PutUint16(voxels[2*i:], uint16(v))
	}

	vol, err := Decode(encode(t, h, binary.BigEndian, voxels))
	require.NoError(t, err)
	assert.Equal(t, []float64{-1024, -1004, 0, -1030}, intensities(vol))
}

func TestDecodeQform(t *testing.T) {
	shape := models.Shape{2, 2, 2}
	aff, err := models.DiagonalAffine([3]float64{1, 1, 1}, models.Point{})
	require.NoError(t, err)

	h := newHeader(shape, aff, DTUint8, 8, "")
	h.SformCode = XformUnknown
	h.QformCode = XformScannerAnat
	h.Pixdim = [8]float32{-1, 2, 3, 4, 1, 1, 1, 1}
	// 180 degrees about z
	h.QuaternB, h.QuaternC, h.QuaternD = 0, 0, 1
	h.QOffsetX, h.QOffsetY, h.QOffsetZ = 10, 20, 30

	vol, err := Decode(encode(t, h, binary.LittleEndian, make([]byte, shape.Len())))
	require.NoError(t, err)

	p := vol.ToPhysical(models.Index{1, 1, 1})
	want := models.Point{10 - 2, 20 - 3, 30 - 4}
	for a := 0; a < 3; a++ {
		assert.InDelta(t, want[a], p[a], 1e-6)
	}
}

func TestDecodePixdimOnly(t *testing.T) {
	shape := models.Shape{3, 1, 1}
	aff, err := models.DiagonalAffine([3]float64{1, 1, 1}, models.Point{})
	require.NoError(t, err)

	h := newHeader(shape, aff, DTFloat64, 64, "")
	h.SformCode = XformUnknown
	h.Pixdim = [8]float32{1, 0.8, 0, 2.5}

	voxels := make([]byte, 24)
	for i, v := range []float64{1.25, math.Pi, -7} {
		binary.LittleEndian.PutUint64(voxels[8*i:], math.Float64bits(v))
	}
	vol, err := Decode(encode(t, h, binary.LittleEndian, voxels))
	require.NoError(t, err)
	assert.Equal(t, []float64{1.25, math.Pi, -7}, intensities(vol))

	sp := vol.Spacing()
	assert.InDelta(t, 0.8, sp[0], 1e-6)
	assert.Equal(t, 1.0, sp[1])
	assert.Equal(t, 2.5, sp[2])
}

func TestDecodeErrors(t *testing.T) {
	shape := models.Shape{4, 4, 4}
	aff, err := models.DiagonalAffine([3]float64{1, 1, 1}, models.Point{})
	require.NoError(t, err)

	_, err = Decode(make([]byte, 100))
	assert.Error(t, err, "short file")

	_, err = Decode(make([]byte, 400))
	assert.Error(t, err, "bad sizeof_hdr")

	h := newHeader(shape, aff, DTInt16, 16, "")
	_, err = Decode(encode(t, h, binary.LittleEndian, make([]byte, 10)))
	assert.ErrorContains(t, err, "voxel data")

	h = newHeader(shape, aff, 1, 1, "")
	_, err = Decode(encode(t, h, binary.LittleEndian, make([]byte, 64)))
	assert.ErrorContains(t, err, "datatype")

	h = newHeader(shape, aff, DTUint8, 8, "")
	copy(h.Magic[:], "ni1\x00")
	_, err = Decode(encode(t, h, binary.LittleEndian, make([]byte, 64)))
	assert.ErrorContains(t, err, "magic")

	h = newHeader(shape, aff, DTUint8, 8, "")
	h.Dim[0] = 2
	_, err = Decode(encode(t, h, binary.LittleEndian, make([]byte, 64)))
	assert.Error(t, err)
}

func TestLoadMissingAndCorruptGzip(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.nii"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.nii.gz")
	require.NoError(t, os.WriteFile(bad, []byte("not gzip"), 0644))
	_, err = Load(bad)
	assert.Error(t, err)
}
