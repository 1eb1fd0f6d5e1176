package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"kneeseg/internal/models"
)

// maxDim is the largest extent a NIfTI-1 header can store.
const maxDim = math.MaxInt16

// Load reads a volume from a .nii or .nii.gz file. Intensities are scaled by
// scl_slope and scl_inter when the slope is set.
func Load(path string) (*models.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "nifti: open")
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrapf(err, "nifti: %s", path)
		}
		defer zr.Close()
		r = zr
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "nifti: reading %s", path)
	}
	vol, err := Decode(raw)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return vol, nil
}

// Decode parses an uncompressed single-file NIfTI-1 image.
func Decode(raw []byte) (*models.Volume, error) {
	h, order, err := parseHeader(raw)
	if err != nil {
		return nil, err
	}
	shape, err := h.Shape()
	if err != nil {
		return nil, err
	}
	affine, err := h.Affine()
	if err != nil {
		return nil, errors.Wrap(err, "nifti: affine")
	}

	size, err := datatypeSize(h.Datatype)
	if err != nil {
		return nil, err
	}
	start := int(h.VoxOffset)
	if start < HeaderSize {
		start = voxOffset
	}
	end := start + shape.Len()*size
	if end > len(raw) {
		return nil, errors.Errorf("nifti: need %d bytes of voxel data, file has %d", end-start, len(raw)-start)
	}

	data := make([]float64, shape.Len())
	decodeVoxels(raw[start:end], order, h.Datatype, data)

	if slope := float64(h.SclSlope); slope != 0 && !math.IsNaN(slope) && !(slope == 1 && h.SclInter == 0) {
		inter := float64(h.SclInter)
		for i := range data {
			data[i] = data[i]*slope + inter
		}
	}

	return models.NewVolume(data, shape, affine)
}

func datatypeSize(dt int16) (int, error) {
	switch dt {
	case DTUint8, DTInt8:
		return 1, nil
	case DTInt16, DTUint16:
		return 2, nil
	case DTInt32, DTUint32, DTFloat32:
		return 4, nil
	case DTFloat64:
		return 8, nil
	}
	return 0, errors.Errorf("nifti: unsupported datatype %d", dt)
}

func decodeVoxels(b []byte, order binary.ByteOrder, dt int16, out []float64) {
	for i := range out {
		switch dt {
		case DTUint8:
			out[i] = float64(b[i])
		case DTInt8:
			out[i] = float64(int8(b[i]))
		case DTInt16:
			out[i] = float64(int16(order.Uint16(b[2*i:])))
		case DTUint16:
			out[i] = float64(order.Uint16(b[2*i:]))
		case DTInt32:
			out[i] = float64(int32(order.Uint32(b[4*i:])))
		case DTUint32:
			out[i] = float64(order.Uint32(b[4*i:]))
		case DTFloat32:
			out[i] = float64(math.Float32frombits(order.Uint32(b[4*i:])))
		case DTFloat64:
			out[i] = math.Float64frombits(order.Uint64(b[8*i:]))
		}
	}
}

// SaveMask writes mask labels as int16 with the mask's affine.
func SaveMask(path string, mask *models.LabeledMask) error {
	if err := checkShape(mask.Shape()); err != nil {
		return err
	}
	h := newHeader(mask.Shape(), mask.Affine(), DTInt16, 16, "kneeseg "+mask.Name())
	h.CalMin, h.CalMax = 0, float32(models.Tibia)

	buf := make([]byte, 2*mask.Len())
	for i := 0; i < mask.Len(); i++ {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(mask.LabelAt(i)))
	}
	return write(path, h, buf)
}

// SaveVolume writes intensities as float32.
func SaveVolume(path string, vol *models.Volume) error {
	if err := checkShape(vol.Shape()); err != nil {
		return err
	}
	h := newHeader(vol.Shape(), vol.Affine(), DTFloat32, 32, "kneeseg volume")

	buf := make([]byte, 4*vol.Shape().Len())
	for i, v := range vol.All() {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
	}
	return write(path, h, buf)
}

func checkShape(s models.Shape) error {
	for _, n := range s {
		if n > maxDim {
			return errors.Errorf("nifti: extent %d exceeds the format limit of %d", n, maxDim)
		}
	}
	return nil
}

// write encodes header and voxels, gzip-compressing when path ends in .gz.
func write(path string, h *Header, voxels []byte) error {
	var out bytes.Buffer
	out.Grow(voxOffset + len(voxels))
	if err := binary.Write(&out, binary.LittleEndian, h); err != nil {
		return errors.Wrap(err, "nifti: encoding header")
	}
	out.Write(make([]byte, voxOffset-HeaderSize))
	out.Write(voxels)

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "nifti: create")
	}
	defer f.Close()

	if !strings.HasSuffix(path, ".gz") {
		_, err = f.Write(out.Bytes())
		return errors.Wrapf(err, "nifti: writing %s", path)
	}

	zw := gzip.NewWriter(f)
	if _, err := zw.Write(out.Bytes()); err != nil {
		return errors.Wrapf(err, "nifti: compressing %s", path)
	}
	return errors.Wrapf(zw.Close(), "nifti: compressing %s", path)
}
