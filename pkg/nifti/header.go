// Package nifti reads and writes single-file NIfTI-1 images (.nii and .nii.gz).
//
// Only the first 3D volume of an image is used. The voxel-to-world transform
// is taken from the sform when present, then the qform, then pixdim alone.
package nifti

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"kneeseg/internal/models"
)

// HeaderSize is the size of a NIfTI-1 header in bytes.
const HeaderSize = 348

// voxOffset is where voxel data starts in files written by this package:
// the header plus an empty 4-byte extension block.
const voxOffset = HeaderSize + 4

// Datatype codes.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
)

// xform codes.
const (
	XformUnknown     int16 = 0
	XformScannerAnat int16 = 1
	XformAligned     int16 = 2
)

// Header mirrors the on-disk NIfTI-1 header layout.
type Header struct {
	SizeofHdr    int32
	DataType     [10]byte
	DBName       [18]byte
	Extents      int32
	SessionError int16
	Regular      byte
	DimInfo      byte
	Dim          [8]int16
	IntentP1     float32
	IntentP2     float32
	IntentP3     float32
	IntentCode   int16
	Datatype     int16
	Bitpix       int16
	SliceStart   int16
	Pixdim       [8]float32
	VoxOffset    float32
	SclSlope     float32
	SclInter     float32
	SliceEnd     int16
	SliceCode    byte
	XYZTUnits    byte
	CalMax       float32
	CalMin       float32
	SliceDur     float32
	TOffset      float32
	GLMax        int32
	GLMin        int32
	Descrip      [80]byte
	AuxFile      [24]byte
	QformCode    int16
	SformCode    int16
	QuaternB     float32
	QuaternC     float32
	QuaternD     float32
	QOffsetX     float32
	QOffsetY     float32
	QOffsetZ     float32
	SrowX        [4]float32
	SrowY        [4]float32
	SrowZ        [4]float32
	IntentName   [16]byte
	Magic        [4]byte
}

// parseHeader decodes a header, detecting byte order from sizeof_hdr.
func parseHeader(raw []byte) (*Header, binary.ByteOrder, error) {
	if len(raw) < HeaderSize {
		return nil, nil, errors.Errorf("nifti: file is %d bytes, shorter than a header", len(raw))
	}
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		if int32(order.Uint32(raw)) != HeaderSize {
			continue
		}
		h := &Header{}
		if err := binary.Read(bytes.NewReader(raw[:HeaderSize]), order, h); err != nil {
			return nil, nil, errors.Wrap(err, "nifti: decoding header")
		}
		if string(h.Magic[:3]) != "n+1" {
			return nil, nil, errors.Errorf("nifti: unsupported magic %q, only single-file NIfTI-1 is read", h.Magic[:3])
		}
		return h, order, nil
	}
	return nil, nil, errors.New("nifti: sizeof_hdr is not 348 in either byte order")
}

// Shape returns the spatial grid size.
func (h *Header) Shape() (models.Shape, error) {
	if h.Dim[0] < 3 || h.Dim[0] > 7 {
		return models.Shape{}, errors.Errorf("nifti: %d dimensions, need at least 3", h.Dim[0])
	}
	s := models.Shape{int(h.Dim[1]), int(h.Dim[2]), int(h.Dim[3])}
	if !s.Valid() {
		return models.Shape{}, errors.Errorf("nifti: invalid grid size %v", s)
	}
	return s, nil
}

// Affine returns the voxel-to-world transform in millimeters.
func (h *Header) Affine() (models.Affine, error) {
	if h.SformCode > 0 {
		var rows [4][4]float64
		for j := 0; j < 4; j++ {
			rows[0][j] = float64(h.SrowX[j])
			rows[1][j] = float64(h.SrowY[j])
			rows[2][j] = float64(h.SrowZ[j])
		}
		rows[3] = [4]float64{0, 0, 0, 1}
		return models.NewAffine(rows)
	}

	spacing := [3]float64{}
	for a := 0; a < 3; a++ {
		spacing[a] = math.Abs(float64(h.Pixdim[a+1]))
		if spacing[a] == 0 {
			spacing[a] = 1
		}
	}

	if h.QformCode > 0 {
		return quaternAffine(h, spacing)
	}
	return models.DiagonalAffine(spacing, models.Point{})
}

// quaternAffine builds the qform transform (NIfTI-1 method 2).
func quaternAffine(h *Header, spacing [3]float64) (models.Affine, error) {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		a = 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*a, c*a, d*a
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	qfac := 1.0
	if h.Pixdim[0] < 0 {
		qfac = -1
	}

	r := [3][3]float64{
		{a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c)},
		{2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b)},
		{2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - c*c - b*b},
	}
	scale := [3]float64{spacing[0], spacing[1], qfac * spacing[2]}
	offset := [3]float64{float64(h.QOffsetX), float64(h.QOffsetY), float64(h.QOffsetZ)}

	var rows [4][4]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rows[i][j] = r[i][j] * scale[j]
		}
		rows[i][3] = offset[i]
	}
	rows[3] = [4]float64{0, 0, 0, 1}
	return models.NewAffine(rows)
}

// newHeader fills a header for a 3D image written with an sform.
func newHeader(shape models.Shape, affine models.Affine, datatype, bitpix int16, descrip string) *Header {
	h := &Header{
		SizeofHdr: HeaderSize,
		Regular:   'r',
		Datatype:  datatype,
		Bitpix:    bitpix,
		VoxOffset: voxOffset,
		SclSlope:  1,
		XYZTUnits: 2, // mm
		QformCode: XformUnknown,
		SformCode: XformAligned,
	}
	h.Dim = [8]int16{3, int16(shape[0]), int16(shape[1]), int16(shape[2]), 1, 1, 1, 1}

	spacing := affine.Spacing()
	h.Pixdim = [8]float32{1, float32(spacing[0]), float32(spacing[1]), float32(spacing[2]), 1, 1, 1, 1}

	m := affine.Matrix()
	for j := 0; j < 4; j++ {
		h.SrowX[j] = float32(m[0][j])
		h.SrowY[j] = float32(m[1][j])
		h.SrowZ[j] = float32(m[2][j])
	}
	copy(h.Descrip[:], descrip)
	copy(h.Magic[:], "n+1\x00")
	return h
}
