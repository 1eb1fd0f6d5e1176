package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeOffsetCoord(t *testing.T) {
	s := Shape{4, 3, 2}
	require.Equal(t, 24, s.Len())

	for off := 0; off < s.Len(); off++ {
		assert.Equal(t, off, s.Offset(s.Coord(off)))
	}
	assert.Equal(t, 1, s.Offset(Index{1, 0, 0}))
	assert.Equal(t, 4, s.Offset(Index{0, 1, 0}))
	assert.Equal(t, 12, s.Offset(Index{0, 0, 1}))
	assert.True(t, s.Contains(Index{3, 2, 1}))
	assert.False(t, s.Contains(Index{4, 0, 0}))
	assert.False(t, s.Contains(Index{0, -1, 0}))
}

func TestAffineRoundTrip(t *testing.T) {
	a, err := NewAffine([4][4]float64{
		{0, -0.8, 0, 12.5},
		{0.7, 0, 0.1, -40},
		{0, 0, 1.5, 3},
		{0, 0, 0, 1},
	})
	require.NoError(t, err)

	for _, idx := range []Index{{0, 0, 0}, {1, 2, 3}, {511, 511, 200}, {7, 0, 99}} {
		p := Point{float64(idx[0]), float64(idx[1]), float64(idx[2])}
		back := a.Invert(a.Apply(p))
		for ax := 0; ax < 3; ax++ {
			assert.InDelta(t, p[ax], back[ax], 1e-9)
		}
	}
}

func TestDiagonalAffine(t *testing.T) {
	a, err := DiagonalAffine([3]float64{0.5, 0.75, 2}, Point{10, -5, 1})
	require.NoError(t, err)

	p := a.Apply(Point{2, 4, 3})
	assert.InDeltaSlice(t, []float64{11, -2, 7}, p[:], 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, 0.75, 2}, func() []float64 { s := a.Spacing(); return s[:] }(), 1e-12)
}

func TestNewAffineRejectsSingular(t *testing.T) {
	_, err := NewAffine([4][4]float64{
		{1, 0, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	})
	assert.Error(t, err)

	_, err = NewAffine([4][4]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 1, 1},
	})
	assert.Error(t, err)
}

func TestLabeledMaskValidation(t *testing.T) {
	a, err := DiagonalAffine([3]float64{1, 1, 1}, Point{})
	require.NoError(t, err)
	s := Shape{2, 2, 1}

	_, err = NewLabeledMask("bad", s, []Label{0, 1, 2, 3}, a)
	assert.Error(t, err)

	_, err = NewLabeledMask("short", s, []Label{0, 1}, a)
	assert.Error(t, err)

	m, err := NewLabeledMask("ok", s, []Label{0, 1, 2, 2}, a)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Count(Tibia))
	assert.Equal(t, []int{2, 3}, m.Offsets(Tibia))
	assert.Equal(t, Femur, m.At(Index{1, 0, 0}))

	r := m.Rename("copy")
	assert.Equal(t, "copy", r.Name())
	assert.True(t, r.Equal(m))

	labels := m.Labels()
	labels[0] = Tibia
	assert.Equal(t, Background, m.LabelAt(0), "Labels must return a copy")
}

func TestVolumeIsImmutable(t *testing.T) {
	a, err := DiagonalAffine([3]float64{1, 2, 3}, Point{1, 1, 1})
	require.NoError(t, err)
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8}

	v, err := NewVolume(data, Shape{2, 2, 2}, a)
	require.NoError(t, err)

	data[0] = 100
	assert.Equal(t, 1.0, v.At(Index{0, 0, 0}))

	assert.Equal(t, Point{2, 3, 4}, v.ToPhysical(Index{1, 1, 1}))

	var seen []float64
	for off, x := range v.All() {
		if off == 4 {
			break
		}
		seen = append(seen, x)
	}
	assert.Equal(t, []float64{1, 2, 3, 4}, seen)

	_, err = NewVolume(data[:3], Shape{2, 2, 2}, a)
	assert.Error(t, err)
}

func TestOrientation(t *testing.T) {
	o := DefaultOrientation()
	assert.True(t, o.Valid())
	assert.Equal(t, 1, o.AnteriorPosteriorAxis())
	assert.True(t, o.MoreInferior(0, 3))

	o.SuperiorAtHighIndex = false
	assert.True(t, o.MoreInferior(3, 0))

	o.MedialLateralAxis = 2
	assert.False(t, o.Valid())
}
