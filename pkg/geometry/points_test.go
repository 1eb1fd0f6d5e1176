package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexNearest(t *testing.T) {
	ix := NewIndex(Points3D{{0, 0, 0}, {10, 0, 0}, {0, 5, 0}})

	assert.InDelta(t, 0, ix.Nearest(Point3D{0, 0, 0}), 1e-12)
	assert.InDelta(t, 1, ix.Nearest(Point3D{9, 0, 0}), 1e-12)
	assert.InDelta(t, math.Sqrt(2), ix.Nearest(Point3D{1, 6, 0}), 1e-12)
}

func TestEmptyIndex(t *testing.T) {
	ix := NewIndex(nil)
	assert.True(t, math.IsInf(ix.Nearest(Point3D{1, 2, 3}), 1))
}

func TestScaled(t *testing.T) {
	assert.Equal(t, Point3D{1, 3, 7.5}, Scaled(2, 3, 5, [3]float64{0.5, 1, 1.5}))
}

func TestSuppressor(t *testing.T) {
	s := NewSuppressor(5)

	assert.True(t, s.Accept(Point3D{0, 0, 0}))
	assert.False(t, s.Accept(Point3D{3, 0, 0}))
	assert.True(t, s.Accept(Point3D{6, 0, 0}))
	assert.False(t, s.Accept(Point3D{6, 4, 0}))
	assert.True(t, s.Accept(Point3D{0, 0, 20}))
	assert.Equal(t, 3, s.Len())
}

func TestSuppressorZeroRadiusAcceptsAll(t *testing.T) {
	s := NewSuppressor(0)
	for i := 0; i < 4; i++ {
		assert.True(t, s.Accept(Point3D{0, 0, 0}))
	}
	assert.Equal(t, 4, s.Len())
}
