package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

func cubicCell(a float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{a, 0, 0, 0, a, 0, 0, 0, a})
}

func TestNewStructure(t *testing.T) {
	_, err := NewStructure(nil, []int{1, 2}, []r3.Vec{{}})
	assert.Error(t, err, "mismatched species and positions")

	_, err = NewStructure(mat.NewDense(2, 2, nil), []int{1}, []r3.Vec{{}})
	assert.Error(t, err, "non-3x3 cell")

	s, err := NewStructure(cubicCell(2), []int{1, 2}, []r3.Vec{{}, {X: 0.5}})
	require.NoError(t, err)
	assert.Equal(t, 2, s.NAtoms())
}

func TestOpenStructureNeighbors(t *testing.T) {
	// Three atoms on a line, spacing 0.4. With cutoff 0.5 the middle
	// atom sees both ends; the ends see only the middle.
	s, err := NewStructure(nil, []int{1, 1, 1},
		[]r3.Vec{{}, {X: 0.4}, {X: 0.8}})
	require.NoError(t, err)

	mid, err := New(s, 1, 0.5)
	require.NoError(t, err)
	assert.Len(t, mid.Bonds, 2)

	end, err := New(s, 0, 0.5)
	require.NoError(t, err)
	require.Len(t, end.Bonds, 1)
	assert.InDelta(t, 0.4, end.Bonds[0].R, 1e-12)
	assert.InDelta(t, 1.0, end.Bonds[0].Dir.X, 1e-12)
}

func TestPeriodicImages(t *testing.T) {
	// A single atom in a cubic box sees its own six face images.
	s, err := NewStructure(cubicCell(1), []int{1}, []r3.Vec{{X: 0.5, Y: 0.5, Z: 0.5}})
	require.NoError(t, err)

	e, err := New(s, 0, 1.1)
	require.NoError(t, err)
	assert.Len(t, e.Bonds, 6)
	for _, b := range e.Bonds {
		assert.InDelta(t, 1.0, b.R, 1e-12)
	}
}

func TestCutoffMask(t *testing.T) {
	s, err := NewStructure(nil, []int{1, 2, 2},
		[]r3.Vec{{}, {X: 0.3}, {X: 0.7}})
	require.NoError(t, err)

	// Default cutoff excludes the far atom; the mask pulls species 2
	// in to 0.8 so both neighbors appear.
	e, err := NewMasked(s, 0, 0.5, map[int]float64{2: 0.8})
	require.NoError(t, err)
	assert.Len(t, e.Bonds, 2)

	e, err = New(s, 0, 0.5)
	require.NoError(t, err)
	assert.Len(t, e.Bonds, 1)
}

func TestNewArgumentChecks(t *testing.T) {
	s, err := NewStructure(nil, []int{1}, []r3.Vec{{}})
	require.NoError(t, err)

	_, err = New(s, 1, 0.5)
	assert.Error(t, err, "atom out of range")
	_, err = New(s, 0, 0)
	assert.Error(t, err, "non-positive cutoff")
}

func TestSymbol(t *testing.T) {
	assert.Equal(t, "H", Symbol(1))
	assert.Equal(t, "Si", Symbol(14))
	assert.Equal(t, "Z200", Symbol(200))
}
