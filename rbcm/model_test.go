package rbcm

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/materialsml/committee/env"
	"github.com/materialsml/committee/kernel"
)

// testStructure builds an open structure of n atoms with alternating
// species 1 and 2 inside a box small enough that every atom sees every
// other within the test cutoff.
func testStructure(t *testing.T, rng *rand.Rand, n int) (*env.Structure, []r3.Vec) {
	t.Helper()
	species := make([]int, n)
	positions := make([]r3.Vec, n)
	forces := make([]r3.Vec, n)
	for i := 0; i < n; i++ {
		species[i] = 1 + i%2
		positions[i] = r3.Vec{X: 1.5 * rng.Float64(), Y: 1.5 * rng.Float64(), Z: 1.5 * rng.Float64()}
		forces[i] = r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
	}
	st, err := env.NewStructure(nil, species, positions)
	require.NoError(t, err)
	return st, forces
}

func testModel(t *testing.T, capacity int) *Model {
	t.Helper()
	m, err := New(Config{
		Kernel:            kernel.TwoBody{},
		Hyps:              []float64{1, 0.8, 0.1},
		Cutoff:            3.0,
		CapacityPerExpert: capacity,
		Workers:           2,
	})
	require.NoError(t, err)
	return m
}

func testEnv(t *testing.T, rng *rand.Rand) *env.AtomicEnvironment {
	t.Helper()
	st, _ := testStructure(t, rng, 3)
	x, err := env.New(st, 0, 3.0)
	require.NoError(t, err)
	return x
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New(Config{Kernel: kernel.TwoBody{}, Hyps: []float64{1, 1}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New(Config{Kernel: kernel.TwoBody{}, PriorVariance: -1})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	m, err := New(Config{Kernel: kernel.TwoBody{}})
	require.NoError(t, err)
	assert.Equal(t, 1, m.NExperts())
	assert.Equal(t, []float64{1, 1, 0.1}, m.Hyps())
}

func TestRouterSpawnsExpert(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := testModel(t, 2)

	// Two observations per structure: the third call must overflow the
	// first expert and open a second one.
	for i := 0; i < 2; i++ {
		st, forces := testStructure(t, rng, 2)
		require.NoError(t, m.AddObservation(st, forces, nil, nil))
		assert.Equal(t, 1, m.NExperts())
	}
	st, forces := testStructure(t, rng, 2)
	require.NoError(t, m.AddObservation(st, forces, nil, nil))
	assert.Equal(t, 2, m.NExperts())

	stats := m.TrainingStatistics()
	assert.Equal(t, []int{4, 2}, stats.ExpertCounts)
}

func TestRouterNeverGoesBack(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	m := testModel(t, 1)

	prev := 0
	for i := 0; i < 8; i++ {
		st, forces := testStructure(t, rng, 2)
		require.NoError(t, m.AddObservation(st, forces, nil, nil))
		assert.GreaterOrEqual(t, m.current, prev, "routing went back at step %d", i)
		prev = m.current
	}
	assert.Greater(t, m.NExperts(), 1)
}

func TestAddObservationToAllocates(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	m := testModel(t, 100)
	st, forces := testStructure(t, rng, 2)

	// id equal to the expert count grows the arena by one.
	require.NoError(t, m.AddObservationTo(1, st, forces, nil, nil))
	assert.Equal(t, 2, m.NExperts())

	assert.ErrorIs(t, m.AddObservationTo(5, st, forces, nil, nil), ErrInvalidArgument)
	assert.ErrorIs(t, m.AddObservationTo(-1, st, forces, nil, nil), ErrInvalidArgument)
}

func TestAddObservationValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	m := testModel(t, 100)
	st, forces := testStructure(t, rng, 3)

	assert.ErrorIs(t, m.AddObservation(nil, forces, nil, nil), ErrInvalidArgument)
	assert.ErrorIs(t, m.AddObservation(st, forces[:2], nil, nil), ErrInvalidArgument)
	assert.ErrorIs(t, m.AddObservation(st, forces, nil, []int{3}), ErrInvalidArgument)
	assert.ErrorIs(t, m.AddForceObservation(nil, r3.Vec{}), ErrInvalidArgument)
}

func TestAddObservationSubset(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	m := testModel(t, 100)
	st, forces := testStructure(t, rng, 4)

	require.NoError(t, m.AddObservation(st, forces, nil, []int{0, 2}))
	e := m.experts[0]
	assert.Equal(t, 2, e.observations)
	require.Equal(t, 6, e.nLabels())
	assert.Equal(t, forces[2].X, e.labels.AtVec(3))
}

func TestEnergyObservation(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	m := testModel(t, 100)
	st, forces := testStructure(t, rng, 3)
	energy := -1.25

	require.NoError(t, m.AddObservation(st, forces, &energy, nil))
	e := m.experts[0]
	assert.Equal(t, 3, e.observations)
	require.Equal(t, 10, e.nLabels())
	assert.Equal(t, energy, e.labels.AtVec(9))
	require.Len(t, e.structures, 1)
	assert.Len(t, e.structures[0], 3)
}

func TestRefreshIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := testModel(t, 100)
	st, forces := testStructure(t, rng, 3)
	require.NoError(t, m.AddObservation(st, forces, nil, nil))

	require.NoError(t, m.RefreshFactorizations())
	e := m.experts[0]
	ky, alpha := e.ky, e.alpha
	require.NotNil(t, ky)

	// No data changed: the second refresh must not touch the caches.
	require.NoError(t, m.RefreshFactorizations())
	assert.Same(t, ky, e.ky)
	assert.Same(t, alpha, e.alpha)

	st2, forces2 := testStructure(t, rng, 2)
	require.NoError(t, m.AddObservation(st2, forces2, nil, nil))
	require.NoError(t, m.RefreshFactorizations())
	assert.NotSame(t, ky, e.ky)
}

func TestIncrementalMatchesFull(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	stA, forcesA := testStructure(t, rng, 3)
	stB, forcesB := testStructure(t, rng, 2)
	energy := 0.7

	inc := testModel(t, 100)
	require.NoError(t, inc.AddObservation(stA, forcesA, nil, nil))
	require.NoError(t, inc.RefreshFactorizations())

	require.NoError(t, inc.AddObservation(stB, forcesB, &energy, nil))
	e := inc.experts[0]
	require.Greater(t, e.nLabels(), e.builtSize)
	require.GreaterOrEqual(t, len(e.envs), e.builtEnvs)
	require.NoError(t, inc.RefreshFactorizations())

	full := testModel(t, 100)
	require.NoError(t, full.AddObservation(stA, forcesA, nil, nil))
	require.NoError(t, full.AddObservation(stB, forcesB, &energy, nil))
	require.NoError(t, full.RefreshFactorizations())

	kyInc, kyFull := inc.experts[0].ky, full.experts[0].ky
	n, _ := kyFull.Dims()
	nInc, _ := kyInc.Dims()
	require.Equal(t, n, nInc)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			assert.InDelta(t, kyFull.At(i, j), kyInc.At(i, j), 1e-10,
				"entry (%d,%d)", i, j)
		}
	}

	aInc, aFull := inc.experts[0].alpha, full.experts[0].alpha
	for i := 0; i < n; i++ {
		assert.InDelta(t, aFull.AtVec(i), aInc.AtVec(i), 1e-8, "alpha %d", i)
	}
}

func TestSetHypsDropsMatrices(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	m := testModel(t, 100)
	st, forces := testStructure(t, rng, 2)
	require.NoError(t, m.AddObservation(st, forces, nil, nil))
	require.NoError(t, m.RefreshFactorizations())
	require.NotNil(t, m.experts[0].ky)

	assert.ErrorIs(t, m.SetHyps([]float64{1, 2}), ErrInvalidArgument)

	require.NoError(t, m.SetHyps([]float64{2, 0.5, 0.2}))
	assert.Nil(t, m.experts[0].ky)
	assert.Nil(t, m.experts[0].alpha)
	assert.Equal(t, []float64{2, 0.5, 0.2}, m.Hyps())
}

func TestTrainingStatistics(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	m := testModel(t, 100)
	st, forces := testStructure(t, rng, 4)
	require.NoError(t, m.AddObservationTo(0, st, forces, nil, nil))
	st2, forces2 := testStructure(t, rng, 2)
	require.NoError(t, m.AddObservationTo(1, st2, forces2, nil, nil))

	stats := m.TrainingStatistics()
	assert.Equal(t, []int{4, 2}, stats.ExpertCounts)
	assert.Equal(t, []string{"H", "He"}, stats.Species)
	assert.Equal(t, 3, stats.EnvsBySpecies["H"])
	assert.Equal(t, 3, stats.EnvsBySpecies["He"])
}
