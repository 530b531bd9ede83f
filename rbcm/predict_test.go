package rbcm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestPredictArgumentChecks(t *testing.T) {
	rng := rand.New(rand.NewSource(20))
	m := testModel(t, 100)
	x := testEnv(t, rng)

	for _, d := range []int{-1, 0, 4} {
		_, _, err := m.Predict(x, d)
		assert.ErrorIs(t, err, ErrInvalidArgument, "component %d", d)
	}
	_, _, err := m.Predict(nil, 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// No training data yet.
	_, _, err = m.Predict(x, 1)
	assert.ErrorIs(t, err, ErrEmptyModel)
}

func TestPredictFinite(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	m := testModel(t, 3)
	for i := 0; i < 3; i++ {
		st, forces := testStructure(t, rng, 2)
		require.NoError(t, m.AddObservation(st, forces, nil, nil))
	}
	x := testEnv(t, rng)

	for d := 1; d <= 3; d++ {
		mean, variance, err := m.Predict(x, d)
		require.NoError(t, err)
		assert.False(t, math.IsNaN(mean), "component %d mean", d)
		assert.False(t, math.IsNaN(variance), "component %d variance", d)
		assert.Greater(t, variance, 0.0, "component %d", d)
	}
}

// A committee of one must reproduce the aggregation formula exactly:
// pred_var = 1/(beta/var + (1-beta)/priorVar), pred_mean scaled by the
// expert's precision weight.
func TestSingleExpertAggregation(t *testing.T) {
	rng := rand.New(rand.NewSource(22))
	m := testModel(t, 100)
	st, forces := testStructure(t, rng, 3)
	energy := 0.4
	require.NoError(t, m.AddObservation(st, forces, &energy, nil))
	x := testEnv(t, rng)

	const d = 2
	mean, variance, err := m.Predict(x, d)
	require.NoError(t, err)

	e := m.experts[0]
	bd := m.buildDataFor(e)
	kv := kernelVector(bd, x, d)
	meanK := mat.Dot(kv, e.alpha)
	tmp := mat.NewVecDense(kv.Len(), nil)
	tmp.MulVec(e.kyInv, kv)
	varK := m.kern.Force(x, x, d, d, m.hyps) - mat.Dot(kv, tmp)
	beta := 0.5 * (math.Log(m.priorVar) - math.Log(varK))

	wantVar := 1 / (beta/varK + (1-beta)/m.priorVar)
	wantMean := wantVar * beta / varK * meanK
	assert.InDelta(t, wantMean, mean, 1e-12)
	assert.InDelta(t, wantVar, variance, 1e-12)
}

func TestPredictSkipsEmptyExperts(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	m := testModel(t, 100)
	st, forces := testStructure(t, rng, 3)
	require.NoError(t, m.AddObservationTo(0, st, forces, nil, nil))
	m.addExpert()

	single := testModel(t, 100)
	require.NoError(t, single.AddObservation(st, forces, nil, nil))

	x := testEnv(t, rng)
	mean, variance, err := m.Predict(x, 1)
	require.NoError(t, err)
	wantMean, wantVar, err := single.Predict(x, 1)
	require.NoError(t, err)
	assert.InDelta(t, wantMean, mean, 1e-12)
	assert.InDelta(t, wantVar, variance, 1e-12)
}

// At a training environment with low noise the expert is confident, so
// the aggregated variance must drop well below the prior.
func TestPredictConfidentAtTrainingPoint(t *testing.T) {
	rng := rand.New(rand.NewSource(24))
	m := testModel(t, 100)
	m.hyps[2] = 0.01

	st, forces := testStructure(t, rng, 3)
	require.NoError(t, m.AddObservation(st, forces, nil, nil))

	x := m.experts[0].envs[1]
	mean, variance, err := m.Predict(x, 1)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(mean))
	assert.Less(t, variance, m.priorVar)
}
