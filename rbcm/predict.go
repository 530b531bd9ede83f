package rbcm

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/materialsml/committee/env"
)

// Predict returns the mean and variance of force component d (1 is x,
// 2 is y, 3 is z) on the central atom of a local environment, using
// the robust product-of-experts combination rule: each expert is
// weighted by its confidence relative to the shared prior, and the
// (1 - sum beta) correction pulls the aggregate back to the prior when
// the committee as a whole is uncertain.
func (m *Model) Predict(x *env.AtomicEnvironment, d int) (mean, variance float64, err error) {
	if d < 1 || d > 3 {
		return 0, 0, fmt.Errorf("%w: force component %d not in 1..3", ErrInvalidArgument, d)
	}
	if x == nil {
		return 0, 0, fmt.Errorf("%w: nil environment", ErrInvalidArgument)
	}
	if m.totalLabels() == 0 {
		return 0, 0, ErrEmptyModel
	}
	if err := m.RefreshFactorizations(); err != nil {
		return 0, 0, err
	}

	selfKern := m.kern.Force(x, x, d, d, m.hyps)
	logPriorVar := math.Log(m.priorVar)

	var meanSum, varSum, betaSum float64
	for i, e := range m.experts {
		if e.nLabels() == 0 {
			continue
		}
		bd := m.buildDataFor(e)
		kv := kernelVector(bd, x, d)

		meanK := mat.Dot(kv, e.alpha)

		tmp := mat.NewVecDense(kv.Len(), nil)
		tmp.MulVec(e.kyInv, kv)
		varK := selfKern - mat.Dot(kv, tmp)

		betaK := 0.5 * (logPriorVar - math.Log(varK))

		meanSum += betaK / varK * meanK
		varSum += betaK / varK
		betaSum += betaK

		m.log.Debug("expert prediction",
			zap.Int("expert", i), zap.Float64("mean", meanK),
			zap.Float64("variance", varK), zap.Float64("beta", betaK))
	}

	varSum += (1 - betaSum) / m.priorVar
	variance = 1 / varSum
	mean = variance * meanSum
	return mean, variance, nil
}
