package kernel

import (
	"math"

	"github.com/materialsml/committee/env"
	"gonum.org/v1/gonum/spatial/r3"
)

// TwoBody is a squared-exponential kernel over pair distances. Every
// bond of an environment contributes a Gaussian feature centered on
// its distance, tagged by the unordered (central, neighbor) species
// pair; force components project the feature on the bond direction.
// All three covariance blocks are inner products of these features, so
// a joint force/energy Gram matrix built from them is positive
// semidefinite by construction.
type TwoBody struct{}

func (TwoBody) NHyps() int { return NHyps }

// component extracts the d-th Cartesian component, d in 1..3.
func component(v r3.Vec, d int) float64 {
	switch d {
	case 1:
		return v.X
	case 2:
		return v.Y
	default:
		return v.Z
	}
}

func pairType(center int, b env.Bond) (int, int) {
	if center <= b.Species {
		return center, b.Species
	}
	return b.Species, center
}

// accum sums the weighted Gaussian over all species-matched bond
// pairs. wa and wb weight each side's bonds (1 for energy, direction
// component for force). When grad is non-nil it receives the sigma and
// length derivatives.
func accum(a, b *env.AtomicEnvironment, wa, wb func(env.Bond) float64, hyps, grad []float64) float64 {
	sig := hyps[HypSigma]
	l := hyps[HypLength]
	inv2l2 := 1 / (2 * l * l)

	var s, sl float64
	for _, pa := range a.Bonds {
		ca1, ca2 := pairType(a.Species, pa)
		va := wa(pa)
		if va == 0 {
			continue
		}
		for _, pb := range b.Bonds {
			cb1, cb2 := pairType(b.Species, pb)
			if ca1 != cb1 || ca2 != cb2 {
				continue
			}
			dr := pa.R - pb.R
			g := math.Exp(-dr * dr * inv2l2)
			w := va * wb(pb) * g
			s += w
			sl += w * dr * dr
		}
	}
	if grad != nil {
		grad[HypSigma] = 2 * sig * s
		grad[HypLength] = sig * sig * sl / (l * l * l)
	}
	return sig * sig * s
}

func one(env.Bond) float64 { return 1 }

func dirComponent(d int) func(env.Bond) float64 {
	return func(b env.Bond) float64 { return component(b.Dir, d) }
}

func (TwoBody) Force(a, b *env.AtomicEnvironment, d1, d2 int, hyps []float64) float64 {
	return accum(a, b, dirComponent(d1), dirComponent(d2), hyps, nil)
}

func (TwoBody) ForceWithGrad(a, b *env.AtomicEnvironment, d1, d2 int, hyps, grad []float64) float64 {
	return accum(a, b, dirComponent(d1), dirComponent(d2), hyps, grad)
}

func (TwoBody) Energy(a, b *env.AtomicEnvironment, hyps []float64) float64 {
	return accum(a, b, one, one, hyps, nil)
}

func (TwoBody) EnergyWithGrad(a, b *env.AtomicEnvironment, hyps, grad []float64) float64 {
	return accum(a, b, one, one, hyps, grad)
}

func (TwoBody) ForceEnergy(a *env.AtomicEnvironment, d1 int, b *env.AtomicEnvironment, hyps []float64) float64 {
	return accum(a, b, dirComponent(d1), one, hyps, nil)
}

func (TwoBody) ForceEnergyWithGrad(a *env.AtomicEnvironment, d1 int, b *env.AtomicEnvironment, hyps, grad []float64) float64 {
	return accum(a, b, dirComponent(d1), one, hyps, grad)
}
