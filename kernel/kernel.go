// Package kernel defines the similarity kernels between atomic
// environments. A kernel compares two environments and returns a
// covariance between force components, between local energies, or
// between a force component and an energy. Kernels are pure functions
// of their inputs and the shared hyperparameter vector.
package kernel

import (
	"github.com/materialsml/committee/env"
)

// Hyperparameter layout shared by every kernel. The noise entry is
// consumed by the covariance builder, not by the kernel body, but it
// travels in the same vector so that one optimizer adjusts all three.
const (
	HypSigma = iota // signal standard deviation
	HypLength       // length scale
	HypNoise        // force noise standard deviation
	NHyps
)

// NGrad is the number of hyperparameters with a gradient contribution
// from the kernel body (sigma and length; noise enters only through
// the diagonal of the covariance matrix).
const NGrad = 2

// Kernel evaluates covariances between atomic environments. d1 and d2
// select force components, 1..3 for x, y, z; callers validate them.
type Kernel interface {
	// Force is the covariance between force component d1 of a's
	// central atom and force component d2 of b's.
	Force(a, b *env.AtomicEnvironment, d1, d2 int, hyps []float64) float64

	// ForceWithGrad is Force plus the derivatives with respect to
	// sigma and length, written into grad (length NGrad).
	ForceWithGrad(a, b *env.AtomicEnvironment, d1, d2 int, hyps, grad []float64) float64

	// Energy is the covariance between the local energies of a and b.
	Energy(a, b *env.AtomicEnvironment, hyps []float64) float64

	// EnergyWithGrad is Energy plus sigma/length derivatives.
	EnergyWithGrad(a, b *env.AtomicEnvironment, hyps, grad []float64) float64

	// ForceEnergy is the covariance between force component d1 of a's
	// central atom and the local energy of b.
	ForceEnergy(a *env.AtomicEnvironment, d1 int, b *env.AtomicEnvironment, hyps []float64) float64

	// ForceEnergyWithGrad is ForceEnergy plus sigma/length derivatives.
	ForceEnergyWithGrad(a *env.AtomicEnvironment, d1 int, b *env.AtomicEnvironment, hyps, grad []float64) float64

	// NHyps is the length of the hyperparameter vector.
	NHyps() int
}
