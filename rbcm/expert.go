package rbcm

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/materialsml/committee/env"
)

// expert is one partition of the training set with its own covariance
// matrix and factorization. Training stores are append-only; the
// derived matrices are either all nil or consistent with a single
// snapshot of the stores, identified by version.
type expert struct {
	envs       []*env.AtomicEnvironment
	forces     []r3.Vec
	structures [][]*env.AtomicEnvironment
	energies   []float64

	// labels is [force components..., structure energies...],
	// refreshed after every mutation.
	labels *mat.VecDense

	// observations counts force environments for routing.
	observations int

	// version increments on every append; builtVersion, builtSize and
	// builtEnvs record the snapshot the matrices were built from.
	version      uint64
	builtVersion uint64
	builtSize    int
	builtEnvs    int

	ky    *mat.SymDense
	kyInv *mat.SymDense
	alpha *mat.VecDense
	lml   float64
}

// consistency state of the cached factorization, per the refresh
// policy: Empty -> Stale on append, Stale -> Current on successful
// factorization.
type expertState int

const (
	stateEmpty expertState = iota
	stateStale
	stateCurrent
)

func newExpert() *expert {
	return &expert{}
}

// nLabels is the covariance dimension: three force components per
// environment plus one energy per labeled structure.
func (e *expert) nLabels() int {
	return 3*len(e.envs) + len(e.energies)
}

func (e *expert) state() expertState {
	switch {
	case e.nLabels() == 0:
		return stateEmpty
	case e.ky == nil || e.alpha == nil || e.version != e.builtVersion:
		return stateStale
	default:
		return stateCurrent
	}
}

func (e *expert) appendForce(x *env.AtomicEnvironment, force r3.Vec) {
	e.envs = append(e.envs, x)
	e.forces = append(e.forces, force)
	e.observations++
	e.version++
	e.rebuildLabels()
}

func (e *expert) appendStructure(envs []*env.AtomicEnvironment, energy float64) {
	e.structures = append(e.structures, envs)
	e.energies = append(e.energies, energy)
	e.version++
	e.rebuildLabels()
}

func (e *expert) rebuildLabels() {
	n := e.nLabels()
	if n == 0 {
		e.labels = nil
		return
	}
	data := make([]float64, 0, n)
	for _, f := range e.forces {
		data = append(data, f.X, f.Y, f.Z)
	}
	data = append(data, e.energies...)
	e.labels = mat.NewVecDense(n, data)
}

// dropMatrices discards the cached covariance and factorization, for
// example after a hyperparameter change.
func (e *expert) dropMatrices() {
	e.ky = nil
	e.kyInv = nil
	e.alpha = nil
	e.builtVersion = 0
	e.builtSize = 0
	e.builtEnvs = 0
}

func (e *expert) setMatrices(f *factorization) {
	e.ky = f.ky
	e.kyInv = f.kyInv
	e.alpha = f.alpha
	e.lml = f.lml
	e.builtVersion = e.version
	e.builtSize = e.nLabels()
	e.builtEnvs = len(e.envs)
}
