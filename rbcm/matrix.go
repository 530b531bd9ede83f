package rbcm

import (
	"gonum.org/v1/gonum/mat"
	"golang.org/x/sync/errgroup"

	"github.com/materialsml/committee/env"
	"github.com/materialsml/committee/kernel"
)

// buildData is a read-only snapshot of one expert's training data plus
// the shared kernel state, passed by value into the builders. Worker
// goroutines read only from the snapshot, so a build needs no locking
// and no global registry.
type buildData struct {
	kern        kernel.Kernel
	hyps        []float64
	energyNoise float64
	workers     int

	envs       []*env.AtomicEnvironment
	structures [][]*env.AtomicEnvironment
}

func (bd buildData) nForce() int  { return 3 * len(bd.envs) }
func (bd buildData) nLabels() int { return 3*len(bd.envs) + len(bd.structures) }

func (bd buildData) limit() int {
	if bd.workers < 1 {
		return 1
	}
	return bd.workers
}

// symSet writes both mirror entries of a dense-backed symmetric
// matrix. Rows are partitioned across workers so writes never collide.
func symSet(data []float64, n, i, j int, v float64) {
	data[i*n+j] = v
	data[j*n+i] = v
}

// buildCovariance computes the full covariance matrix of the snapshot:
// the force block, the energy block and the force-energy cross block,
// with squared noise terms on the diagonal.
func buildCovariance(bd buildData) *mat.SymDense {
	ky, _ := buildBlocks(bd, false)
	return ky
}

// buildCovarianceWithGrad additionally returns dK/dhyp for every
// hyperparameter. The noise derivative is diagonal on the force block;
// the energy noise is fixed and contributes no gradient.
func buildCovarianceWithGrad(bd buildData) (*mat.SymDense, []*mat.SymDense) {
	return buildBlocks(bd, true)
}

func buildBlocks(bd buildData, withGrad bool) (*mat.SymDense, []*mat.SymDense) {
	n3 := bd.nForce()
	n := bd.nLabels()
	data := make([]float64, n*n)

	nhyps := len(bd.hyps)
	var gdata [][]float64
	if withGrad {
		gdata = make([][]float64, nhyps)
		for i := range gdata {
			gdata[i] = make([]float64, n*n)
		}
	}

	// Force rows fan out per environment; each worker owns three rows.
	g := new(errgroup.Group)
	g.SetLimit(bd.limit())
	for p := range bd.envs {
		p := p
		g.Go(func() error {
			grad := make([]float64, kernel.NGrad)
			for q := p; q < len(bd.envs); q++ {
				for d1 := 0; d1 < 3; d1++ {
					for d2 := 0; d2 < 3; d2++ {
						i, j := 3*p+d1, 3*q+d2
						if j < i {
							continue
						}
						v := forceEntry(bd, p, q, d1+1, d2+1, grad, withGrad)
						symSet(data, n, i, j, v)
						if withGrad {
							symSet(gdata[kernel.HypSigma], n, i, j, grad[kernel.HypSigma])
							symSet(gdata[kernel.HypLength], n, i, j, grad[kernel.HypLength])
						}
					}
				}
			}
			for s := range bd.structures {
				for d1 := 0; d1 < 3; d1++ {
					i, j := 3*p+d1, n3+s
					v := crossEntry(bd, p, d1+1, s, grad, withGrad, gdata, n, i, j)
					symSet(data, n, i, j, v)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	// Energy block is small; fill it serially.
	egrad := make([]float64, kernel.NGrad)
	for s1 := range bd.structures {
		for s2 := s1; s2 < len(bd.structures); s2++ {
			var v, gs, gl float64
			for _, ea := range bd.structures[s1] {
				for _, eb := range bd.structures[s2] {
					if withGrad {
						v += bd.kern.EnergyWithGrad(ea, eb, bd.hyps, egrad)
						gs += egrad[kernel.HypSigma]
						gl += egrad[kernel.HypLength]
					} else {
						v += bd.kern.Energy(ea, eb, bd.hyps)
					}
				}
			}
			i, j := n3+s1, n3+s2
			symSet(data, n, i, j, v)
			if withGrad {
				symSet(gdata[kernel.HypSigma], n, i, j, gs)
				symSet(gdata[kernel.HypLength], n, i, j, gl)
			}
		}
	}

	addNoiseDiagonal(bd, data, n, 0)
	ky := mat.NewSymDense(n, data)
	if !withGrad {
		return ky, nil
	}

	noise := bd.hyps[kernel.HypNoise]
	for i := 0; i < n3; i++ {
		gdata[kernel.HypNoise][i*n+i] = 2 * noise
	}
	grads := make([]*mat.SymDense, nhyps)
	for i := range grads {
		grads[i] = mat.NewSymDense(n, gdata[i])
	}
	return ky, grads
}

func forceEntry(bd buildData, p, q, d1, d2 int, grad []float64, withGrad bool) float64 {
	if withGrad {
		return bd.kern.ForceWithGrad(bd.envs[p], bd.envs[q], d1, d2, bd.hyps, grad)
	}
	return bd.kern.Force(bd.envs[p], bd.envs[q], d1, d2, bd.hyps)
}

func crossEntry(bd buildData, p, d1, s int, grad []float64, withGrad bool, gdata [][]float64, n, i, j int) float64 {
	var v, gs, gl float64
	for _, eb := range bd.structures[s] {
		if withGrad {
			v += bd.kern.ForceEnergyWithGrad(bd.envs[p], d1, eb, bd.hyps, grad)
			gs += grad[kernel.HypSigma]
			gl += grad[kernel.HypLength]
		} else {
			v += bd.kern.ForceEnergy(bd.envs[p], d1, eb, bd.hyps)
		}
	}
	if withGrad {
		symSet(gdata[kernel.HypSigma], n, i, j, gs)
		symSet(gdata[kernel.HypLength], n, i, j, gl)
	}
	return v
}

// addNoiseDiagonal adds the squared force noise to force diagonal
// entries at index >= fromForce and the squared energy noise to every
// energy diagonal entry.
func addNoiseDiagonal(bd buildData, data []float64, n, fromForce int) {
	noise2 := bd.hyps[kernel.HypNoise] * bd.hyps[kernel.HypNoise]
	for i := fromForce; i < bd.nForce(); i++ {
		data[i*n+i] += noise2
	}
	e2 := bd.energyNoise * bd.energyNoise
	for i := bd.nForce(); i < n; i++ {
		data[i*n+i] += e2
	}
}

// updateCovariance enlarges a previously built covariance matrix after
// environments or structures were appended. The old force block is
// reused; only the new force rows, the cross block and the (small)
// energy block are recomputed.
func updateCovariance(bd buildData, prev *mat.SymDense, prevEnvs int) *mat.SymDense {
	n3prev := 3 * prevEnvs
	n3 := bd.nForce()
	n := bd.nLabels()
	data := make([]float64, n*n)

	// Old force block, noise already on its diagonal.
	for i := 0; i < n3prev; i++ {
		for j := i; j < n3prev; j++ {
			symSet(data, n, i, j, prev.At(i, j))
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(bd.limit())
	for p := prevEnvs; p < len(bd.envs); p++ {
		p := p
		g.Go(func() error {
			for q := 0; q < len(bd.envs); q++ {
				for d1 := 0; d1 < 3; d1++ {
					for d2 := 0; d2 < 3; d2++ {
						i, j := 3*p+d1, 3*q+d2
						if j > i {
							continue // row ownership: new rows fill their lower half
						}
						v := bd.kern.Force(bd.envs[p], bd.envs[q], d1+1, d2+1, bd.hyps)
						symSet(data, n, i, j, v)
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	// Cross and energy blocks in full.
	for p := range bd.envs {
		for s := range bd.structures {
			for d1 := 0; d1 < 3; d1++ {
				var v float64
				for _, eb := range bd.structures[s] {
					v += bd.kern.ForceEnergy(bd.envs[p], d1+1, eb, bd.hyps)
				}
				symSet(data, n, 3*p+d1, n3+s, v)
			}
		}
	}
	for s1 := range bd.structures {
		for s2 := s1; s2 < len(bd.structures); s2++ {
			var v float64
			for _, ea := range bd.structures[s1] {
				for _, eb := range bd.structures[s2] {
					v += bd.kern.Energy(ea, eb, bd.hyps)
				}
			}
			symSet(data, n, n3+s1, n3+s2, v)
		}
	}

	addNoiseDiagonal(bd, data, n, n3prev)
	return mat.NewSymDense(n, data)
}

// kernelVector computes the covariance between a query environment's
// force component d and every labeled entry of the snapshot.
func kernelVector(bd buildData, x *env.AtomicEnvironment, d int) *mat.VecDense {
	n := bd.nLabels()
	data := make([]float64, n)

	g := new(errgroup.Group)
	g.SetLimit(bd.limit())
	for q := range bd.envs {
		q := q
		g.Go(func() error {
			for d2 := 0; d2 < 3; d2++ {
				data[3*q+d2] = bd.kern.Force(x, bd.envs[q], d, d2+1, bd.hyps)
			}
			return nil
		})
	}
	_ = g.Wait()

	n3 := bd.nForce()
	for s := range bd.structures {
		var v float64
		for _, eb := range bd.structures[s] {
			v += bd.kern.ForceEnergy(x, d, eb, bd.hyps)
		}
		data[n3+s] = v
	}
	return mat.NewVecDense(n, data)
}
