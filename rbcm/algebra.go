package rbcm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

const log2Pi = 1.8378770664093453

// factorization bundles the matrices derived from one covariance
// matrix: the inverse through the Cholesky factor, the weight vector
// alpha = K^-1 y, and the log marginal likelihood.
type factorization struct {
	ky    *mat.SymDense
	kyInv *mat.SymDense
	alpha *mat.VecDense
	lml   float64
}

// factorize Cholesky-factors ky and derives the inverse, alpha and the
// log marginal likelihood of the labels. A matrix that is not positive
// definite yields ErrFactorization.
func factorize(ky *mat.SymDense, labels *mat.VecDense) (*factorization, error) {
	n, _ := ky.Dims()
	if labels.Len() != n {
		return nil, fmt.Errorf("%w: %d labels for a %d-dimensional covariance matrix",
			ErrInvalidArgument, labels.Len(), n)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(ky); !ok {
		return nil, ErrFactorization
	}

	kyInv := mat.NewSymDense(n, nil)
	if err := chol.InverseTo(kyInv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFactorization, err)
	}

	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, labels); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFactorization, err)
	}

	lml := -0.5*mat.Dot(labels, alpha) - 0.5*chol.LogDet() - 0.5*float64(n)*log2Pi

	return &factorization{ky: ky, kyInv: kyInv, alpha: alpha, lml: lml}, nil
}

// likelihoodAndGrad computes the factorization of one snapshot and the
// gradient of its log marginal likelihood with respect to the
// hyperparameters, via d lml / d hyp = 0.5 (alpha^T dK alpha -
// tr(K^-1 dK)).
func likelihoodAndGrad(bd buildData, labels *mat.VecDense) (*factorization, []float64, error) {
	ky, grads := buildCovarianceWithGrad(bd)
	f, err := factorize(ky, labels)
	if err != nil {
		return nil, nil, err
	}

	n, _ := ky.Dims()
	grad := make([]float64, len(grads))
	tmp := mat.NewVecDense(n, nil)
	for j, dk := range grads {
		tmp.MulVec(dk, f.alpha)
		quad := mat.Dot(f.alpha, tmp)

		// tr(K^-1 dK): both matrices are symmetric, so the trace is
		// the elementwise product sum.
		var trace float64
		for i := 0; i < n; i++ {
			trace += f.kyInv.At(i, i) * dk.At(i, i)
			for k := i + 1; k < n; k++ {
				trace += 2 * f.kyInv.At(i, k) * dk.At(i, k)
			}
		}
		grad[j] = 0.5 * (quad - trace)
	}
	return f, grad, nil
}
