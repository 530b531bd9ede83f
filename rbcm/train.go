package rbcm

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// TrainOptions tunes the hyperparameter search. Zero-valued fields
// take the defaults below, which follow the usual on-the-fly settings.
type TrainOptions struct {
	// GradTol terminates the search when the gradient norm of the
	// negative total likelihood falls below it.
	GradTol float64

	// FuncTol, when positive, additionally terminates the search once
	// the objective stops improving by more than it.
	FuncTol float64

	// MaxIterations bounds the major iterations of each method.
	MaxIterations int

	// Bounds optionally replaces the default box constraints,
	// one [low, high] pair per hyperparameter.
	Bounds [][2]float64
}

const (
	defaultGradTol    = 1e-4
	defaultMaxIter    = 10
	defaultHypFloor   = 1e-6
	defaultNoiseFloor = 1e-3

	// boundPenalty is the weight of the quadratic penalty standing in
	// for hard box constraints; the optimizer itself is unconstrained.
	boundPenalty = 1e6
)

// TrainResult reports the outcome of a hyperparameter optimization.
type TrainResult struct {
	Hyps               []float64
	TotalLikelihood    float64
	LikelihoodGradient []float64
	Method             string
	Iterations         int
}

// strategy is one optimization method tried during Train. Strategies
// are attempted in order; a linear-algebra failure during one moves on
// to the next instead of aborting the run.
type strategy struct {
	name    string
	method  optimize.Method
	bounded bool
}

// objective is the negative total log marginal likelihood summed over
// all experts, sharing one hyperparameter vector. Experts do not
// interact in the objective. A factorization failure during a trial
// evaluation is recorded in factErr for the caller to inspect.
type objective struct {
	m       *Model
	bounds  [][2]float64
	factErr error
	scratch []float64
}

func (o *objective) fn(x []float64) float64 {
	return o.eval(x, o.scratch)
}

func (o *objective) grad(grad, x []float64) {
	o.eval(x, grad)
}

func (o *objective) eval(x, grad []float64) float64 {
	for i := range grad {
		grad[i] = 0
	}

	neg := 0.0
	if o.bounds != nil {
		neg += penalty(x, o.bounds, grad)
	}

	for _, e := range o.m.experts {
		if e.nLabels() == 0 {
			continue
		}
		bd := o.m.buildDataFor(e)
		bd.hyps = x
		f, g, err := likelihoodAndGrad(bd, e.labels)
		if err != nil {
			o.factErr = err
			return math.NaN()
		}
		neg -= f.lml
		floats.AddScaled(grad, -1, g)
	}

	o.m.log.Debug("objective evaluated",
		zap.Float64s("hyps", x), zap.Float64("total likelihood", -neg))
	return neg
}

// penalty approximates box constraints with a smooth quadratic wall,
// adding its gradient to grad.
func penalty(x []float64, bounds [][2]float64, grad []float64) float64 {
	p := 0.0
	for i, b := range bounds {
		if x[i] < b[0] {
			d := b[0] - x[i]
			p += boundPenalty * d * d
			grad[i] -= 2 * boundPenalty * d
		}
		if !math.IsInf(b[1], 1) && x[i] > b[1] {
			d := x[i] - b[1]
			p += boundPenalty * d * d
			grad[i] += 2 * boundPenalty * d
		}
	}
	return p
}

// defaultBounds keeps every hyperparameter positive and bounds the
// noise away from zero to prevent degenerate overfitting.
func defaultBounds(n int) [][2]float64 {
	bounds := make([][2]float64, n)
	for i := range bounds {
		bounds[i] = [2]float64{defaultHypFloor, math.Inf(1)}
	}
	bounds[n-1][0] = defaultNoiseFloor
	return bounds
}

// Train maximizes the total log marginal likelihood over the shared
// hyperparameters, then recomputes every expert's factorization at the
// optimum and caches the total likelihood and its gradient. The
// methods in the strategy list are tried in order; only when none
// produces a result does Train fail.
func (m *Model) Train(opts TrainOptions) (*TrainResult, error) {
	if m.totalLabels() == 0 {
		return nil, ErrEmptyModel
	}
	if opts.GradTol == 0 {
		opts.GradTol = defaultGradTol
	}
	if opts.MaxIterations == 0 {
		opts.MaxIterations = defaultMaxIter
	}
	bounds := opts.Bounds
	if bounds == nil {
		bounds = defaultBounds(len(m.hyps))
	} else if len(bounds) != len(m.hyps) {
		return nil, fmt.Errorf("%w: %d bounds for %d hyperparameters",
			ErrInvalidArgument, len(bounds), len(m.hyps))
	}

	strategies := []strategy{
		{name: "L-BFGS", method: &optimize.LBFGS{}, bounded: true},
		{name: "BFGS", method: &optimize.BFGS{}, bounded: false},
	}

	var (
		result  *optimize.Result
		method  string
		lastErr error
	)
	for _, s := range strategies {
		o := &objective{m: m, scratch: make([]float64, len(m.hyps))}
		if s.bounded {
			o.bounds = bounds
		}
		p := optimize.Problem{Func: o.fn, Grad: o.grad}
		settings := &optimize.Settings{
			GradientThreshold: opts.GradTol,
			MajorIterations:   opts.MaxIterations,
		}
		if opts.FuncTol > 0 {
			settings.Converger = &optimize.FunctionConverge{
				Absolute:   opts.FuncTol,
				Iterations: 3,
			}
		}

		x0 := append([]float64(nil), m.hyps...)
		res, err := optimize.Minimize(p, x0, settings, s.method)
		if o.factErr != nil {
			m.log.Warn("factorization failed during optimization, switching method",
				zap.String("method", s.name), zap.Error(o.factErr))
			lastErr = o.factErr
			continue
		}
		if err != nil && (res == nil || res.Stats.MajorIterations <= 1) {
			// A method that stopped on its first iteration brought no
			// improvement; anything later usually did, so keep it.
			m.log.Warn("optimization method failed, switching method",
				zap.String("method", s.name), zap.Error(err))
			lastErr = err
			continue
		}
		result = res
		method = s.name
		break
	}
	if result == nil {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrOptimization, lastErr)
		}
		return nil, ErrOptimization
	}

	m.hyps = append([]float64(nil), result.X...)
	for _, e := range m.experts {
		e.dropMatrices()
	}

	// Full factorizations and cached likelihood at the optimum.
	total := 0.0
	totalGrad := make([]float64, len(m.hyps))
	for i, e := range m.experts {
		if e.nLabels() == 0 {
			continue
		}
		f, g, err := likelihoodAndGrad(m.buildDataFor(e), e.labels)
		if err != nil {
			return nil, fmt.Errorf("expert %d: %w", i, err)
		}
		e.setMatrices(f)
		total += f.lml
		floats.Add(totalGrad, g)
	}
	m.trained = true
	m.totalLml = total
	m.totalGrad = totalGrad

	m.log.Info("hyperparameters optimized",
		zap.String("method", method),
		zap.Float64s("hyps", m.hyps),
		zap.Float64("total likelihood", total),
		zap.Int("iterations", result.Stats.MajorIterations))

	return &TrainResult{
		Hyps:               m.Hyps(),
		TotalLikelihood:    total,
		LikelihoodGradient: append([]float64(nil), totalGrad...),
		Method:             method,
		Iterations:         result.Stats.MajorIterations,
	}, nil
}

// TotalLikelihood returns the cached total log marginal likelihood
// summed across experts; valid after Train or TotalLikelihoodNow.
func (m *Model) TotalLikelihood() float64 { return m.totalLml }

// LikelihoodGradient returns a copy of the cached gradient of the
// total log marginal likelihood.
func (m *Model) LikelihoodGradient() []float64 {
	return append([]float64(nil), m.totalGrad...)
}

// TotalLikelihoodNow recomputes the total log marginal likelihood and
// its gradient at the current hyperparameters, refreshing every
// expert's factorization from scratch.
func (m *Model) TotalLikelihoodNow() (float64, error) {
	if m.totalLabels() == 0 {
		return 0, ErrEmptyModel
	}
	total := 0.0
	totalGrad := make([]float64, len(m.hyps))
	for i, e := range m.experts {
		if e.nLabels() == 0 {
			continue
		}
		f, g, err := likelihoodAndGrad(m.buildDataFor(e), e.labels)
		if err != nil {
			return 0, fmt.Errorf("expert %d: %w", i, err)
		}
		e.setMatrices(f)
		total += f.lml
		floats.Add(totalGrad, g)
	}
	m.totalLml = total
	m.totalGrad = totalGrad
	return total, nil
}
