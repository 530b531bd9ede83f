// Package rbcm implements a robust Bayesian committee machine: a
// Gaussian-process force/energy surrogate whose training data is
// partitioned across a dynamically growing set of experts, each with
// its own covariance matrix and Cholesky factorization. Per-expert
// predictions are combined by precision-weighted product-of-experts
// aggregation with a shared prior variance as the fallback.
package rbcm

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/materialsml/committee/env"
	"github.com/materialsml/committee/kernel"
)

// Defaults used by New when the corresponding Config field is zero.
const (
	DefaultCapacity      = 200
	DefaultPriorVariance = 1.0
	DefaultEnergyNoise   = 0.01
	DefaultCutoff        = 5.0
)

// Config configures a committee model. Kernel is required; zero-valued
// fields fall back to the defaults above.
type Config struct {
	Name   string
	Kernel kernel.Kernel

	// Hyps is the initial shared hyperparameter vector,
	// [sigma, length, noise] for the bundled two-body kernel.
	Hyps []float64

	// Cutoff and CutoffMask control environment construction for
	// observations added through structures.
	Cutoff     float64
	CutoffMask map[int]float64

	// CapacityPerExpert is the observation count above which newly
	// routed data spawns the next expert.
	CapacityPerExpert int

	// PriorVariance anchors the aggregate variance when every expert
	// is uncertain.
	PriorVariance float64

	// EnergyNoise conditions the energy block diagonal; it is not
	// optimized.
	EnergyNoise float64

	// Workers bounds the kernel-evaluation fan-out during matrix
	// builds. Defaults to GOMAXPROCS.
	Workers int

	Logger *zap.Logger
}

// Model is a robust Bayesian committee machine. Methods are not safe
// for concurrent use; the internal worker fan-out is confined to a
// single build.
type Model struct {
	name        string
	kern        kernel.Kernel
	hyps        []float64
	cutoff      float64
	cutoffMask  map[int]float64
	capacity    int
	priorVar    float64
	energyNoise float64
	workers     int
	log         *zap.Logger

	experts []*expert
	current int

	trained   bool
	totalLml  float64
	totalGrad []float64
}

// New creates a model with a single empty expert.
func New(cfg Config) (*Model, error) {
	if cfg.Kernel == nil {
		return nil, fmt.Errorf("%w: kernel is required", ErrInvalidArgument)
	}
	hyps := cfg.Hyps
	if hyps == nil {
		hyps = []float64{1, 1, 0.1}
	}
	if len(hyps) != cfg.Kernel.NHyps() {
		return nil, fmt.Errorf("%w: %d hyperparameters, kernel wants %d",
			ErrInvalidArgument, len(hyps), cfg.Kernel.NHyps())
	}
	m := &Model{
		name:        cfg.Name,
		kern:        cfg.Kernel,
		hyps:        append([]float64(nil), hyps...),
		cutoff:      cfg.Cutoff,
		cutoffMask:  cfg.CutoffMask,
		capacity:    cfg.CapacityPerExpert,
		priorVar:    cfg.PriorVariance,
		energyNoise: cfg.EnergyNoise,
		workers:     cfg.Workers,
		log:         cfg.Logger,
	}
	if m.name == "" {
		m.name = "default_gp"
	}
	if m.cutoff == 0 {
		m.cutoff = DefaultCutoff
	}
	if m.capacity == 0 {
		m.capacity = DefaultCapacity
	}
	if m.priorVar == 0 {
		m.priorVar = DefaultPriorVariance
	}
	if m.priorVar < 0 {
		return nil, fmt.Errorf("%w: prior variance must be positive", ErrInvalidArgument)
	}
	if m.energyNoise == 0 {
		m.energyNoise = DefaultEnergyNoise
	}
	if m.workers == 0 {
		m.workers = runtime.GOMAXPROCS(0)
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	m.addExpert()
	return m, nil
}

// NExperts returns the number of experts, including empty ones.
func (m *Model) NExperts() int { return len(m.experts) }

// Hyps returns a copy of the shared hyperparameter vector.
func (m *Model) Hyps() []float64 { return append([]float64(nil), m.hyps...) }

// Cutoff returns the cutoff radius used for environment construction.
func (m *Model) Cutoff() float64 { return m.cutoff }

// SetHyps replaces the shared hyperparameters and invalidates every
// expert's cached factorization.
func (m *Model) SetHyps(hyps []float64) error {
	if len(hyps) != m.kern.NHyps() {
		return fmt.Errorf("%w: %d hyperparameters, kernel wants %d",
			ErrInvalidArgument, len(hyps), m.kern.NHyps())
	}
	m.hyps = append([]float64(nil), hyps...)
	for _, e := range m.experts {
		e.dropMatrices()
	}
	return nil
}

func (m *Model) addExpert() int {
	m.experts = append(m.experts, newExpert())
	id := len(m.experts) - 1
	m.log.Debug("spawning expert", zap.String("model", m.name), zap.Int("expert", id))
	return id
}

// nextExpert routes automatically added observations: once the current
// expert exceeds capacity, advance to the next id, creating the expert
// when it does not exist yet. Routing never goes back.
func (m *Model) nextExpert() int {
	if m.experts[m.current].observations > m.capacity {
		m.current++
		if m.current >= len(m.experts) {
			m.addExpert()
		}
	}
	return m.current
}

// resolveExpert validates an explicit expert id, growing the arena by
// one when the id is exactly the next unallocated one.
func (m *Model) resolveExpert(id int) (int, error) {
	if id == len(m.experts) {
		return m.addExpert(), nil
	}
	if id < 0 || id > len(m.experts) {
		return 0, fmt.Errorf("%w: expert id %d with %d experts", ErrInvalidArgument, id, len(m.experts))
	}
	return id, nil
}

// AddObservation adds labeled data from a structure to the expert
// chosen by the router. When forces are given, the local environments
// of the atoms (all of them, or just those in atoms) become force
// observations. When energy is non-nil, environments of every atom are
// appended as one structure entry with the scalar energy label.
func (m *Model) AddObservation(st *env.Structure, forces []r3.Vec, energy *float64, atoms []int) error {
	return m.addObservation(st, forces, energy, atoms, m.nextExpert())
}

// AddObservationTo is AddObservation targeting an explicit expert id,
// bypassing the router. The id may exceed the current expert count by
// one, which allocates a new expert.
func (m *Model) AddObservationTo(expertID int, st *env.Structure, forces []r3.Vec, energy *float64, atoms []int) error {
	id, err := m.resolveExpert(expertID)
	if err != nil {
		return err
	}
	return m.addObservation(st, forces, energy, atoms, id)
}

func (m *Model) addObservation(st *env.Structure, forces []r3.Vec, energy *float64, atoms []int, id int) error {
	if st == nil {
		return fmt.Errorf("%w: nil structure", ErrInvalidArgument)
	}
	if forces != nil && len(forces) != st.NAtoms() {
		return fmt.Errorf("%w: %d forces for %d atoms", ErrInvalidArgument, len(forces), st.NAtoms())
	}
	e := m.experts[id]

	if forces != nil {
		update := atoms
		if update == nil {
			update = make([]int, st.NAtoms())
			for i := range update {
				update[i] = i
			}
		}
		for _, atom := range update {
			if atom < 0 || atom >= st.NAtoms() {
				return fmt.Errorf("%w: atom %d out of range", ErrInvalidArgument, atom)
			}
			x, err := env.NewMasked(st, atom, m.cutoff, m.cutoffMask)
			if err != nil {
				return err
			}
			e.appendForce(x, forces[atom])
			m.log.Debug("add environment to expert",
				zap.String("model", m.name), zap.Int("expert", id), zap.Int("atom", atom))
		}
	}

	if energy != nil {
		envs := make([]*env.AtomicEnvironment, st.NAtoms())
		for atom := range envs {
			x, err := env.NewMasked(st, atom, m.cutoff, m.cutoffMask)
			if err != nil {
				return err
			}
			envs[atom] = x
		}
		e.appendStructure(envs, *energy)
		m.log.Debug("add structure energy to expert",
			zap.String("model", m.name), zap.Int("expert", id), zap.Float64("energy", *energy))
	}
	return nil
}

// AddForceObservation appends a single pre-built environment and its
// force label to the expert chosen by the router.
func (m *Model) AddForceObservation(x *env.AtomicEnvironment, force r3.Vec) error {
	return m.addForce(x, force, m.nextExpert())
}

// AddForceObservationTo is AddForceObservation with an explicit expert id.
func (m *Model) AddForceObservationTo(expertID int, x *env.AtomicEnvironment, force r3.Vec) error {
	id, err := m.resolveExpert(expertID)
	if err != nil {
		return err
	}
	return m.addForce(x, force, id)
}

func (m *Model) addForce(x *env.AtomicEnvironment, force r3.Vec, id int) error {
	if x == nil {
		return fmt.Errorf("%w: nil environment", ErrInvalidArgument)
	}
	m.experts[id].appendForce(x, force)
	m.log.Debug("add environment to expert", zap.String("model", m.name), zap.Int("expert", id))
	return nil
}

func (m *Model) totalLabels() int {
	n := 0
	for _, e := range m.experts {
		n += e.nLabels()
	}
	return n
}

func (m *Model) buildDataFor(e *expert) buildData {
	return buildData{
		kern:        m.kern,
		hyps:        m.hyps,
		energyNoise: m.energyNoise,
		workers:     m.workers,
		envs:        e.envs,
		structures:  e.structures,
	}
}

// RefreshFactorizations brings every expert's cached matrices up to
// date with its training stores, rebuilding or rank-updating only
// where data changed. Calling it again without intervening appends is
// a no-op.
func (m *Model) RefreshFactorizations() error {
	for i := range m.experts {
		if err := m.refreshExpert(i); err != nil {
			return fmt.Errorf("expert %d: %w", i, err)
		}
	}
	return nil
}

// refreshExpert applies the rebuild-versus-update policy: empty
// experts are skipped; missing caches force a full build; pure label
// growth on the same version lineage takes the incremental row update;
// anything else (shrink, replaced labels) forces a full rebuild.
func (m *Model) refreshExpert(i int) error {
	e := m.experts[i]
	switch e.state() {
	case stateEmpty, stateCurrent:
		return nil
	}

	bd := m.buildDataFor(e)
	var ky *mat.SymDense
	switch {
	case e.ky == nil || e.alpha == nil:
		ky = buildCovariance(bd)
	case e.nLabels() > e.builtSize && len(e.envs) >= e.builtEnvs:
		ky = updateCovariance(bd, e.ky, e.builtEnvs)
	default:
		ky = buildCovariance(bd)
	}

	f, err := factorize(ky, e.labels)
	if err != nil {
		return err
	}
	e.setMatrices(f)
	m.log.Debug("factorization refreshed",
		zap.String("model", m.name), zap.Int("expert", i), zap.Int("size", e.builtSize))
	return nil
}
