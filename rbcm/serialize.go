package rbcm

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/materialsml/committee/env"
	"github.com/materialsml/committee/kernel"
)

var supportedFormats = []string{"binary", "gob"}

// matrixFileThreshold is the total environment count above which a
// serialized snapshot externalizes its matrices to a side file.
var matrixFileThreshold = 5000

// matrixBlob is a dense symmetric matrix in row-major form, the
// persisted shape of covariance and inverse-covariance matrices.
type matrixBlob struct {
	N    int
	Data []float64
}

type expertMatrices struct {
	Ky    *matrixBlob
	KyInv *matrixBlob
	Alpha []float64
}

type expertBlob struct {
	Envs         []*env.AtomicEnvironment
	Forces       []r3.Vec
	Structures   [][]*env.AtomicEnvironment
	Energies     []float64
	Observations int
	Version      uint64
	BuiltVersion uint64
	BuiltSize    int
	BuiltEnvs    int
	Lml          float64

	Matrices expertMatrices
}

type modelBlob struct {
	Name            string
	Hyps            []float64
	Cutoff          float64
	CutoffMask      map[int]float64
	Capacity        int
	PriorVariance   float64
	EnergyNoise     float64
	Workers         int
	Current         int
	Trained         bool
	TotalLikelihood float64
	TotalGradient   []float64
	Experts         []expertBlob

	// MatrixFile names a side file holding the per-expert matrices
	// when the snapshot grew past the externalization threshold.
	MatrixFile string
}

// WriteModel persists the model under name. Only the binary gob
// format is implemented; the snapshot restores to a fully operational
// model without replaying kernel computations. Large training sets
// move the matrices to a separate "<name>_kymat.gob" file so the main
// snapshot stays bounded.
func (m *Model) WriteModel(name, format string) error {
	switch strings.ToLower(format) {
	case "binary", "gob":
	default:
		return fmt.Errorf("%w: %q, supported formats are %v", ErrUnsupportedFormat, format, supportedFormats)
	}

	blob := modelBlob{
		Name:            m.name,
		Hyps:            m.hyps,
		Cutoff:          m.cutoff,
		CutoffMask:      m.cutoffMask,
		Capacity:        m.capacity,
		PriorVariance:   m.priorVar,
		EnergyNoise:     m.energyNoise,
		Workers:         m.workers,
		Current:         m.current,
		Trained:         m.trained,
		TotalLikelihood: m.totalLml,
		TotalGradient:   m.totalGrad,
	}

	externalize := m.totalEnvs() > matrixFileThreshold
	var side []expertMatrices
	for _, e := range m.experts {
		eb := expertBlob{
			Envs:         e.envs,
			Forces:       e.forces,
			Structures:   e.structures,
			Energies:     e.energies,
			Observations: e.observations,
			Version:      e.version,
			BuiltVersion: e.builtVersion,
			BuiltSize:    e.builtSize,
			BuiltEnvs:    e.builtEnvs,
			Lml:          e.lml,
		}
		mats := expertMatrices{
			Ky:    symBlob(e.ky),
			KyInv: symBlob(e.kyInv),
			Alpha: vecData(e.alpha),
		}
		if externalize {
			side = append(side, mats)
		} else {
			eb.Matrices = mats
		}
		blob.Experts = append(blob.Experts, eb)
	}

	if externalize {
		sideName := name + "_kymat.gob"
		if err := writeGob(sideName, side); err != nil {
			return err
		}
		blob.MatrixFile = filepath.Base(sideName)
		m.log.Info("matrices externalized", zap.String("file", sideName))
	}
	return writeGob(name+".gob", blob)
}

// ReadModel restores a model written by WriteModel. The kernel is not
// part of the snapshot and must be supplied again; a nil logger means
// no logging.
func ReadModel(path string, kern kernel.Kernel, logger *zap.Logger) (*Model, error) {
	if kern == nil {
		return nil, fmt.Errorf("%w: kernel is required", ErrInvalidArgument)
	}
	var blob modelBlob
	if err := readGob(path, &blob); err != nil {
		return nil, err
	}

	var side []expertMatrices
	if blob.MatrixFile != "" {
		sidePath := filepath.Join(filepath.Dir(path), blob.MatrixFile)
		if err := readGob(sidePath, &side); err != nil {
			return nil, err
		}
		if len(side) != len(blob.Experts) {
			return nil, fmt.Errorf("%w: matrix file holds %d experts, snapshot %d",
				ErrInvalidArgument, len(side), len(blob.Experts))
		}
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Model{
		name:        blob.Name,
		kern:        kern,
		hyps:        blob.Hyps,
		cutoff:      blob.Cutoff,
		cutoffMask:  blob.CutoffMask,
		capacity:    blob.Capacity,
		priorVar:    blob.PriorVariance,
		energyNoise: blob.EnergyNoise,
		workers:     blob.Workers,
		log:         logger,
		current:     blob.Current,
		trained:     blob.Trained,
		totalLml:    blob.TotalLikelihood,
		totalGrad:   blob.TotalGradient,
	}
	for i, eb := range blob.Experts {
		e := &expert{
			envs:         eb.Envs,
			forces:       eb.Forces,
			structures:   eb.Structures,
			energies:     eb.Energies,
			observations: eb.Observations,
			version:      eb.Version,
			builtVersion: eb.BuiltVersion,
			builtSize:    eb.BuiltSize,
			builtEnvs:    eb.BuiltEnvs,
			lml:          eb.Lml,
		}
		e.rebuildLabels()
		mats := eb.Matrices
		if side != nil {
			mats = side[i]
		}
		e.ky = blobSym(mats.Ky)
		e.kyInv = blobSym(mats.KyInv)
		if mats.Alpha != nil {
			e.alpha = mat.NewVecDense(len(mats.Alpha), mats.Alpha)
		}
		m.experts = append(m.experts, e)
	}
	if len(m.experts) == 0 {
		m.addExpert()
	}
	return m, nil
}

func (m *Model) totalEnvs() int {
	n := 0
	for _, e := range m.experts {
		n += len(e.envs)
	}
	return n
}

func symBlob(s *mat.SymDense) *matrixBlob {
	if s == nil {
		return nil
	}
	n, _ := s.Dims()
	data := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			data[i*n+j] = s.At(i, j)
			data[j*n+i] = s.At(i, j)
		}
	}
	return &matrixBlob{N: n, Data: data}
}

func blobSym(b *matrixBlob) *mat.SymDense {
	if b == nil {
		return nil
	}
	return mat.NewSymDense(b.N, b.Data)
}

func vecData(v *mat.VecDense) []float64 {
	if v == nil {
		return nil
	}
	return append([]float64(nil), v.RawVector().Data...)
}

func writeGob(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("rbcm: write %s: %w", path, err)
	}
	if err := gob.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("rbcm: encode %s: %w", path, err)
	}
	return f.Close()
}

func readGob(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("rbcm: read %s: %w", path, err)
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("rbcm: decode %s: %w", path, err)
	}
	return nil
}
