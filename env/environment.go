package env

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Bond is one neighbor of the central atom: its distance, the unit
// vector pointing from the central atom to it, and its species.
type Bond struct {
	R       float64
	Dir     r3.Vec
	Species int
}

// AtomicEnvironment is the local neighborhood of one atom. All fields
// are fixed at construction; the kernels treat environments as values.
type AtomicEnvironment struct {
	Species int
	Atom    int
	Cutoff  float64
	Bonds   []Bond
}

// New builds the environment of atom in s with a single cutoff radius
// for every neighbor species.
func New(s *Structure, atom int, cutoff float64) (*AtomicEnvironment, error) {
	return NewMasked(s, atom, cutoff, nil)
}

// NewMasked builds the environment of atom in s. The mask, when
// non-nil, overrides the cutoff per neighbor species (atomic number).
func NewMasked(s *Structure, atom int, cutoff float64, mask map[int]float64) (*AtomicEnvironment, error) {
	if atom < 0 || atom >= s.NAtoms() {
		return nil, fmt.Errorf("env: atom %d out of range [0,%d)", atom, s.NAtoms())
	}
	if cutoff <= 0 {
		return nil, fmt.Errorf("env: cutoff must be positive, got %g", cutoff)
	}
	e := &AtomicEnvironment{
		Species: s.Species[atom],
		Atom:    atom,
		Cutoff:  cutoff,
	}
	center := s.Positions[atom]
	shifts := s.images()
	for j := 0; j < s.NAtoms(); j++ {
		rc := cutoff
		if mask != nil {
			if c, ok := mask[s.Species[j]]; ok {
				rc = c
			}
		}
		for _, shift := range shifts {
			d := r3.Add(r3.Sub(s.Positions[j], center), shift)
			dist := r3.Norm(d)
			if dist == 0 || dist >= rc {
				continue
			}
			e.Bonds = append(e.Bonds, Bond{
				R:       dist,
				Dir:     r3.Scale(1/dist, d),
				Species: s.Species[j],
			})
		}
	}
	return e, nil
}
