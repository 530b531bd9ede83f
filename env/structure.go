// Package env builds local atomic environments: for one atom of a
// structure, the distances, directions and species of every neighbor
// within a cutoff radius. Environments are the inputs of the kernels
// in package kernel and are immutable once constructed.
package env

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Structure is a periodic or open arrangement of atoms. Cell holds the
// three lattice vectors as rows; a nil Cell means the structure is not
// periodic and distances are plain Euclidean.
type Structure struct {
	Cell      *mat.Dense
	Species   []int
	Positions []r3.Vec

	lattice [3]r3.Vec
}

// NewStructure validates the cell and per-atom slices. Species are
// atomic numbers, index-aligned with Positions.
func NewStructure(cell *mat.Dense, species []int, positions []r3.Vec) (*Structure, error) {
	if len(species) != len(positions) {
		return nil, fmt.Errorf("env: %d species for %d positions", len(species), len(positions))
	}
	s := &Structure{Cell: cell, Species: species, Positions: positions}
	if cell != nil {
		r, c := cell.Dims()
		if r != 3 || c != 3 {
			return nil, fmt.Errorf("env: cell must be 3x3, got %dx%d", r, c)
		}
		for i := 0; i < 3; i++ {
			s.lattice[i] = r3.Vec{X: cell.At(i, 0), Y: cell.At(i, 1), Z: cell.At(i, 2)}
		}
	}
	return s, nil
}

// NAtoms returns the number of atoms in the structure.
func (s *Structure) NAtoms() int { return len(s.Positions) }

// images returns the lattice translations to consider when searching
// for neighbors: the zero translation for open structures, one image
// shell for periodic ones. The cutoff is assumed smaller than the cell.
func (s *Structure) images() []r3.Vec {
	if s.Cell == nil {
		return []r3.Vec{{}}
	}
	shifts := make([]r3.Vec, 0, 27)
	for i := -1; i <= 1; i++ {
		for j := -1; j <= 1; j++ {
			for k := -1; k <= 1; k++ {
				v := r3.Add(r3.Scale(float64(i), s.lattice[0]),
					r3.Add(r3.Scale(float64(j), s.lattice[1]),
						r3.Scale(float64(k), s.lattice[2])))
				shifts = append(shifts, v)
			}
		}
	}
	return shifts
}
