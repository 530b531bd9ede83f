// Command gen emits a synthetic trajectory in the frame CSV format
// consumed by otf. Atoms start on a jittered grid and random-walk
// between frames; forces and energies come from a Lennard-Jones pair
// potential, so the labels are a smooth function of the geometry.
package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

var (
	NATOMS  = 8
	NFRAMES = 20
	SPACING = 1.4
	STEP    = 0.05
	EPS     = 0.2
	SIGMA   = 1.2
	SEED    = int64(0)
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			`Generate a synthetic trajectory. Invocation:
	%s [OPTIONS] > FRAMES
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.IntVar(&NATOMS, "n", NATOMS, "atoms per frame")
	flag.IntVar(&NFRAMES, "frames", NFRAMES, "number of frames")
	flag.Float64Var(&SPACING, "spacing", SPACING, "initial grid spacing")
	flag.Float64Var(&STEP, "step", STEP, "random walk amplitude per frame")
	flag.Float64Var(&EPS, "eps", EPS, "Lennard-Jones well depth")
	flag.Float64Var(&SIGMA, "sigma", SIGMA, "Lennard-Jones radius")
	flag.Int64Var(&SEED, "seed", SEED, "random seed, 0 for time-based")
}

// ljForces evaluates Lennard-Jones forces on every atom and the total
// potential energy.
func ljForces(pos []r3.Vec) ([]r3.Vec, float64) {
	forces := make([]r3.Vec, len(pos))
	energy := 0.
	for i := range pos {
		for j := i + 1; j < len(pos); j++ {
			d := r3.Sub(pos[i], pos[j])
			r := r3.Norm(d)
			sr6 := math.Pow(SIGMA/r, 6)
			energy += 4 * EPS * (sr6*sr6 - sr6)
			// dV/dr projected on the bond, acting on both atoms.
			f := 24 * EPS * (2*sr6*sr6 - sr6) / (r * r)
			forces[i] = r3.Add(forces[i], r3.Scale(f, d))
			forces[j] = r3.Sub(forces[j], r3.Scale(f, d))
		}
	}
	return forces, energy
}

func main() {
	flag.Parse()
	seed := SEED
	if seed == 0 {
		seed = time.Now().UTC().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	// Jittered grid start, alternating silicon and hydrogen.
	side := int(math.Ceil(math.Cbrt(float64(NATOMS))))
	species := make([]int, NATOMS)
	pos := make([]r3.Vec, NATOMS)
	for i := 0; i < NATOMS; i++ {
		if i%2 == 0 {
			species[i] = 14
		} else {
			species[i] = 1
		}
		pos[i] = r3.Vec{
			X: SPACING * (float64(i%side) + 0.1*rng.NormFloat64()),
			Y: SPACING * (float64(i/side%side) + 0.1*rng.NormFloat64()),
			Z: SPACING * (float64(i/(side*side)) + 0.1*rng.NormFloat64()),
		}
	}

	for frame := 0; frame < NFRAMES; frame++ {
		forces, energy := ljForces(pos)
		for i := range pos {
			fmt.Printf("%d,%d,%f,%f,%f,%f,%f,%f,%f\n",
				frame, species[i],
				pos[i].X, pos[i].Y, pos[i].Z,
				forces[i].X, forces[i].Y, forces[i].Z,
				energy)
		}
		for i := range pos {
			pos[i] = r3.Add(pos[i], r3.Vec{
				X: STEP * rng.NormFloat64(),
				Y: STEP * rng.NormFloat64(),
				Z: STEP * rng.NormFloat64(),
			})
		}
	}
}
