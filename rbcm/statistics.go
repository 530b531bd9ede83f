package rbcm

import (
	"sort"

	"github.com/materialsml/committee/env"
)

// Statistics summarizes the current training data.
type Statistics struct {
	// ExpertCounts is the number of force observations per expert.
	ExpertCounts []int

	// Species lists the element symbols present in the training
	// environments, sorted.
	Species []string

	// EnvsBySpecies counts training environments per central-atom
	// element symbol.
	EnvsBySpecies map[string]int
}

// TrainingStatistics reports per-expert observation counts and the
// species composition of the training set.
func (m *Model) TrainingStatistics() Statistics {
	stats := Statistics{
		ExpertCounts:  make([]int, len(m.experts)),
		EnvsBySpecies: make(map[string]int),
	}
	for i, e := range m.experts {
		stats.ExpertCounts[i] = e.observations
		for _, x := range e.envs {
			stats.EnvsBySpecies[env.Symbol(x.Species)]++
		}
	}
	for s := range stats.EnvsBySpecies {
		stats.Species = append(stats.Species, s)
	}
	sort.Strings(stats.Species)
	return stats
}
