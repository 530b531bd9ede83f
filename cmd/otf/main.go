// Command otf runs an on-the-fly committee regression over a stream of
// atomic frames: each frame's forces are predicted with the committee
// trained on all earlier frames, then the frame is absorbed as training
// data. Output is one CSV record per predicted force component,
// suitable for piping into nlpd.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/materialsml/committee/env"
	"github.com/materialsml/committee/kernel"
	"github.com/materialsml/committee/rbcm"
)

var (
	CONFIG  = ""
	CELL    = 0.
	TRAIN   = 5
	OUT     = ""
	VERBOSE = false
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			`On-the-fly force learning with a committee of Gaussian
processes. Invocation:
  %s [OPTIONS] < FRAMES > PREDICTIONS
or
  %s [OPTIONS] selfcheck
Frames are CSV records 'frame,species,x,y,z,fx,fy,fz[,energy]', grouped
by frame index. In 'selfcheck' mode, the data hard-coded into the
program is used, to demonstrate basic functionality.
`, os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.StringVar(&CONFIG, "config", CONFIG, "YAML configuration file")
	flag.Float64Var(&CELL, "cell", CELL, "cubic cell edge, 0 for open structures")
	flag.IntVar(&TRAIN, "train", TRAIN, "optimize hyperparameters every that many frames, 0 to disable")
	flag.StringVar(&OUT, "out", OUT, "write the final model snapshot under this name")
	flag.BoolVar(&VERBOSE, "v", VERBOSE, "verbose logging")
}

// config is the YAML-tunable part of the run; zero values defer to the
// library defaults.
type config struct {
	Hyps          []float64 `yaml:"hyps"`
	Cutoff        float64   `yaml:"cutoff"`
	Capacity      int       `yaml:"capacity"`
	PriorVariance float64   `yaml:"prior_variance"`
	EnergyNoise   float64   `yaml:"energy_noise"`
	Train         struct {
		GradTol       float64 `yaml:"grad_tol"`
		MaxIterations int     `yaml:"max_iterations"`
	} `yaml:"train"`
}

func loadConfig(path string) (config, error) {
	var cfg config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// frame is one structure of the stream with its force labels and an
// optional total energy.
type frame struct {
	index   int
	species []int
	pos     []r3.Vec
	forces  []r3.Vec
	energy  *float64
}

func (f *frame) structure(cell float64) (*env.Structure, error) {
	var c *mat.Dense
	if cell > 0 {
		c = mat.NewDense(3, 3, []float64{cell, 0, 0, 0, cell, 0, 0, 0, cell})
	}
	return env.NewStructure(c, f.species, f.pos)
}

// load parses the frame stream, grouping records by their frame index.
func load(rdr io.Reader) ([]*frame, error) {
	r := csv.NewReader(rdr)
	r.FieldsPerRecord = -1
	byIndex := map[int]*frame{}
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) < 8 {
			return nil, fmt.Errorf("record needs at least 8 fields, got %d", len(record))
		}
		fields := make([]float64, len(record))
		for i, s := range record {
			if fields[i], err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
				return nil, err
			}
		}
		index := int(fields[0])
		f := byIndex[index]
		if f == nil {
			f = &frame{index: index}
			byIndex[index] = f
		}
		f.species = append(f.species, int(fields[1]))
		f.pos = append(f.pos, r3.Vec{X: fields[2], Y: fields[3], Z: fields[4]})
		f.forces = append(f.forces, r3.Vec{X: fields[5], Y: fields[6], Z: fields[7]})
		if len(record) > 8 {
			e := fields[8]
			f.energy = &e
		}
	}
	frames := make([]*frame, 0, len(byIndex))
	for _, f := range byIndex {
		frames = append(frames, f)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].index < frames[j].index })
	return frames, nil
}

func main() {
	var (
		input  io.Reader = os.Stdin
		output io.Writer = os.Stdout
	)

	flag.Parse()
	switch {
	case flag.NArg() == 0:
	case flag.NArg() == 1 && flag.Arg(0) == "selfcheck":
		input = strings.NewReader(selfCheckData)
	default:
		flag.Usage()
		os.Exit(2)
	}

	logger := zap.NewNop()
	if VERBOSE {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			panic(err)
		}
	}
	defer logger.Sync()

	cfg, err := loadConfig(CONFIG)
	if err != nil {
		logger.Fatal("configuration", zap.Error(err))
	}

	m, err := rbcm.New(rbcm.Config{
		Name:              "otf",
		Kernel:            kernel.TwoBody{},
		Hyps:              cfg.Hyps,
		Cutoff:            cfg.Cutoff,
		CapacityPerExpert: cfg.Capacity,
		PriorVariance:     cfg.PriorVariance,
		EnergyNoise:       cfg.EnergyNoise,
		Logger:            logger,
	})
	if err != nil {
		logger.Fatal("model", zap.Error(err))
	}

	fmt.Fprint(os.Stderr, "loading...")
	frames, err := load(input)
	if err != nil {
		logger.Fatal("load", zap.Error(err))
	}
	fmt.Fprintln(os.Stderr, "done")
	if len(frames) < 2 {
		logger.Fatal("need at least two frames")
	}

	fmt.Fprintln(os.Stderr, "predicting...")
	fmt.Fprintln(output, "frame,actual,mean,std,atom,component")
	var residuals []float64
	for i, f := range frames {
		st, err := f.structure(CELL)
		if err != nil {
			logger.Fatal("structure", zap.Int("frame", f.index), zap.Error(err))
		}

		// Frames after the first are predicted out of sample before
		// they are absorbed.
		if i > 0 {
			cutoff := m.Cutoff()
			for atom := range f.pos {
				x, err := env.New(st, atom, cutoff)
				if err != nil {
					logger.Fatal("environment", zap.Int("frame", f.index), zap.Error(err))
				}
				actual := []float64{f.forces[atom].X, f.forces[atom].Y, f.forces[atom].Z}
				for d := 1; d <= 3; d++ {
					mean, variance, err := m.Predict(x, d)
					if err != nil {
						logger.Fatal("predict", zap.Int("frame", f.index), zap.Error(err))
					}
					fmt.Fprintf(output, "%d,%f,%f,%f,%d,%d\n",
						f.index, actual[d-1], mean, math.Sqrt(variance), atom, d)
					residuals = append(residuals, actual[d-1]-mean)
				}
			}
		}

		if err := m.AddObservation(st, f.forces, f.energy, nil); err != nil {
			logger.Fatal("absorb", zap.Int("frame", f.index), zap.Error(err))
		}
		if TRAIN > 0 && (i+1)%TRAIN == 0 {
			res, err := m.Train(rbcm.TrainOptions{
				GradTol:       cfg.Train.GradTol,
				MaxIterations: cfg.Train.MaxIterations,
			})
			if err != nil {
				// A failed optimization keeps the previous
				// hyperparameters; the run goes on.
				fmt.Fprintf(os.Stderr, "failed to optimize: %v\n", err)
			} else {
				fmt.Fprintf(os.Stderr, "frame %d: likelihood %f, hyps %v\n",
					f.index, res.TotalLikelihood, res.Hyps)
			}
		}
	}
	fmt.Fprintln(os.Stderr, "done")

	meanRes, stdRes := stat.MeanStdDev(residuals, nil)
	fmt.Fprintf(os.Stderr, "residuals: mean %f, std %f over %d predictions\n",
		meanRes, stdRes, len(residuals))
	stats := m.TrainingStatistics()
	fmt.Fprintf(os.Stderr, "experts %v, species %v\n", stats.ExpertCounts, stats.Species)

	if OUT != "" {
		if err := m.WriteModel(OUT, "binary"); err != nil {
			logger.Fatal("write model", zap.Error(err))
		}
		fmt.Fprintf(os.Stderr, "model written to %s.gob\n", OUT)
	}
}
