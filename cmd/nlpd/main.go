// Command nlpd scores a prediction stream: it reads the CSV written by
// otf and prints the average negative log predictive density of the
// actual force components under the predicted Gaussians.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"
)

var (
	COMMA = ","
	SKIP  = 0
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			`Computes average negative log predictive density. Invocation:
	%s [OPTIONS] < PREDICTIONS
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.StringVar(&COMMA, "comma", COMMA, "field separator")
	flag.IntVar(&SKIP, "s", SKIP, "initial records to skip")
}

// negative log predictive density of y under N(mean, std^2)
func nlpd(y, mean, std float64) float64 {
	vari := std * std
	d := y - mean
	return 0.5 * (math.Log(2*math.Pi) + d*d/vari + math.Log(vari))
}

func main() {
	flag.Parse()

	rdr := csv.NewReader(os.Stdin)
	rdr.Comma = rune(COMMA[0])
	rdr.FieldsPerRecord = -1

	rdr.Read() // skip the header
	sum := 0.
	n := 0
	for ; ; n++ {
		record, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatal(err)
		}

		if n < SKIP {
			continue
		}

		y, _ := strconv.ParseFloat(record[1], 64)
		mean, _ := strconv.ParseFloat(record[2], 64)
		std, _ := strconv.ParseFloat(record[3], 64)
		sum += nlpd(y, mean, std)
	}
	fmt.Printf("%f\n", sum/float64(n))
}
