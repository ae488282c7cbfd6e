// Command bvsmooth smooths one column of a recorded BV scan with a trailing
// moving average and saves the result as a .npy array for plotting.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/usnistgov/bvcurve/internal/analysis"
)

func smooth(inname, outname, column string, window int) (int, error) {
	in, err := os.Open(inname)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	data, err := analysis.LoadColumn(in, column)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", inname, err)
	}
	smoothed, err := analysis.TrailingMean(data, window)
	if err != nil {
		return 0, err
	}

	out, err := os.Create(outname)
	if err != nil {
		return 0, err
	}
	if err := analysis.WriteNPY(out, smoothed); err != nil {
		out.Close()
		return 0, err
	}
	return len(smoothed), out.Close()
}

func main() {
	inname := flag.String("in", "scan_data_6.csv", "CSV file of recorded samples")
	outname := flag.String("out", "bv.npy", "output .npy file")
	column := flag.String("column", analysis.DefaultColumn, "CSV column to smooth")
	window := flag.Int("window", 200, "moving average window, in samples")
	flag.Parse()

	n, err := smooth(*inname, *outname, *column, *window)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Wrote %d smoothed samples of %q to %s\n", n, *column, *outname)
}
