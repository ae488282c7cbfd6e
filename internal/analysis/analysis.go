// Package analysis smooths recorded BV scans for plotting.
package analysis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/stat"
)

// DefaultColumn is the column name used by the DAQ's CSV export for the
// first analog channel.
const DefaultColumn = "Channel 0"

// LoadColumn reads the CSV column called name from r. The first record must
// be the header.
func LoadColumn(r io.Reader, name string) ([]float64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	col := -1
	for i, h := range header {
		if strings.TrimSpace(h) == name {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("column %q not in header %q", name, header)
	}

	var data []float64
	for row := 2; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return data, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row %d: %w", row, err)
		}
		if col >= len(record) {
			return nil, fmt.Errorf("row %d has %d fields, no column %q", row, len(record), name)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d column %q: %w", row, name, err)
		}
		data = append(data, v)
	}
}

// TrailingMean returns the mean of every full window of n consecutive
// samples: entry i is the mean of data[i:i+n]. Windows that would run off
// the start of the data are dropped, so the result has len(data)-n+1 values,
// or none when data is shorter than the window.
func TrailingMean(data []float64, n int) ([]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("window=%d, must be at least 1", n)
	}
	if len(data) < n {
		return []float64{}, nil
	}
	out := make([]float64, len(data)-n+1)
	for i := range out {
		out[i] = stat.Mean(data[i:i+n], nil)
	}
	return out, nil
}

// WriteNPY writes data as a 1-d float64 .npy array.
func WriteNPY(w io.Writer, data []float64) error {
	if err := npyio.Write(w, data); err != nil {
		return fmt.Errorf("writing npy: %w", err)
	}
	return nil
}

// ReadNPY reads a 1-d float64 .npy array.
func ReadNPY(r io.Reader) ([]float64, error) {
	var data []float64
	if err := npyio.Read(r, &data); err != nil {
		return nil, fmt.Errorf("reading npy: %w", err)
	}
	return data, nil
}
