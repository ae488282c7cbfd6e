// Package samplelog writes recorded analog samples as CSV, asynchronously,
// so that a scan loop never waits on the disk.
package samplelog

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Writer queues rows of samples on a channel and writes them as CSV lines to
// an underlying io.Writer from its own goroutine.
type Writer struct {
	writer        *bufio.Writer  // Buffered writer: this does the writing
	rows          chan []float64 // Rows waiting to be formatted and written
	header        chan []string  // Column names, written before any later rows
	flushNow      chan struct{}  // Signal the writeLoop to flush
	flushComplete chan struct{}  // Signal that a requested flush is done
	flushInterval time.Duration  // Interval for flushing the writer periodically
	dropped       atomic.Int64   // Rows refused because the queue was full
	written       atomic.Int64   // Rows written to the buffered writer
	line          []byte         // scratch space for formatting
}

// NewWriter creates a Writer that can queue up to depth rows and flushes
// at least every flushInterval.
func NewWriter(w io.Writer, depth int, flushInterval time.Duration) *Writer {
	sw := &Writer{
		writer:        bufio.NewWriter(w),
		rows:          make(chan []float64, depth),
		header:        make(chan []string, 1),
		flushNow:      make(chan struct{}),
		flushComplete: make(chan struct{}),
		flushInterval: flushInterval,
	}
	go sw.writeLoop()
	return sw
}

// WriteHeader queues a CSV header line. Quote characters in names are not
// escaped; names should be plain labels like "Channel 0".
func (sw *Writer) WriteHeader(columns ...string) {
	sw.header <- columns
	sw.Flush()
}

// WriteRow queues one row of values. It never blocks: when the queue is full
// the row is dropped and counted, and io.ErrShortWrite is returned.
func (sw *Writer) WriteRow(values ...float64) error {
	row := make([]float64, len(values))
	copy(row, values)
	select {
	case sw.rows <- row:
		return nil
	default:
		sw.dropped.Add(1)
		return io.ErrShortWrite
	}
}

// Dropped returns how many rows were refused because the queue was full.
func (sw *Writer) Dropped() int64 {
	return sw.dropped.Load()
}

// Written returns how many rows have been handed to the underlying writer.
func (sw *Writer) Written() int64 {
	return sw.written.Load()
}

// Flush writes every queued row to the underlying writer. Blocks until done.
func (sw *Writer) Flush() error {
	sw.flushNow <- struct{}{}
	<-sw.flushComplete
	return nil
}

// Close flushes remaining rows and stops the write loop. Calling WriteRow,
// Flush or Close after Close panics.
func (sw *Writer) Close() {
	close(sw.flushNow)
	<-sw.flushComplete
}

func (sw *Writer) writeLoop() {
	ticker := time.NewTicker(sw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case cols := <-sw.header:
			sw.writeHeader(cols)

		case row := <-sw.rows:
			sw.writeHeaders()
			sw.writeRow(row)

		case _, ok := <-sw.flushNow:
			sw.flush()
			sw.flushComplete <- struct{}{}
			if !ok {
				return
			}

		case <-ticker.C:
			sw.flush()
		}
	}
}

func (sw *Writer) writeRow(row []float64) {
	sw.line = sw.line[:0]
	for i, v := range row {
		if i > 0 {
			sw.line = append(sw.line, ',')
		}
		sw.line = strconv.AppendFloat(sw.line, v, 'g', -1, 64)
	}
	sw.line = append(sw.line, '\n')
	sw.writer.Write(sw.line)
	sw.written.Add(1)
}

func (sw *Writer) writeHeader(cols []string) {
	sw.writer.WriteString(strings.Join(cols, ","))
	sw.writer.WriteByte('\n')
}

// writeHeaders writes any queued header lines.
func (sw *Writer) writeHeaders() {
	for {
		select {
		case cols := <-sw.header:
			sw.writeHeader(cols)
		default:
			return
		}
	}
}

// flush empties the queues, headers first, before flushing the underlying writer.
func (sw *Writer) flush() {
	sw.writeHeaders()
	for {
		select {
		case row := <-sw.rows:
			sw.writeRow(row)
		default:
			sw.writer.Flush()
			return
		}
	}
}
