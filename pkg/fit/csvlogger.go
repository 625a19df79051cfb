// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fit

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// MetricsFileName is the name of the CSVLogger file in the run directory.
const MetricsFileName = "metrics.csv"

// CSVLogger records metrics in <dir>/metrics.csv. Each call to Log adds one row, with the
// epoch and step plus the given metrics; the header is the union of all metric names, and
// missing values are left empty.
//
// Rows are kept in memory and the whole file is rewritten on Save, since new metric names
// may show up at any time.
type CSVLogger struct {
	mu    sync.Mutex
	path  string
	names map[string]bool
	rows  []csvRow
}

type csvRow struct {
	epoch, step int
	values      map[string]float64
}

// NewCSVLogger creates a logger writing to dir, creating dir if needed.
func NewCSVLogger(dir string) (*CSVLogger, error) {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, errors.Wrapf(err, "failed to create metrics directory %q", dir)
	}
	return &CSVLogger{
		path:  filepath.Join(dir, MetricsFileName),
		names: make(map[string]bool),
	}, nil
}

// Path of the CSV file.
func (l *CSVLogger) Path() string { return l.path }

// Log metrics for the given epoch and step.
func (l *CSVLogger) Log(epoch, step int, metrics map[string]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row := csvRow{epoch: epoch, step: step, values: make(map[string]float64, len(metrics))}
	for name, value := range metrics {
		l.names[name] = true
		row.values[name] = value
	}
	l.rows = append(l.rows, row)
}

// Save rewrites the CSV file with all rows logged so far.
func (l *CSVLogger) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.names))
	for name := range l.names {
		names = append(names, name)
	}
	slices.Sort(names)

	f, err := os.Create(l.path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", l.path)
	}
	w := csv.NewWriter(f)
	_ = w.Write(append([]string{"epoch", "step"}, names...))
	record := make([]string, 2+len(names))
	for _, row := range l.rows {
		record[0] = strconv.Itoa(row.epoch)
		record[1] = strconv.Itoa(row.step)
		for ii, name := range names {
			record[2+ii] = ""
			if value, found := row.values[name]; found {
				record[2+ii] = strconv.FormatFloat(value, 'g', -1, 64)
			}
		}
		_ = w.Write(record)
	}
	w.Flush()
	if err = w.Error(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write %q", l.path)
	}
	return errors.Wrapf(f.Close(), "failed to close %q", l.path)
}
