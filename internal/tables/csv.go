// Package tables reads and writes the CSV tables exchanged between the
// stages of a run and the audit reports it leaves behind.
package tables

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ag-res/reconcile/internal/fsutil"
)

// table is a parsed CSV file addressed by column name.
type table struct {
	path   string
	cols   map[string]int
	rows   [][]string
	header []string
}

func readTable(fsys fsutil.FileSystem, path string) (*table, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: empty file", path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", path, err)
	}
	t := &table{path: path, cols: make(map[string]int, len(header))}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		t.header = append(t.header, h)
		if _, dup := t.cols[h]; !dup {
			t.cols[h] = i
		}
	}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

// require fails unless every named column is present.
func (t *table) require(cols ...string) error {
	var missing []string
	for _, c := range cols {
		if _, ok := t.cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: missing columns %s", t.path, strings.Join(missing, ", "))
	}
	return nil
}

func (t *table) has(col string) bool {
	_, ok := t.cols[col]
	return ok
}

func (t *table) str(row int, col string) string {
	i, ok := t.cols[col]
	if !ok || i >= len(t.rows[row]) {
		return ""
	}
	return strings.TrimSpace(t.rows[row][i])
}

// float parses a numeric cell. Empty cells read as NaN.
func (t *table) float(row int, col string) (float64, error) {
	s := t.str(row, col)
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s row %d column %s: %w", t.path, row+2, col, err)
	}
	return v, nil
}

// zeroFloat is float with NaN replaced by 0.
func (t *table) zeroFloat(row int, col string) (float64, error) {
	v, err := t.float(row, col)
	if math.IsNaN(v) {
		return 0, err
	}
	return v, err
}

// int parses an integer cell, accepting integral floats such as "146.0".
func (t *table) int(row int, col string) (int, error) {
	s := t.str(row, col)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v != math.Trunc(v) {
		return 0, fmt.Errorf("%s row %d column %s: not an integer: %q", t.path, row+2, col, s)
	}
	return int(v), nil
}

// writeTable writes header and rows to path, creating its directory.
func writeTable(fsys fsutil.FileSystem, path string, header []string, rows [][]string) error {
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := fsys.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ftoa formats a float for output. NaN and infinities are written empty.
func ftoa(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func itoa(v int) string { return strconv.Itoa(v) }

func btoa(v bool) string { return strconv.FormatBool(v) }
