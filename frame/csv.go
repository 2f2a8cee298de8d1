package frame

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"cityflow/vehown/errs"
)

// Record is one raw CSV row handed to a ReadOptions.Where filter before the
// row is stored.
type Record struct {
	idx    map[string]int
	fields []string
}

// Get returns the raw text of a cell, or "" when the column is absent.
func (r Record) Get(col string) string {
	i, ok := r.idx[col]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return r.fields[i]
}

// Float parses a cell as a number.
func (r Record) Float(col string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.Get(col)), 64)
	return v, err == nil
}

// ReadOptions controls which parts of a CSV file are materialized.
type ReadOptions struct {
	// Keys lists the identifier columns kept as strings.
	Keys []string
	// Columns restricts the result to these columns; nil keeps all.
	Columns []string
	// FirstN keeps only the first N columns by position, ignoring Columns.
	FirstN int
	// Names renames the retained columns positionally.
	Names []string
	// Where drops a row before it is stored when it returns false.
	Where func(Record) bool
}

// ReadCSV loads a CSV file with a header row.
func ReadCSV(path string, opts ReadOptions) (*Frame, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, &errs.InputFileError{Path: path, Err: err}
	}
	defer fh.Close()
	return Read(bufio.NewReader(fh), path, opts)
}

// Read loads CSV text from r. Rows are parsed one at a time so a Where filter
// keeps unwanted rows out of memory entirely.
func Read(r io.Reader, source string, opts ReadOptions) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("missing header row")
		}
		return nil, &errs.InputFileError{Path: source, Err: err}
	}
	header = append([]string(nil), header...)
	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		header[i] = h
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}

	var picks []int
	switch {
	case opts.FirstN > 0:
		if len(header) < opts.FirstN {
			return nil, &errs.InputFileError{Path: source, Err: fmt.Errorf("expected at least %d columns, found %d", opts.FirstN, len(header))}
		}
		for i := 0; i < opts.FirstN; i++ {
			picks = append(picks, i)
		}
	case opts.Columns != nil:
		for _, name := range opts.Columns {
			i, ok := idx[name]
			if !ok {
				return nil, errs.Missing(source, name)
			}
			picks = append(picks, i)
		}
	default:
		for i := range header {
			picks = append(picks, i)
		}
	}

	names := make([]string, len(picks))
	for j, i := range picks {
		names[j] = header[i]
	}
	if opts.Names != nil {
		if len(opts.Names) != len(picks) {
			return nil, &errs.InputFileError{Path: source, Err: fmt.Errorf("%d names given for %d columns", len(opts.Names), len(picks))}
		}
		copy(names, opts.Names)
	}

	keySet := make(map[string]bool, len(opts.Keys))
	for _, k := range opts.Keys {
		keySet[k] = true
	}
	seen := make(map[string]bool, len(names))
	cols := make([]*pending, len(picks))
	for j, name := range names {
		if seen[name] {
			return nil, &errs.InputFileError{Path: source, Column: name, Err: fmt.Errorf("duplicate column")}
		}
		seen[name] = true
		cols[j] = &pending{name: name, key: keySet[name]}
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &errs.InputFileError{Path: source, Err: err}
		}
		if opts.Where != nil && !opts.Where(Record{idx: idx, fields: rec}) {
			continue
		}
		for j, i := range picks {
			cell := ""
			if i < len(rec) {
				cell = strings.TrimSpace(rec[i])
			}
			c := cols[j]
			if c.key {
				c.keys = append(c.keys, NormalizeKey(cell))
				continue
			}
			v, err := parseCell(cell)
			if err != nil {
				line, _ := cr.FieldPos(i)
				return nil, &errs.InputFileError{Path: source, Column: c.name, Err: fmt.Errorf("line %d: %w", line, err)}
			}
			c.vals = append(c.vals, v)
		}
	}

	ss := make([]series.Series, len(cols))
	for j, c := range cols {
		ss[j] = c.series()
	}
	return wrap(source, dataframe.New(ss...))
}

// pending accumulates one column while the file streams in.
type pending struct {
	name string
	key  bool
	keys []string
	vals []float64
}

func (p *pending) series() series.Series {
	if p.key {
		if p.keys == nil {
			p.keys = []string{}
		}
		return series.New(p.keys, series.String, p.name)
	}
	if p.vals == nil {
		p.vals = []float64{}
	}
	return series.New(p.vals, series.Float, p.name)
}

func parseCell(s string) (float64, error) {
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "na") {
		return math.NaN(), nil
	}
	switch strings.ToLower(s) {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// NormalizeKey drops a trailing all-zero fraction so that identifiers written
// as floats ("12.0") match their integer spelling ("12"). Leading zeros in
// census codes are preserved.
func NormalizeKey(s string) string {
	dot := strings.IndexByte(s, '.')
	if dot <= 0 {
		return s
	}
	frac := s[dot+1:]
	if strings.Trim(frac, "0") != "" {
		return s
	}
	if _, err := strconv.ParseInt(s[:dot], 10, 64); err != nil {
		return s
	}
	return s[:dot]
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteCSV persists the frame with a header row.
func (f *Frame) WriteCSV(path string) error {
	fh, err := os.Create(path)
	if err != nil {
		return &errs.InputFileError{Path: path, Err: err}
	}
	bw := bufio.NewWriter(fh)
	if err := f.Write(bw); err != nil {
		fh.Close()
		return &errs.InputFileError{Path: path, Err: err}
	}
	if err := bw.Flush(); err != nil {
		fh.Close()
		return &errs.InputFileError{Path: path, Err: err}
	}
	if err := fh.Close(); err != nil {
		return &errs.InputFileError{Path: path, Err: err}
	}
	return nil
}

// Write emits the frame as CSV text.
func (f *Frame) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	names := f.Columns()
	if err := cw.Write(names); err != nil {
		return err
	}
	cells := make([][]string, len(names))
	for j, name := range names {
		cells[j] = cellStrings(f.df.Col(name))
	}
	rec := make([]string, len(names))
	for i := 0; i < f.Len(); i++ {
		for j := range cells {
			rec[j] = cells[j][i]
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
