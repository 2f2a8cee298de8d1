// Package frame holds the in-memory tables exchanged between pipeline stages.
//
// A Frame wraps a gota DataFrame. Identifier columns (zones, blocks, block
// groups) are gota String series so that census geography codes survive
// unchanged; every other column is a Float series, with NaN standing for an
// empty cell.
package frame

import (
	"fmt"
	"math"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"cityflow/vehown/errs"
)

// Frame is an ordered set of equal-length named columns.
type Frame struct {
	source string
	df     dataframe.DataFrame
}

// New returns an empty frame. Source names the file or stage the data came
// from and is used in error messages.
func New(source string) *Frame {
	return &Frame{source: source}
}

func wrap(source string, df dataframe.DataFrame) (*Frame, error) {
	if df.Err != nil {
		return nil, &errs.InputFileError{Path: source, Err: df.Err}
	}
	return &Frame{source: source, df: df}, nil
}

func (f *Frame) Source() string { return f.source }

func (f *Frame) Len() int { return f.df.Nrow() }

// Columns returns the column names in order.
func (f *Frame) Columns() []string {
	if f.df.Ncol() == 0 {
		return []string{}
	}
	return f.df.Names()
}

func (f *Frame) Has(name string) bool {
	for _, c := range f.Columns() {
		if c == name {
			return true
		}
	}
	return false
}

// IsKey reports whether name is a string identifier column.
func (f *Frame) IsKey(name string) bool {
	return f.Has(name) && f.df.Col(name).Type() == series.String
}

func (f *Frame) col(name string) (series.Series, error) {
	if !f.Has(name) {
		return series.Series{}, errs.Missing(f.source, name)
	}
	return f.df.Col(name), nil
}

// Floats returns a copy of a numeric column.
func (f *Frame) Floats(name string) ([]float64, error) {
	s, err := f.col(name)
	if err != nil {
		return nil, err
	}
	if s.Type() == series.String {
		return nil, &errs.InputFileError{Path: f.source, Column: name, Err: fmt.Errorf("identifier column is not numeric")}
	}
	return s.Float(), nil
}

// Keys returns the values of a column as identifier strings. Numeric columns
// are formatted on the fly.
func (f *Frame) Keys(name string) ([]string, error) {
	s, err := f.col(name)
	if err != nil {
		return nil, err
	}
	return cellStrings(s), nil
}

// cellStrings renders a series the way it is written to CSV; missing cells
// become "".
func cellStrings(s series.Series) []string {
	out := make([]string, s.Len())
	str := s.Type() == series.String
	for i := range out {
		e := s.Elem(i)
		switch {
		case e.IsNA():
		case str:
			out[i] = e.String()
		default:
			out[i] = formatFloat(e.Float())
		}
	}
	return out
}

func (f *Frame) put(s series.Series) error {
	var next dataframe.DataFrame
	if f.df.Ncol() == 0 {
		next = dataframe.New(s)
	} else {
		if s.Len() != f.df.Nrow() {
			return fmt.Errorf("column %s has %d rows, frame has %d", s.Name, s.Len(), f.df.Nrow())
		}
		next = f.df.Mutate(s)
	}
	if next.Err != nil {
		return next.Err
	}
	f.df = next
	return nil
}

// SetFloats adds or replaces a numeric column.
func (f *Frame) SetFloats(name string, vals []float64) error {
	if vals == nil {
		vals = []float64{}
	}
	return f.put(series.New(vals, series.Float, name))
}

// SetKeys adds or replaces an identifier column.
func (f *Frame) SetKeys(name string, keys []string) error {
	if keys == nil {
		keys = []string{}
	}
	return f.put(series.New(keys, series.String, name))
}

// Select returns a copy holding only the named columns, in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	for _, name := range names {
		if !f.Has(name) {
			return nil, errs.Missing(f.source, name)
		}
	}
	return wrap(f.source, f.df.Select(names))
}

// Drop returns a copy without the named columns. Unknown names are ignored.
func (f *Frame) Drop(names ...string) *Frame {
	var present []string
	for _, n := range names {
		if f.Has(n) {
			present = append(present, n)
		}
	}
	if len(present) == 0 {
		return &Frame{source: f.source, df: f.df.Copy()}
	}
	return &Frame{source: f.source, df: f.df.Drop(present)}
}

// Rename changes a column name in place.
func (f *Frame) Rename(from, to string) error {
	if !f.Has(from) {
		return errs.Missing(f.source, from)
	}
	if from == to {
		return nil
	}
	if f.Has(to) {
		return &errs.JoinIntegrityError{Key: to, Detail: "rename target already exists in " + f.source}
	}
	renamed := f.df.Rename(to, from)
	if renamed.Err != nil {
		return renamed.Err
	}
	f.df = renamed
	return nil
}

// FillNaN replaces every NaN in the numeric columns with v.
func (f *Frame) FillNaN(v float64) {
	for _, name := range f.Columns() {
		s := f.df.Col(name)
		if s.Type() == series.String {
			continue
		}
		vals := s.Float()
		for i, x := range vals {
			if math.IsNaN(x) {
				vals[i] = v
			}
		}
		f.df = f.df.Mutate(series.New(vals, series.Float, name))
	}
}

// Filter returns a copy holding the rows for which keep returns true.
func (f *Frame) Filter(keep func(row int) bool) *Frame {
	var rows []int
	for i := 0; i < f.Len(); i++ {
		if keep(i) {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		return f.empty()
	}
	return &Frame{source: f.source, df: f.df.Subset(rows)}
}

// empty returns a zero-row frame with the same columns and types.
func (f *Frame) empty() *Frame {
	names := f.Columns()
	if len(names) == 0 {
		return New(f.source)
	}
	cols := make([]series.Series, len(names))
	for i, name := range names {
		cols[i] = f.df.Col(name).Empty()
	}
	return &Frame{source: f.source, df: dataframe.New(cols...)}
}
