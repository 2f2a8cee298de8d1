// Package skim reads zone-to-zone travel time matrices.
package skim

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"cityflow/vehown/errs"
	"cityflow/vehown/frame"
)

// Matrix is one travel time core. Rows are origins and columns destinations,
// both ordered by Zones. A zero cell means the pair is not connected.
type Matrix struct {
	Name  string
	Zones []string
	Time  *mat.Dense
}

// Size is the number of zones in the index.
func (m *Matrix) Size() int { return len(m.Zones) }

// SameIndex reports whether both matrices share one ordered zone index.
func (m *Matrix) SameIndex(o *Matrix) bool {
	if len(m.Zones) != len(o.Zones) {
		return false
	}
	for i := range m.Zones {
		if m.Zones[i] != o.Zones[i] {
			return false
		}
	}
	return true
}

// Align returns the matrix re-indexed onto zones, permuting rows and columns.
// It fails when zones is not the same set as the matrix's own index.
func (m *Matrix) Align(zones []string) (*Matrix, error) {
	if m.SameIndex(&Matrix{Zones: zones}) {
		return m, nil
	}
	if len(zones) != len(m.Zones) {
		return nil, fmt.Errorf("%d zones, want %d", len(m.Zones), len(zones))
	}
	pos := make(map[string]int, len(m.Zones))
	for i, z := range m.Zones {
		pos[z] = i
	}
	from := make([]int, len(zones))
	for i, z := range zones {
		p, ok := pos[z]
		if !ok {
			return nil, fmt.Errorf("zone %s missing", z)
		}
		from[i] = p
	}
	n := len(zones)
	t := mat.NewDense(n, n, nil)
	for i, fi := range from {
		for j, fj := range from {
			t.Set(i, j, m.Time.At(fi, fj))
		}
	}
	return &Matrix{Name: m.Name, Zones: append([]string(nil), zones...), Time: t}, nil
}

// ReadFile loads the core named core from a long-format skim file whose first
// two columns are the origin and destination zone and whose remaining columns
// are matrix cores.
func ReadFile(path, core string) (*Matrix, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, &errs.InputFileError{Path: path, Err: err}
	}
	defer fh.Close()
	return Read(bufio.NewReader(fh), path, core)
}

// Read is ReadFile over an arbitrary reader; source names it in errors.
//
// The zone index lists origins in order of first appearance followed by
// destinations that never appear as an origin. Pairs absent from the file are
// left at zero; a pair listed twice is an error.
func Read(r io.Reader, source, core string) (*Matrix, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("missing header row")
		}
		return nil, &errs.InputFileError{Path: source, Err: err}
	}
	if len(header) < 3 {
		return nil, &errs.InputFileError{Path: source, Err: fmt.Errorf("expected origin, destination and at least one core, found %d columns", len(header))}
	}
	ci := -1
	for i, h := range header[2:] {
		if strings.TrimSpace(h) == core {
			ci = i + 2
			break
		}
	}
	if ci < 0 {
		return nil, errs.Missing(source, core)
	}

	type cell struct {
		o, d int
		v    float64
	}
	var (
		zones   []string
		dests   []string
		origins = make(map[string]int)
		destPos = make(map[string]int)
		seen    = make(map[[2]int]int)
		cells   []cell
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &errs.InputFileError{Path: source, Err: err}
		}
		o := frame.NormalizeKey(strings.TrimSpace(rec[0]))
		d := frame.NormalizeKey(strings.TrimSpace(rec[1]))
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[ci]), 64)
		if err != nil {
			line, _ := cr.FieldPos(ci)
			return nil, &errs.InputFileError{Path: source, Column: core, Err: fmt.Errorf("line %d: %w", line, err)}
		}
		oi, ok := origins[o]
		if !ok {
			oi = len(zones)
			origins[o] = oi
			zones = append(zones, o)
		}
		di, ok := destPos[d]
		if !ok {
			di = len(dests)
			destPos[d] = di
			dests = append(dests, d)
		}
		line, _ := cr.FieldPos(0)
		if first, dup := seen[[2]int{oi, di}]; dup {
			return nil, &errs.InputFileError{Path: source, Err: fmt.Errorf("line %d: pair %s-%s repeats line %d", line, o, d, first)}
		}
		seen[[2]int{oi, di}] = line
		cells = append(cells, cell{o: oi, d: di, v: v})
	}
	if len(zones) == 0 {
		return nil, &errs.InputFileError{Path: source, Err: fmt.Errorf("no origin-destination pairs")}
	}

	pos := make(map[string]int, len(zones))
	for i, z := range zones {
		pos[z] = i
	}
	for _, d := range dests {
		if _, ok := pos[d]; !ok {
			pos[d] = len(zones)
			zones = append(zones, d)
		}
	}
	n := len(zones)
	m := mat.NewDense(n, n, nil)
	for _, c := range cells {
		m.Set(c.o, pos[dests[c.d]], c.v)
	}
	return &Matrix{Name: core, Zones: zones, Time: m}, nil
}
