// Package catalog reads halo catalogues describing the Most Massive
// Progenitor Branch (MMPB) of a halo.
package catalog

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/image/math/f64"
)

// ErrNoHeader is returned when no comment line names the required columns.
var ErrNoHeader = errors.New("catalog: no header line with columns scale, x, y, z and rvir")

var requiredColumns = []string{"scale", "x", "y", "z", "rvir"}

// Entry is one snapshot of an MMPB, in the catalogue's comoving units.
type Entry struct {
	Scale        float64
	Position     f64.Vec3 // comoving Mpc/h
	VirialRadius float64  // comoving kpc/h
}

// Center returns the halo center in physical kpc.
func (e Entry) Center(h100 float64) f64.Vec3 {
	f := 1000 * e.Scale / h100
	return f64.Vec3{e.Position[0] * f, e.Position[1] * f, e.Position[2] * f}
}

// Rvir returns the virial radius in physical kpc.
func (e Entry) Rvir(h100 float64) float64 {
	return e.VirialRadius * e.Scale / h100
}

// MMPB is a progenitor branch indexed by scale factor.
type MMPB struct {
	Path    string
	Entries []Entry
	// ColumnNames maps the lower-cased header names to column indices.
	ColumnNames map[string]int

	byScale map[int64]int
}

// scaleKey rounds a scale factor to four decimals.
func scaleKey(scale float64) int64 { return int64(math.Round(scale * 1e4)) }

// RoundScale rounds a scale factor to the four decimals used for matching.
func RoundScale(scale float64) float64 { return float64(scaleKey(scale)) / 1e4 }

// Lookup returns the entry whose scale matches scale to four decimals.
func (m *MMPB) Lookup(scale float64) (Entry, bool) {
	i, ok := m.byScale[scaleKey(scale)]
	if !ok {
		return Entry{}, false
	}
	return m.Entries[i], true
}

// Scales returns the rounded scale factors of the branch in decreasing
// order.
func (m *MMPB) Scales() []float64 {
	out := make([]float64, 0, len(m.byScale))
	for k := range m.byScale {
		out = append(out, float64(k)/1e4)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(out)))
	return out
}

// ReadMMPB reads a whitespace-separated MMPB table. The column layout is
// taken from the first comment line naming every required column; names
// may carry Rockstar-style "(n)" suffixes. Other comment lines and extra
// columns are ignored. A later row with the same rounded scale replaces an
// earlier one.
func ReadMMPB(path string) (*MMPB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening MMPB catalogue: %w", err)
	}
	defer f.Close()

	m := &MMPB{Path: path, byScale: make(map[int64]int)}
	var idx []int

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			if m.ColumnNames == nil {
				if names := parseHeader(text); hasColumns(names) {
					m.ColumnNames = names
					idx = columnIndices(names)
				}
			}
			continue
		}
		if m.ColumnNames == nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, ErrNoHeader)
		}

		fields := strings.Fields(text)
		var vals [5]float64
		for i, c := range idx {
			if c >= len(fields) {
				return nil, fmt.Errorf("%s:%d: %d columns, need at least %d", path, line, len(fields), c+1)
			}
			v, err := strconv.ParseFloat(fields[c], 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: column %s: %w", path, line, requiredColumns[i], err)
			}
			vals[i] = v
		}
		e := Entry{Scale: vals[0], Position: f64.Vec3{vals[1], vals[2], vals[3]}, VirialRadius: vals[4]}
		k := scaleKey(e.Scale)
		if i, ok := m.byScale[k]; ok {
			m.Entries[i] = e
			continue
		}
		m.byScale[k] = len(m.Entries)
		m.Entries = append(m.Entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading MMPB catalogue: %w", err)
	}
	if m.ColumnNames == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNoHeader)
	}
	return m, nil
}

func parseHeader(text string) map[string]int {
	names := make(map[string]int)
	for i, tok := range strings.Fields(strings.TrimLeft(text, "#")) {
		tok = strings.ToLower(tok)
		if j := strings.IndexByte(tok, '('); j > 0 {
			tok = tok[:j]
		}
		if _, dup := names[tok]; !dup {
			names[tok] = i
		}
	}
	return names
}

func hasColumns(names map[string]int) bool {
	for _, c := range requiredColumns {
		if _, ok := names[c]; !ok {
			return false
		}
	}
	return true
}

func columnIndices(names map[string]int) []int {
	idx := make([]int, len(requiredColumns))
	for i, c := range requiredColumns {
		idx[i] = names[c]
	}
	return idx
}
