// Package stats reduces the lattice history to per-day compartment counts.
package stats

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/talgya/seir-lattice/internal/disease"
	"github.com/talgya/seir-lattice/internal/lattice"
)

// Row holds the compartment counts for one simulated day.
type Row struct {
	Day         int `json:"day" db:"day"`
	Susceptible int `json:"susceptible" db:"susceptible"`
	Exposed     int `json:"exposed" db:"exposed"`
	Infectious  int `json:"infectious" db:"infectious"`
	Removed     int `json:"removed" db:"removed"`
}

// Total returns the population counted in the row.
func (r Row) Total() int {
	return r.Susceptible + r.Exposed + r.Infectious + r.Removed
}

// Count returns the count for one compartment.
func (r Row) Count(s disease.State) int {
	switch s {
	case disease.Susceptible:
		return r.Susceptible
	case disease.Exposed:
		return r.Exposed
	case disease.Infectious:
		return r.Infectious
	case disease.Removed:
		return r.Removed
	}
	return 0
}

// FromSnapshot counts one lattice snapshot.
func FromSnapshot(day int, snap lattice.Snapshot) Row {
	c := snap.Counts()
	return Row{
		Day:         day,
		Susceptible: c[disease.Susceptible.Index()],
		Exposed:     c[disease.Exposed.Index()],
		Infectious:  c[disease.Infectious.Index()],
		Removed:     c[disease.Removed.Index()],
	}
}

// Table is the day-indexed sequence of rows.
type Table []Row

// Aggregate counts every snapshot in history. Row i describes day i.
// History is not modified.
func Aggregate(history []lattice.Snapshot) Table {
	t := make(Table, len(history))
	for day, snap := range history {
		t[day] = FromSnapshot(day, snap)
	}
	return t
}

// Peak returns the row with the most infectious agents; the earliest wins ties.
// ok is false for an empty table.
func (t Table) Peak() (row Row, ok bool) {
	for i, r := range t {
		if i == 0 || r.Infectious > row.Infectious {
			row = r
		}
	}
	return row, len(t) > 0
}

// FinalSize returns the number removed on the last day.
func (t Table) FinalSize() int {
	if len(t) == 0 {
		return 0
	}
	return t[len(t)-1].Removed
}

// Header is the CSV column header.
var Header = []string{"day", "susceptible", "exposed", "infectious", "removed"}

// WriteCSV writes the table with a header row.
func (t Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range t {
		rec := []string{
			strconv.Itoa(r.Day),
			strconv.Itoa(r.Susceptible),
			strconv.Itoa(r.Exposed),
			strconv.Itoa(r.Infectious),
			strconv.Itoa(r.Removed),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write day %d: %w", r.Day, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
