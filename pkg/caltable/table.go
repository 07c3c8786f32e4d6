// Package caltable holds calibration results as a sparse power x frequency
// table. Rows are keyed by power rounded to 1 dBm, columns by frequency
// rounded to 1 MHz (3 decimal places in GHz).
//
// The table is a plain data structure. Views that need to follow changes
// register a watcher with Watch; the table itself knows nothing about
// presentation.
package caltable

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/charlie0129/rfcal/pkg/calibration"
)

// EventKind describes what changed in a table.
type EventKind string

const (
	EventReset   EventKind = "reset"
	EventUpdated EventKind = "updated"
)

// Event is delivered to watchers after every mutation.
type Event struct {
	Kind  EventKind
	Point calibration.Point // only set for EventUpdated
	Len   int
}

// WatchFunc receives table events. It is called without the table lock held.
type WatchFunc func(Event)

// Cell is the content of a single (power, frequency) pair.
type Cell struct {
	Measured float64
	Delta    float64
}

// Table is safe for concurrent use.
type Table struct {
	mu    sync.RWMutex
	rows  map[int]map[int64]Cell
	pows  []int
	freqs []int64

	watchMu  sync.Mutex
	watchSeq int
	watchers map[int]WatchFunc
}

// New returns an empty table.
func New() *Table {
	return &Table{
		rows:     make(map[int]map[int64]Cell),
		watchers: make(map[int]WatchFunc),
	}
}

// PowerKey is the row identity of a power in dBm.
func PowerKey(p float64) int {
	return int(math.Round(p))
}

// FrequencyKey is the column identity of a frequency in Hz, in MHz.
func FrequencyKey(f float64) int64 {
	return int64(math.Round(f / 1e6))
}

// KeyFrequency converts a column key back to Hz.
func KeyFrequency(k int64) float64 {
	return float64(k) * 1e6
}

// Watch registers fn and returns a function that removes it.
func (t *Table) Watch(fn WatchFunc) func() {
	t.watchMu.Lock()
	defer t.watchMu.Unlock()
	t.watchSeq++
	id := t.watchSeq
	t.watchers[id] = fn
	return func() {
		t.watchMu.Lock()
		delete(t.watchers, id)
		t.watchMu.Unlock()
	}
}

func (t *Table) notify(e Event) {
	t.watchMu.Lock()
	ids := make([]int, 0, len(t.watchers))
	for id := range t.watchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]WatchFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, t.watchers[id])
	}
	t.watchMu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Clear empties the table and notifies watchers with EventReset.
func (t *Table) Clear() {
	t.mu.Lock()
	t.rows = make(map[int]map[int64]Cell)
	t.pows = nil
	t.freqs = nil
	t.mu.Unlock()

	t.notify(Event{Kind: EventReset})
}

// Update stores p, overwriting any previous value for the same keys.
func (t *Table) Update(p calibration.Point) {
	pk := PowerKey(p.PowerSet)
	fk := FrequencyKey(p.Frequency)

	t.mu.Lock()
	row, ok := t.rows[pk]
	if !ok {
		row = make(map[int64]Cell)
		t.rows[pk] = row
		t.pows = insertSorted(t.pows, pk)
	}
	if i, found := slices.BinarySearch(t.freqs, fk); !found {
		t.freqs = slices.Insert(t.freqs, i, fk)
	}
	row[fk] = Cell{Measured: p.PowerMeasured, Delta: p.Delta}
	n := t.lenLocked()
	t.mu.Unlock()

	t.notify(Event{Kind: EventUpdated, Point: p, Len: n})
}

func insertSorted(s []int, v int) []int {
	i, found := slices.BinarySearch(s, v)
	if found {
		return s
	}
	return slices.Insert(s, i, v)
}

// IsReady reports whether the table holds at least one point.
func (t *Table) IsReady() bool {
	return t.Len() > 0
}

// Len returns the number of stored points.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lenLocked()
}

func (t *Table) lenLocked() int {
	n := 0
	for _, row := range t.rows {
		n += len(row)
	}
	return n
}

// Powers returns the row keys in ascending order.
func (t *Table) Powers() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.pows)
}

// Frequencies returns the column keys in Hz, ascending.
func (t *Table) Frequencies() []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]float64, len(t.freqs))
	for i, k := range t.freqs {
		out[i] = KeyFrequency(k)
	}
	return out
}

// Get returns the cell stored for the given power and frequency.
func (t *Table) Get(power, freq float64) (Cell, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.rows[PowerKey(power)][FrequencyKey(freq)]
	return c, ok
}

// ExportAll returns every stored point, rows then columns in ascending key
// order. PowerSet is the row key and Frequency the column key in Hz.
func (t *Table) ExportAll() []calibration.Point {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]calibration.Point, 0, t.lenLocked())
	for _, pk := range t.pows {
		out = append(out, t.rowLocked(pk)...)
	}
	return out
}

// MaxPowerRow returns the points of the row with the highest power key.
func (t *Table) MaxPowerRow() []calibration.Point {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.pows) == 0 {
		return nil
	}
	return t.rowLocked(t.pows[len(t.pows)-1])
}

func (t *Table) rowLocked(pk int) []calibration.Point {
	row := t.rows[pk]
	out := make([]calibration.Point, 0, len(row))
	for _, fk := range t.freqs {
		c, ok := row[fk]
		if !ok {
			continue
		}
		out = append(out, calibration.Point{
			PowerSet:      float64(pk),
			Frequency:     KeyFrequency(fk),
			PowerMeasured: c.Measured,
			Delta:         c.Delta,
		})
	}
	return out
}

// Headers returns the column titles of the tabular view.
func (t *Table) Headers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.freqs)+1)
	out = append(out, "Pin, dBm")
	for _, fk := range t.freqs {
		out = append(out, fmt.Sprintf("Fin=%s, GHz", formatGHz(fk)))
	}
	return out
}

// View renders the table for display. Each row starts with its power key
// followed by the measured power per column; missing cells read as 0.
func (t *Table) View(stage calibration.Stage) calibration.TableView {
	headers := t.Headers()

	t.mu.RLock()
	rows := make([][]float64, 0, len(t.pows))
	for _, pk := range t.pows {
		r := make([]float64, 0, len(t.freqs)+1)
		r = append(r, float64(pk))
		for _, fk := range t.freqs {
			r = append(r, t.rows[pk][fk].Measured)
		}
		rows = append(rows, r)
	}
	t.mu.RUnlock()

	return calibration.TableView{
		Stage:   stage,
		Headers: headers,
		Rows:    rows,
		Points:  t.ExportAll(),
	}
}

func formatGHz(k int64) string {
	return strconv.FormatFloat(float64(k)/1000, 'f', -1, 64)
}
