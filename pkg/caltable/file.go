package caltable

import (
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rfcal/pkg/calibration"
)

// persisted maps power key -> frequency key (GHz, 3 decimals) -> [measured, delta].
type persisted map[string]map[string][2]float64

// loaded is the decoding side of persisted. Cells are decoded as slices so
// that a cell of the wrong length is caught instead of being padded or
// truncated.
type loaded map[string]map[string][]float64

// Save writes the full table to w.
func (t *Table) Save(w io.Writer) error {
	t.mu.RLock()
	doc := make(persisted, len(t.rows))
	for pk, row := range t.rows {
		cols := make(map[string][2]float64, len(row))
		for fk, c := range row {
			cols[strconv.FormatFloat(float64(fk)/1000, 'f', 3, 64)] = [2]float64{c.Measured, c.Delta}
		}
		doc[strconv.Itoa(pk)] = cols
	}
	t.mu.RUnlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return pkgerrors.Wrap(err, "failed to encode calibration table")
	}
	return nil
}

// Load replaces the table content with the data read from r. Empty input
// yields an empty table. Watchers receive EventReset.
func (t *Table) Load(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to read calibration table")
	}

	rows := make(map[int]map[int64]Cell)
	var pows []int
	var freqs []int64

	if strings.TrimSpace(string(b)) != "" {
		var doc loaded
		if err := json.Unmarshal(b, &doc); err != nil {
			return pkgerrors.Wrapf(calibration.ErrCorruptCalibrationData, "%v", err)
		}
		for ps, cols := range doc {
			p, err := strconv.ParseFloat(ps, 64)
			if err != nil || !finite(p) {
				return pkgerrors.Wrapf(calibration.ErrCorruptCalibrationData, "bad power key %q", ps)
			}
			if len(cols) == 0 {
				return pkgerrors.Wrapf(calibration.ErrCorruptCalibrationData, "power row %q has no cells", ps)
			}
			pk := PowerKey(p)
			row, ok := rows[pk]
			if !ok {
				row = make(map[int64]Cell, len(cols))
				rows[pk] = row
				pows = insertSorted(pows, pk)
			}
			for fs, v := range cols {
				ghz, err := strconv.ParseFloat(fs, 64)
				if err != nil || !finite(ghz) {
					return pkgerrors.Wrapf(calibration.ErrCorruptCalibrationData, "bad frequency key %q", fs)
				}
				if len(v) != 2 {
					return pkgerrors.Wrapf(calibration.ErrCorruptCalibrationData, "cell %s/%s has %d values, want 2", ps, fs, len(v))
				}
				if !finite(v[0]) || !finite(v[1]) {
					return pkgerrors.Wrapf(calibration.ErrCorruptCalibrationData, "cell %s/%s is not finite", ps, fs)
				}
				fk := int64(math.Round(ghz * 1000))
				if i, found := slices.BinarySearch(freqs, fk); !found {
					freqs = slices.Insert(freqs, i, fk)
				}
				row[fk] = Cell{Measured: v[0], Delta: v[1]}
			}
		}
	}

	t.mu.Lock()
	t.rows = rows
	t.pows = pows
	t.freqs = freqs
	t.mu.Unlock()

	t.notify(Event{Kind: EventReset, Len: t.Len()})
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SaveFile persists the table to path, creating parent directories.
func (t *Table) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create directory for %s", path)
	}

	fp, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", path)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", path)
		}
	}(fp)

	return pkgerrors.Wrapf(t.Save(fp), "failed to save calibration table to %s", path)
}

// LoadFile loads the table from path. A missing file leaves an empty table
// and is not an error.
func (t *Table) LoadFile(path string) error {
	fp, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.Clear()
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", path)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", path)
		}
	}(fp)

	return pkgerrors.Wrapf(t.Load(fp), "failed to load calibration table from %s", path)
}
