package results

import (
	"github.com/charlie0129/rfcal/pkg/calibration"
	"github.com/charlie0129/rfcal/pkg/caltable"
)

// PulseView lays out a pulse run for display: one row per reference power,
// one column per frequency, adjusted power in the cells. Missing cells read
// as 0.
type PulseView struct {
	Run     Run         `json:"run"`
	Headers []string    `json:"headers"`
	Rows    [][]float64 `json:"rows"`
}

// Pivot builds the PulseView of run from its points. A later point at the
// same (reference power, frequency) replaces an earlier one.
func Pivot(run Run, points []calibration.ResultPoint) PulseView {
	t := caltable.New()
	for _, p := range points {
		t.Update(calibration.Point{
			PowerSet:      p.PowerRef,
			Frequency:     p.Frequency,
			PowerMeasured: p.PowerAdjusted,
			Delta:         p.PowerAdjusted - p.PowerMeasured,
		})
	}
	v := t.View("")
	return PulseView{
		Run:     run,
		Headers: v.Headers,
		Rows:    v.Rows,
	}
}
