// Package sweep enumerates the power/frequency grid visited by an input
// calibration.
package sweep

import (
	"math"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/rfcal/pkg/calibration"
)

// countEpsilon absorbs floating point error in (max-min)/step so that an
// endpoint lying exactly on the grid is never dropped.
const countEpsilon = 1e-9

// MaxPoints bounds the length of an axis and of a whole grid.
const MaxPoints = 1_000_000

// Params describes a sweep. Powers are in dBm, frequencies in Hz.
type Params struct {
	PowerMin  float64 `json:"powerMin"`
	PowerMax  float64 `json:"powerMax"`
	PowerStep float64 `json:"powerStep"`
	FreqMin   float64 `json:"freqMin"`
	FreqMax   float64 `json:"freqMax"`
	FreqStep  float64 `json:"freqStep"`
}

// Point is a single stimulus of the grid.
type Point struct {
	Power     float64 `json:"power"`
	Frequency float64 `json:"frequency"`
}

// Generate returns the cross product of powers and frequencies. Powers are
// the outer loop, so every frequency is visited at a given power before the
// next power. Powers are rounded to 0.1 dB and frequencies to 1 Hz.
func Generate(p Params) ([]Point, error) {
	pows, err := Axis(p.PowerMin, p.PowerMax, p.PowerStep)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "power axis")
	}
	freqs, err := Axis(p.FreqMin, p.FreqMax, p.FreqStep)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "frequency axis")
	}
	if len(pows) > MaxPoints/len(freqs) {
		return nil, pkgerrors.Wrapf(calibration.ErrInvalidRange, "grid of %d x %d points exceeds %d", len(pows), len(freqs), MaxPoints)
	}

	out := make([]Point, 0, len(pows)*len(freqs))
	for _, pow := range pows {
		for _, f := range freqs {
			out = append(out, Point{
				Power:     round(pow, 1),
				Frequency: math.Round(f),
			})
		}
	}
	return out, nil
}

// Axis returns min, min+step, ... up to and including max when max lies on
// the grid. The count is floor((max-min)/step)+1 and may not exceed
// MaxPoints.
func Axis(minV, maxV, step float64) ([]float64, error) {
	for _, v := range []float64{minV, maxV, step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, pkgerrors.Wrapf(calibration.ErrInvalidRange, "non-finite bound %v", v)
		}
	}
	if step <= 0 {
		return nil, pkgerrors.Wrapf(calibration.ErrInvalidRange, "step must be positive, got %v", step)
	}
	if maxV < minV {
		return nil, pkgerrors.Wrapf(calibration.ErrInvalidRange, "max %v is less than min %v", maxV, minV)
	}

	count := math.Floor((maxV-minV)/step+countEpsilon) + 1
	if count > MaxPoints {
		return nil, pkgerrors.Wrapf(calibration.ErrInvalidRange, "step %v over [%v, %v] gives more than %d points", step, minV, maxV, MaxPoints)
	}
	n := int(count)
	out := make([]float64, n)
	for i := range n {
		out[i] = minV + float64(i)*step
	}
	return out, nil
}

// Len returns the number of points Generate would produce, or 0 if the
// parameters are invalid.
func Len(p Params) int {
	pows, err := Axis(p.PowerMin, p.PowerMax, p.PowerStep)
	if err != nil {
		return 0
	}
	freqs, err := Axis(p.FreqMin, p.FreqMax, p.FreqStep)
	if err != nil {
		return 0
	}
	if len(pows) > MaxPoints/len(freqs) {
		return 0
	}
	return len(pows) * len(freqs)
}

func round(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}
