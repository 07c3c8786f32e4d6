package config

import (
	"fmt"
	"math"
	"time"

	"github.com/charlie0129/rfcal/pkg/calibration"
	"github.com/charlie0129/rfcal/pkg/engine"
	"github.com/charlie0129/rfcal/pkg/instrument"
	"github.com/charlie0129/rfcal/pkg/sweep"
)

// Sweep parameter names.
const (
	ParamFreqMin   = "f_min"
	ParamFreqMax   = "f_max"
	ParamFreqStep  = "f_delta"
	ParamPowerMin  = "p_min"
	ParamPowerMax  = "p_max"
	ParamPowerStep = "p_delta"
	ParamSourceMax = "i_src_max"
	ParamSourceU   = "u_src"
	ParamAverages  = "avg"
)

// Pulse measurement parameter names.
const (
	ParamTraceStart   = "x_start"
	ParamTraceScale   = "x_scale"
	ParamTraceTop     = "y_max"
	ParamTraceDBDiv   = "y_scale"
	ParamTriggerLevel = "trig_level"
	ParamGateStart    = "mark_1"
	ParamGateLength   = "mark_2"
)

// ParamSpec declares a user-settable sweep parameter.
type ParamSpec struct {
	Name    string  `json:"name"`
	Label   string  `json:"label"`
	Unit    string  `json:"unit"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
	Integer bool    `json:"integer,omitempty"`
}

// ParamValue is a sweep parameter with its current value.
type ParamValue struct {
	ParamSpec
	Value float64 `json:"value"`
}

// ParamSpecs lists the sweep parameters in display order.
var ParamSpecs = []ParamSpec{
	{Name: ParamFreqMin, Label: "Fmin", Unit: "GHz", Min: 0, Max: 40, Default: 0.1},
	{Name: ParamFreqMax, Label: "Fmax", Unit: "GHz", Min: 0, Max: 40, Default: 0.3},
	{Name: ParamFreqStep, Label: "Fstep", Unit: "GHz", Min: 0, Max: 40, Default: 0.1},
	{Name: ParamPowerMin, Label: "Pmin", Unit: "dBm", Min: -30, Max: 30, Default: 0},
	{Name: ParamPowerMax, Label: "Pmax", Unit: "dBm", Min: -30, Max: 30, Default: 10},
	{Name: ParamPowerStep, Label: "Pstep", Unit: "dB", Min: 0, Max: 30, Default: 5},
	{Name: ParamSourceMax, Label: "Imax", Unit: "mA", Min: 0, Max: 500, Default: 20},
	{Name: ParamSourceU, Label: "Usrc", Unit: "V", Min: 0, Max: 12, Default: 3},
	{Name: ParamAverages, Label: "Avg", Min: 0, Max: 50, Default: 1, Integer: true},
	{Name: ParamTraceStart, Label: "X start", Unit: "us", Min: 0, Max: 30, Default: 10},
	{Name: ParamTraceScale, Label: "X scale", Unit: "us/div", Min: 0, Max: 30, Default: 10},
	{Name: ParamTraceTop, Label: "Y max", Unit: "dBm", Min: 0, Max: 30, Default: 10},
	{Name: ParamTraceDBDiv, Label: "Y scale", Unit: "dB/div", Min: 0, Max: 30, Default: 10},
	{Name: ParamTriggerLevel, Label: "Trig", Unit: "dBm", Min: 0, Max: 30, Default: 10},
	{Name: ParamGateStart, Label: "Mark 1", Unit: "us", Min: 0, Max: 30, Default: 10},
	{Name: ParamGateLength, Label: "Mark 2", Unit: "us", Min: 0, Max: 30, Default: 10},
}

// LookupParam returns the declaration of name.
func LookupParam(name string) (ParamSpec, bool) {
	for _, p := range ParamSpecs {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// Validate checks v against the declared bounds.
func (p ParamSpec) Validate(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < p.Min || v > p.Max {
		return fmt.Errorf("%w: %s must be between %g and %g %s, got %g", calibration.ErrInvalidRange, p.Name, p.Min, p.Max, p.Unit, v)
	}
	if p.Integer && v != math.Trunc(v) {
		return fmt.Errorf("%w: %s must be an integer, got %g", calibration.ErrInvalidRange, p.Name, v)
	}
	return nil
}

// SweepParams converts the parameter record into a sweep grid
// description, frequencies in Hz.
func SweepParams(c Config) sweep.Params {
	p := c.Params()
	return sweep.Params{
		PowerMin:  p[ParamPowerMin],
		PowerMax:  p[ParamPowerMax],
		PowerStep: p[ParamPowerStep],
		FreqMin:   ghzToHz(p[ParamFreqMin]),
		FreqMax:   ghzToHz(p[ParamFreqMax]),
		FreqStep:  ghzToHz(p[ParamFreqStep]),
	}
}

func ghzToHz(v float64) float64 {
	return math.Round(v * 1e9)
}

// EngineOptions builds engine options from the configuration.
func EngineOptions(c Config) engine.Options {
	p := c.Params()
	return engine.Options{
		Settle:        c.Settle(),
		MeasureSettle: c.MeasureSettle(),
		Tolerance:     c.Tolerance(),
		MaxIterations: c.MaxIterations(),
		Averages:      int(p[ParamAverages]),
		SupplyVolts:   p[ParamSourceU],
		SupplyAmps:    p[ParamSourceMax] / 1000,
	}
}

// PulseSettings converts the pulse parameters into meter settings, times in
// seconds.
func PulseSettings(c Config) instrument.PulseSettings {
	p := c.Params()
	return instrument.PulseSettings{
		TraceOffset:  usToS(p[ParamTraceStart]),
		TraceScale:   usToS(p[ParamTraceScale]),
		TraceTop:     p[ParamTraceTop],
		TraceDBDiv:   p[ParamTraceDBDiv],
		TriggerLevel: p[ParamTriggerLevel],
		GateOffset:   usToS(p[ParamGateStart]),
		GateLength:   usToS(p[ParamGateLength]),
	}
}

func usToS(v float64) float64 {
	return v / 1e6
}

// BenchConfig describes the instrument bench from the configuration.
func BenchConfig(c Config) instrument.BenchConfig {
	return instrument.BenchConfig{
		Generator:    c.Generator(),
		PowerMeter:   c.PowerMeter(),
		Source:       c.Source(),
		QueryTimeout: c.QueryTimeout(),
		Simulate:     c.Simulate(),
	}
}

func millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
