package instrument

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/charlie0129/rfcal/pkg/calibration"
)

// PowerMeter is a SCPI power meter reading in dBm on channel 1.
type PowerMeter struct {
	conn
}

// NewPowerMeter returns a PowerMeter using t.
func NewPowerMeter(t Transport) *PowerMeter {
	return &PowerMeter{conn{name: "powerMeter", t: t}}
}

// Reset does a soft reset of the meter.
func (m *PowerMeter) Reset() error {
	return m.send("*RST")
}

// Configure sets the averaging count and switches to ASCII readings.
func (m *PowerMeter) Configure(averages int) error {
	if averages > 0 {
		if err := m.send(fmt.Sprintf("SENS1:AVER:COUN %d", averages)); err != nil {
			return err
		}
	}
	return m.send("FORM ASCII")
}

// PulseSettings configures the trace display and the gated reading used for
// pulsed signals. Times are in seconds, levels in dBm, and scales are per
// display division.
type PulseSettings struct {
	TraceOffset  float64 `json:"traceOffset"`
	TraceScale   float64 `json:"traceScale"`
	TraceTop     float64 `json:"traceTop"`
	TraceDBDiv   float64 `json:"traceDbDiv"`
	TriggerLevel float64 `json:"triggerLevel"`
	GateOffset   float64 `json:"gateOffset"`
	GateLength   float64 `json:"gateLength"`
}

// ConfigurePulse puts the meter in continuous internally triggered trace
// mode and gates the reading to [GateOffset, GateOffset+GateLength]. In this
// mode Fetch returns the latest gated reading without Trigger.
func (m *PowerMeter) ConfigurePulse(averages int, s PulseSettings) error {
	if err := m.Configure(averages); err != nil {
		return err
	}
	for _, cmd := range []string{
		"INIT:CONT ON",
		"TRIG:SOUR INT1",
		`DISP:WIND1:TRAC:FEED "SENS1"`,
		"DISP:WIND1:FORM TRAC",
		"DISP:SCR:FORM FSCR",
		"SENS1:TRAC:OFFS:TIME " + formatFloat(s.TraceOffset),
		"SENS1:TRAC:X:SCAL:PDIV " + formatFloat(s.TraceScale),
		"SENS1:TRAC:LIM:UPP " + formatFloat(s.TraceTop),
		"SENS1:TRAC:Y:SCAL:PDIV " + formatFloat(s.TraceDBDiv),
		"TRIG:SEQ:LEV " + formatFloat(s.TriggerLevel),
		"SENS1:SWE1:OFFS:TIME " + formatFloat(s.GateOffset),
		"SENS1:SWE1:TIME " + formatFloat(s.GateLength),
	} {
		if err := m.send(cmd); err != nil {
			return err
		}
	}
	return nil
}

// SetFrequency sets the sensor calibration frequency in Hz.
func (m *PowerMeter) SetFrequency(hz float64) error {
	return m.send(fmt.Sprintf("SENS1:FREQ %s", formatFloat(hz)))
}

// Trigger aborts any pending measurement and starts a new one.
func (m *PowerMeter) Trigger() error {
	if err := m.send("ABORT"); err != nil {
		return err
	}
	return m.send("INIT")
}

// Fetch returns the last measured power in dBm. Readings that are not finite
// numbers are rejected.
func (m *PowerMeter) Fetch() (float64, error) {
	ret, err := m.query("FETCH?")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(ret), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: bad reading %q: %w", calibration.ErrInstrumentCommunication, m.name, ret, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s: reading %q is not a finite power", calibration.ErrInstrumentCommunication, m.name, ret)
	}
	return v, nil
}
