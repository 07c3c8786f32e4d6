package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/charlie0129/rfcal/pkg/calibration"
	"github.com/charlie0129/rfcal/pkg/instrument"
)

type memorySink struct {
	saved []calibration.ResultPoint
	err   error
}

func (m *memorySink) Save(_ context.Context, points []calibration.ResultPoint) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append([]calibration.ResultPoint(nil), points...)
	return nil
}

var testTask = []calibration.TaskPoint{
	{Frequency: 1e9, PowerSet: 0, PowerRef: 0, DeltaIn: 2, DeltaOut: 0.5},
	{Frequency: 2e9, PowerSet: 0, PowerRef: 0, DeltaIn: 2, DeltaOut: 0.25},
	{Frequency: 1e9, PowerSet: 5, PowerRef: 5, DeltaIn: 2, DeltaOut: 0.5},
}

func TestMeasureAppliesCorrections(t *testing.T) {
	e, sim := newTestEngine(instrument.Bias(2))
	e.opts.SupplyVolts = 3
	e.opts.SupplyAmps = 0.02

	var reported []calibration.ResultPoint
	sink := &memorySink{}
	results, msg, err := e.Measure(context.Background(), testTask, sink, func(r calibration.ResultPoint) {
		reported = append(reported, r)
	})
	if err != nil {
		t.Fatalf("Measure() error = %v", err)
	}
	if msg == "" {
		t.Fatalf("expected status message")
	}
	if len(reported) != len(testTask) || len(results) != len(testTask) {
		t.Fatalf("reported %d / returned %d results, want %d", len(reported), len(results), len(testTask))
	}
	for i, r := range results {
		tp := testTask[i]
		if r.PowerMeasured != tp.PowerSet {
			t.Errorf("result[%d].PowerMeasured = %v, want %v", i, r.PowerMeasured, tp.PowerSet)
		}
		if r.PowerAdjusted != tp.PowerSet+tp.DeltaOut {
			t.Errorf("result[%d].PowerAdjusted = %v, want %v", i, r.PowerAdjusted, tp.PowerSet+tp.DeltaOut)
		}
		if r.PowerRef != tp.PowerRef || r.Frequency != tp.Frequency {
			t.Errorf("result[%d] = %+v does not carry the task point identity", i, r)
		}
	}
	if len(sink.saved) != len(testTask) {
		t.Fatalf("sink saved %d results", len(sink.saved))
	}
	if sim.GeneratorOn() || sim.SourceOn() {
		t.Fatalf("generator and source must be off after the run")
	}

	var sawSupply bool
	for _, c := range sim.Commands() {
		if c.Instrument == "source" && c.Text == "OUTP ON" {
			sawSupply = true
		}
	}
	if !sawSupply {
		t.Fatalf("expected the DUT supply to be switched on")
	}
}

func TestMeasureEmptyTask(t *testing.T) {
	e, _ := newTestEngine(instrument.Bias(0))
	_, _, err := e.Measure(context.Background(), nil, nil, nil)
	if !errors.Is(err, calibration.ErrPrerequisiteMissing) {
		t.Fatalf("expected ErrPrerequisiteMissing, got %v", err)
	}
}

func TestMeasureCancelDoesNotPersist(t *testing.T) {
	e, sim := newTestEngine(instrument.Bias(0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &memorySink{}
	results, _, err := e.Measure(ctx, testTask, sink, func(calibration.ResultPoint) { cancel() })
	if !errors.Is(err, calibration.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 partial result, got %d", len(results))
	}
	if sink.saved != nil {
		t.Fatalf("cancelled run must not persist results")
	}
	if sim.GeneratorOn() {
		t.Fatalf("generator output should be off after cancel")
	}
}

func TestMeasureSinkFailure(t *testing.T) {
	e, _ := newTestEngine(instrument.Bias(0))
	_, _, err := e.Measure(context.Background(), testTask, &memorySink{err: errors.New("disk full")}, nil)
	if err == nil {
		t.Fatalf("expected persistence error")
	}
}

var testPulse = instrument.PulseSettings{
	TraceOffset:  0,
	TraceScale:   1e-6,
	TraceTop:     20,
	TraceDBDiv:   5,
	TriggerLevel: -20,
	GateOffset:   1e-6,
	GateLength:   5e-6,
}

func TestMeasurePulse(t *testing.T) {
	e, sim := newTestEngine(instrument.Bias(2))

	sink := &memorySink{}
	var reported int
	results, msg, err := e.MeasurePulse(context.Background(), testTask, testPulse, sink, func(calibration.ResultPoint) {
		reported++
	})
	if err != nil {
		t.Fatalf("MeasurePulse() error = %v", err)
	}
	if msg == "" {
		t.Fatalf("expected status message")
	}
	if reported != len(testTask) || len(sink.saved) != len(testTask) {
		t.Fatalf("reported %d, saved %d, want %d", reported, len(sink.saved), len(testTask))
	}
	for i, r := range results {
		tp := testTask[i]
		if r.PowerAdjusted != tp.PowerSet+tp.DeltaOut || r.PowerRef != tp.PowerRef {
			t.Errorf("result[%d] = %+v", i, r)
		}
	}
	if !sim.Continuous() {
		t.Fatalf("meter should be left in continuous trace mode")
	}
	if sim.GeneratorOn() {
		t.Fatalf("generator output should be off after the run")
	}

	fetches := 0
	for _, c := range sim.Commands() {
		if c.Instrument != "powerMeter" {
			continue
		}
		switch c.Text {
		case "ABORT", "INIT":
			t.Fatalf("continuous mode must not re-arm the meter, saw %q", c.Text)
		case "FETCH?":
			fetches++
		}
	}
	// One discarded reading, then one per point.
	if fetches != 1+len(testTask) {
		t.Fatalf("fetches = %d, want %d", fetches, 1+len(testTask))
	}
}

func TestMeasurePulseRejects(t *testing.T) {
	noGate := testPulse
	noGate.GateLength = 0

	tests := []struct {
		name    string
		task    []calibration.TaskPoint
		pulse   instrument.PulseSettings
		wantErr error
	}{
		{"empty task", nil, testPulse, calibration.ErrPrerequisiteMissing},
		{"zero gate", testTask, noGate, calibration.ErrInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, sim := newTestEngine(instrument.Bias(0))
			_, _, err := e.MeasurePulse(context.Background(), tt.task, tt.pulse, nil, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if n := len(sim.Commands()); n != 0 {
				t.Fatalf("expected no instrument commands, got %d", n)
			}
		})
	}
}

func TestMeasurePulseCancel(t *testing.T) {
	e, sim := newTestEngine(instrument.Bias(0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &memorySink{}
	results, _, err := e.MeasurePulse(ctx, testTask, testPulse, sink, func(calibration.ResultPoint) { cancel() })
	if !errors.Is(err, calibration.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if len(results) != 1 || sink.saved != nil {
		t.Fatalf("results = %d, saved = %v", len(results), sink.saved)
	}
	if sim.GeneratorOn() {
		t.Fatalf("generator output should be off after cancel")
	}
}
