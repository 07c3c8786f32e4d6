package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charlie0129/rfcal/pkg/calibration"
)

func TestDefaults(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}

	if f.Settle() != 200*time.Millisecond || f.MeasureSettle() != 100*time.Millisecond {
		t.Errorf("settle = %v/%v", f.Settle(), f.MeasureSettle())
	}
	if f.Tolerance() != 0.05 || f.MaxIterations() != 50 {
		t.Errorf("tolerance/maxIterations = %v/%v", f.Tolerance(), f.MaxIterations())
	}
	if f.PowerMeter().GPIB != 3 || f.Source().GPIB != 9 {
		t.Errorf("addresses = %v %v", f.PowerMeter(), f.Source())
	}

	params := f.Params()
	for _, p := range ParamSpecs {
		if params[p.Name] != p.Default {
			t.Errorf("param %s = %v, want default %v", p.Name, params[p.Name], p.Default)
		}
	}
}

func TestLoadEmptyAndInvalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"empty", "  \n", false},
		{"partial", `{"simulate": true, "params": {"p_max": 20}}`, false},
		{"malformed", `{"simulate":`, true},
		{"out of bounds", `{"params": {"avg": 100}}`, true},
		{"unknown param", `{"params": {"bogus": 1}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := NewFile(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewFile() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSetParam(t *testing.T) {
	f := NewFileFromConfig(nil, "")

	tests := []struct {
		name    string
		param   string
		value   float64
		wantErr bool
	}{
		{"in bounds", ParamPowerMax, 20, false},
		{"lower bound", ParamPowerMin, -30, false},
		{"above max", ParamFreqMax, 40.5, true},
		{"below min", ParamPowerStep, -1, true},
		{"fractional averages", ParamAverages, 1.5, true},
		{"unknown", "bogus", 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.SetParam(tt.param, tt.value)
			if tt.wantErr {
				if !errors.Is(err, calibration.ErrInvalidRange) {
					t.Fatalf("expected ErrInvalidRange, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetParam() error = %v", err)
			}
			if v, _ := f.Param(tt.param); v != tt.value {
				t.Fatalf("Param() = %v, want %v", v, tt.value)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rfcal.json")
	f := NewFileFromConfig(nil, path)
	f.SetSimulate(true)
	if err := f.SetParam(ParamFreqStep, 0.05); err != nil {
		t.Fatal(err)
	}
	if err := f.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	g, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	if !g.Simulate() {
		t.Errorf("simulate not persisted")
	}
	if v, _ := g.Param(ParamFreqStep); v != 0.05 {
		t.Errorf("f_delta = %v", v)
	}

	raw, err := NewRawFileConfigFromConfig(g)
	if err != nil {
		t.Fatal(err)
	}
	if *raw.SettleMillis != 200 || raw.Params[ParamAverages] != 1 {
		t.Errorf("raw config = %+v", raw)
	}
}

func TestDerivedSettings(t *testing.T) {
	f := NewFileFromConfig(nil, "/etc/rfcal/rfcal.json")
	dataDir := "data"
	f.c.DataDir = &dataDir

	if got := f.DataDir(); got != "/etc/rfcal/data" {
		t.Errorf("DataDir() = %q", got)
	}

	sp := SweepParams(f)
	if sp.FreqMin != 1e8 || sp.FreqMax != 3e8 || sp.FreqStep != 1e8 {
		t.Errorf("frequencies = %v %v %v", sp.FreqMin, sp.FreqMax, sp.FreqStep)
	}
	if sp.PowerMin != 0 || sp.PowerMax != 10 || sp.PowerStep != 5 {
		t.Errorf("powers = %v %v %v", sp.PowerMin, sp.PowerMax, sp.PowerStep)
	}

	opts := EngineOptions(f)
	if opts.SupplyVolts != 3 || opts.SupplyAmps != 0.02 || opts.Averages != 1 {
		t.Errorf("engine options = %+v", opts)
	}

	bc := BenchConfig(f)
	if bc.QueryTimeout != 5*time.Second || bc.Simulate {
		t.Errorf("bench config = %+v", bc)
	}
}

func TestPulseSettings(t *testing.T) {
	f := NewFileFromConfig(nil, "")
	for name, v := range map[string]float64{
		ParamTraceStart:   2,
		ParamTraceScale:   5,
		ParamTraceTop:     20,
		ParamTraceDBDiv:   3,
		ParamTriggerLevel: 1.5,
		ParamGateStart:    4,
		ParamGateLength:   25,
	} {
		if err := f.SetParam(name, v); err != nil {
			t.Fatalf("SetParam(%s) error = %v", name, err)
		}
	}

	got := PulseSettings(f)
	tests := []struct {
		name      string
		got, want float64
	}{
		{"trace offset", got.TraceOffset, 2e-6},
		{"trace scale", got.TraceScale, 5e-6},
		{"trace top", got.TraceTop, 20},
		{"trace dB/div", got.TraceDBDiv, 3},
		{"trigger level", got.TriggerLevel, 1.5},
		{"gate offset", got.GateOffset, 4e-6},
		{"gate length", got.GateLength, 25e-6},
	}
	for _, tt := range tests {
		if math.Abs(tt.got-tt.want) > 1e-12 {
			t.Errorf("%s = %g, want %g", tt.name, tt.got, tt.want)
		}
	}

	if err := f.SetParam(ParamGateLength, 31); !errors.Is(err, calibration.ErrInvalidRange) {
		t.Fatalf("gate length above bound: expected ErrInvalidRange, got %v", err)
	}
}
