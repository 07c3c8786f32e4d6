package instrument

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/charlie0129/rfcal/pkg/calibration"
)

// fakeTransport records commands and answers queries from a map.
type fakeTransport struct {
	sent    []string
	answers map[string]string
	err     error
	block   chan struct{}
}

func (f *fakeTransport) Send(cmd string) error {
	if f.block != nil {
		<-f.block
	}
	f.sent = append(f.sent, cmd)
	return f.err
}

func (f *fakeTransport) Query(cmd string) (string, error) {
	if f.block != nil {
		<-f.block
	}
	f.sent = append(f.sent, cmd)
	if f.err != nil {
		return "", f.err
	}
	return f.answers[cmd], nil
}

func (f *fakeTransport) Close() error { return nil }

func TestGeneratorCommands(t *testing.T) {
	ft := &fakeTransport{}
	g := NewGenerator(ft)

	_ = g.Reset()
	_ = g.SetPower(-2.5)
	_ = g.SetFrequency(1.5e9)
	_ = g.Output(true)
	_ = g.Output(false)

	want := []string{"*RST", "POW -2.5dbm", "FREQ 1500000000", "OUTP ON", "OUTP OFF"}
	if !reflect.DeepEqual(ft.sent, want) {
		t.Fatalf("sent %v, want %v", ft.sent, want)
	}
}

func TestPowerMeterCommands(t *testing.T) {
	ft := &fakeTransport{answers: map[string]string{"FETCH?": " -3.25\r\n"}}
	m := NewPowerMeter(ft)

	_ = m.Configure(4)
	_ = m.SetFrequency(2e9)
	_ = m.Trigger()
	v, err := m.Fetch()
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if v != -3.25 {
		t.Fatalf("Fetch() = %v, want -3.25", v)
	}

	want := []string{"SENS1:AVER:COUN 4", "FORM ASCII", "SENS1:FREQ 2000000000", "ABORT", "INIT", "FETCH?"}
	if !reflect.DeepEqual(ft.sent, want) {
		t.Fatalf("sent %v, want %v", ft.sent, want)
	}
}

func TestPowerMeterConfigurePulse(t *testing.T) {
	ft := &fakeTransport{}
	err := NewPowerMeter(ft).ConfigurePulse(2, PulseSettings{
		TraceOffset:  1e-6,
		TraceScale:   5e-6,
		TraceTop:     20,
		TraceDBDiv:   5,
		TriggerLevel: -10,
		GateOffset:   2e-6,
		GateLength:   1e-5,
	})
	if err != nil {
		t.Fatalf("ConfigurePulse() error = %v", err)
	}

	want := []string{
		"SENS1:AVER:COUN 2",
		"FORM ASCII",
		"INIT:CONT ON",
		"TRIG:SOUR INT1",
		`DISP:WIND1:TRAC:FEED "SENS1"`,
		"DISP:WIND1:FORM TRAC",
		"DISP:SCR:FORM FSCR",
		"SENS1:TRAC:OFFS:TIME 0.000001",
		"SENS1:TRAC:X:SCAL:PDIV 0.000005",
		"SENS1:TRAC:LIM:UPP 20",
		"SENS1:TRAC:Y:SCAL:PDIV 5",
		"TRIG:SEQ:LEV -10",
		"SENS1:SWE1:OFFS:TIME 0.000002",
		"SENS1:SWE1:TIME 0.00001",
	}
	if !reflect.DeepEqual(ft.sent, want) {
		t.Fatalf("sent %v, want %v", ft.sent, want)
	}
}

func TestSimulatorContinuousMode(t *testing.T) {
	sim := NewSimulator(Bias(0))
	b := sim.Bench()

	if err := b.Meter.ConfigurePulse(1, PulseSettings{GateLength: 1e-5}); err != nil {
		t.Fatalf("ConfigurePulse() error = %v", err)
	}
	if !sim.Continuous() {
		t.Fatalf("meter should be in continuous mode")
	}
	if err := b.Meter.Reset(); err != nil {
		t.Fatal(err)
	}
	if sim.Continuous() {
		t.Fatalf("reset should leave continuous mode")
	}
}

func TestPowerMeterBadReading(t *testing.T) {
	tests := []struct {
		name    string
		reading string
	}{
		{"garbage", "ERR"},
		{"empty", ""},
		{"nan", "NaN"},
		{"positive infinity", "+Inf"},
		{"negative infinity", "-Inf\n"},
		{"overflow", "1e999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{answers: map[string]string{"FETCH?": tt.reading}}
			v, err := NewPowerMeter(ft).Fetch()
			if !errors.Is(err, calibration.ErrInstrumentCommunication) {
				t.Fatalf("Fetch() = %v, %v; expected ErrInstrumentCommunication", v, err)
			}
		})
	}
}

func TestTransportErrorWrapped(t *testing.T) {
	cause := errors.New("bus error")
	ft := &fakeTransport{err: cause}
	err := NewSource(ft).Output(true)
	if !errors.Is(err, calibration.ErrInstrumentCommunication) {
		t.Fatalf("expected ErrInstrumentCommunication, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
}

func TestSourceApply(t *testing.T) {
	ft := &fakeTransport{}
	if err := NewSource(ft).Apply(3, 0.02); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	want := []string{"VOLT 3", "CURR 0.02"}
	if !reflect.DeepEqual(ft.sent, want) {
		t.Fatalf("sent %v, want %v", ft.sent, want)
	}
}

func TestWithTimeout(t *testing.T) {
	ft := &fakeTransport{block: make(chan struct{})}
	defer close(ft.block)

	tt := WithTimeout(ft, 20*time.Millisecond)
	start := time.Now()
	_, err := tt.Query("FETCH?")
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout took too long")
	}

	if WithTimeout(ft, 0) != Transport(ft) {
		t.Fatalf("zero timeout should return the transport unchanged")
	}
}

func TestBenchLease(t *testing.T) {
	b := NewSimulator(Bias(0)).Bench()
	if !b.TryAcquire() {
		t.Fatalf("first acquire should succeed")
	}
	if b.TryAcquire() {
		t.Fatalf("second acquire should fail while leased")
	}
	b.Release()
	if !b.TryAcquire() {
		t.Fatalf("acquire after release should succeed")
	}
	b.Release()
}

func TestSimulatorReadings(t *testing.T) {
	sim := NewSimulator(Bias(1.5))
	sim.FirstFetchOffset = 3
	b := sim.Bench()

	if err := b.Meter.Reset(); err != nil {
		t.Fatal(err)
	}
	_ = b.Generator.SetPower(10)
	_ = b.Generator.SetFrequency(1e9)

	v, _ := b.Meter.Fetch()
	if v != NoSignal+3 {
		t.Fatalf("reading with output off = %v, want %v", v, NoSignal+3)
	}

	_ = b.Generator.Output(true)
	v, _ = b.Meter.Fetch()
	if v != 8.5 {
		t.Fatalf("reading = %v, want 8.5", v)
	}
	if !sim.GeneratorOn() {
		t.Fatalf("generator should be on")
	}
	if sim.Fetches() != 2 {
		t.Fatalf("Fetches() = %d, want 2", sim.Fetches())
	}
}

func TestSimulatorFailOn(t *testing.T) {
	sim := NewSimulator(Bias(0))
	sim.FailOn("FETCH?", errors.New("timeout"))
	_, err := sim.Bench().Meter.Fetch()
	if !errors.Is(err, calibration.ErrInstrumentCommunication) {
		t.Fatalf("expected ErrInstrumentCommunication, got %v", err)
	}
}
