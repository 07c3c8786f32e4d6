package instrument

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// NoSignal is what the simulated meter reads with the generator output off.
const NoSignal = -100.0

// Model returns the power the meter reads for a commanded generator level
// (dBm) at freq (Hz).
type Model func(commanded, freq float64) float64

// DefaultModel is a path with 1 dB of flat loss and a slight frequency slope.
func DefaultModel(commanded, freq float64) float64 {
	return commanded - 1.0 - 0.1*freq/1e9
}

// Bias returns a model that reads the commanded level minus bias.
func Bias(bias float64) Model {
	return func(commanded, _ float64) float64 { return commanded - bias }
}

// Command is one command received by the simulator.
type Command struct {
	Instrument string
	Text       string
}

// Simulator emulates the SCPI subset used by the drivers, sharing state
// between the three instruments the way a wired bench does.
type Simulator struct {
	mu sync.Mutex

	model Model
	// FirstFetchOffset is added to the first reading after a meter reset,
	// mimicking meters whose first automatic measurement is off.
	FirstFetchOffset float64
	// OnFetch, when set, is called after every reading is produced.
	OnFetch func(n int)

	genPower   float64
	genFreq    float64
	genOn      bool
	meterFreq  float64
	averages   int
	continuous bool
	fetches    int
	fresh      bool
	srcVolts   float64
	srcAmps    float64
	srcOn      bool

	commands []Command
	failures map[string]error
}

// NewSimulator returns a simulator reading through model.
func NewSimulator(model Model) *Simulator {
	return &Simulator{
		model:    model,
		failures: make(map[string]error),
	}
}

// Bench returns a bench wired to the simulator.
func (s *Simulator) Bench() *Bench {
	return NewBench(
		&simTransport{s: s, name: "generator"},
		&simTransport{s: s, name: "powerMeter"},
		&simTransport{s: s, name: "source"},
	)
}

// SetModel replaces the response model.
func (s *Simulator) SetModel(m Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = m
}

// FailOn makes every command starting with prefix fail with err.
func (s *Simulator) FailOn(prefix string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[prefix] = err
}

// Commands returns a copy of every command received so far.
func (s *Simulator) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands...)
}

// GeneratorOn reports whether the generator output is on.
func (s *Simulator) GeneratorOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.genOn
}

// SourceOn reports whether the DC source output is on.
func (s *Simulator) SourceOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srcOn
}

// Continuous reports whether the meter is in continuous trace mode.
func (s *Simulator) Continuous() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.continuous
}

// Fetches returns the number of readings taken.
func (s *Simulator) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func (s *Simulator) exec(name, cmd string) (string, error) {
	s.mu.Lock()
	s.commands = append(s.commands, Command{Instrument: name, Text: cmd})
	for prefix, err := range s.failures {
		if strings.HasPrefix(cmd, prefix) {
			s.mu.Unlock()
			return "", err
		}
	}

	ret, err := s.execLocked(name, cmd)
	n := s.fetches
	onFetch := s.OnFetch
	s.mu.Unlock()

	if onFetch != nil && cmd == "FETCH?" && err == nil {
		onFetch(n)
	}
	return ret, err
}

//nolint:gocyclo
func (s *Simulator) execLocked(name, cmd string) (string, error) {
	header, arg, _ := strings.Cut(strings.TrimSpace(cmd), " ")
	header = strings.ToUpper(header)

	switch name {
	case "generator":
		switch header {
		case "*RST":
			s.genPower, s.genFreq, s.genOn = 0, 0, false
		case "POW":
			v, err := parseArg(strings.TrimSuffix(strings.ToLower(arg), "dbm"))
			if err != nil {
				return "", err
			}
			s.genPower = v
		case "FREQ":
			v, err := parseArg(arg)
			if err != nil {
				return "", err
			}
			s.genFreq = v
		case "OUTP":
			s.genOn = strings.EqualFold(arg, "ON")
		default:
			return "", fmt.Errorf("generator: undefined header %q", header)
		}
	case "powerMeter":
		switch header {
		case "*RST":
			s.meterFreq, s.averages, s.fresh, s.continuous = 0, 0, true, false
		case "SENS1:AVER:COUN":
			v, err := strconv.Atoi(arg)
			if err != nil {
				return "", err
			}
			s.averages = v
		case "FORM":
		case "SENS1:FREQ":
			v, err := parseArg(arg)
			if err != nil {
				return "", err
			}
			s.meterFreq = v
		case "ABORT", "INIT":
		case "INIT:CONT":
			s.continuous = strings.EqualFold(arg, "ON")
		case "TRIG:SOUR", "DISP:WIND1:TRAC:FEED", "DISP:WIND1:FORM", "DISP:SCR:FORM":
		case "SENS1:TRAC:OFFS:TIME", "SENS1:TRAC:X:SCAL:PDIV", "SENS1:TRAC:LIM:UPP",
			"SENS1:TRAC:Y:SCAL:PDIV", "TRIG:SEQ:LEV", "SENS1:SWE1:OFFS:TIME", "SENS1:SWE1:TIME":
			if _, err := parseArg(arg); err != nil {
				return "", err
			}
		case "FETCH?":
			return formatFloat(s.readLocked()), nil
		default:
			return "", fmt.Errorf("powerMeter: undefined header %q", header)
		}
	case "source":
		switch header {
		case "*RST":
			s.srcVolts, s.srcAmps, s.srcOn = 0, 0, false
		case "VOLT":
			v, err := parseArg(arg)
			if err != nil {
				return "", err
			}
			s.srcVolts = v
		case "CURR":
			v, err := parseArg(arg)
			if err != nil {
				return "", err
			}
			s.srcAmps = v
		case "OUTP":
			s.srcOn = strings.EqualFold(arg, "ON")
		default:
			return "", fmt.Errorf("source: undefined header %q", header)
		}
	}
	return "", nil
}

func (s *Simulator) readLocked() float64 {
	s.fetches++
	v := NoSignal
	if s.genOn && s.model != nil {
		v = s.model(s.genPower, s.genFreq)
	}
	if s.fresh {
		s.fresh = false
		v += s.FirstFetchOffset
	}
	// Mimic an ASCII meter reading with limited resolution.
	return math.Round(v*1e6) / 1e6
}

func parseArg(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

type simTransport struct {
	s    *Simulator
	name string
}

func (t *simTransport) Send(cmd string) error {
	_, err := t.s.exec(t.name, cmd)
	return err
}

func (t *simTransport) Query(cmd string) (string, error) {
	return t.s.exec(t.name, cmd)
}

func (t *simTransport) Close() error { return nil }
