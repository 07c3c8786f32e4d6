package instrument

import "fmt"

// Source is the DC supply powering the device under test.
type Source struct {
	conn
}

// NewSource returns a Source using t.
func NewSource(t Transport) *Source {
	return &Source{conn{name: "source", t: t}}
}

// Reset does a soft reset of the supply.
func (s *Source) Reset() error {
	return s.send("*RST")
}

// Apply sets the output voltage (V) and current limit (A).
func (s *Source) Apply(volts, amps float64) error {
	if err := s.send(fmt.Sprintf("VOLT %s", formatFloat(volts))); err != nil {
		return err
	}
	return s.send(fmt.Sprintf("CURR %s", formatFloat(amps)))
}

// Output switches the supply output.
func (s *Source) Output(on bool) error {
	return s.send("OUTP " + onOff(on))
}
