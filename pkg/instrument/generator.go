package instrument

import "fmt"

// Generator is a CW signal generator.
type Generator struct {
	conn
}

// NewGenerator returns a Generator using t.
func NewGenerator(t Transport) *Generator {
	return &Generator{conn{name: "generator", t: t}}
}

// Reset does a soft reset of the generator.
func (g *Generator) Reset() error {
	return g.send("*RST")
}

// SetPower sets the output level in dBm.
func (g *Generator) SetPower(dbm float64) error {
	return g.send(fmt.Sprintf("POW %sdbm", formatFloat(dbm)))
}

// SetFrequency sets the CW frequency in Hz.
func (g *Generator) SetFrequency(hz float64) error {
	return g.send(fmt.Sprintf("FREQ %s", formatFloat(hz)))
}

// Output switches the RF output.
func (g *Generator) Output(on bool) error {
	return g.send("OUTP " + onOff(on))
}
