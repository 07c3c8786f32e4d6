package instrument

import (
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// BenchConfig describes how to reach the instruments.
type BenchConfig struct {
	Generator    Address
	PowerMeter   Address
	Source       Address
	QueryTimeout time.Duration
	// Simulate builds the bench on top of a Simulator instead of hardware.
	Simulate bool
}

// Open connects to every instrument of the bench. With Simulate set it
// returns a bench backed by a fresh Simulator using DefaultModel.
func Open(c BenchConfig) (*Bench, error) {
	if c.Simulate {
		logrus.Info("using simulated instrument bench")
		return NewSimulator(DefaultModel).Bench(), nil
	}

	bus := newPrologixBus()
	var opened []Transport
	closeAll := func() {
		for _, t := range opened {
			_ = t.Close()
		}
	}

	for _, a := range []Address{c.Generator, c.PowerMeter, c.Source} {
		t, err := bus.open(a)
		if err != nil {
			closeAll()
			return nil, pkgerrors.Wrapf(err, "failed to open instrument at %s", a)
		}
		opened = append(opened, WithTimeout(t, c.QueryTimeout))
	}

	logrus.WithFields(logrus.Fields{
		"generator":  c.Generator.String(),
		"powerMeter": c.PowerMeter.String(),
		"source":     c.Source.String(),
	}).Info("instrument bench opened")

	return NewBench(opened[0], opened[1], opened[2]), nil
}
