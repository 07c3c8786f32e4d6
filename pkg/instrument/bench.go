package instrument

import (
	"errors"
	"sync"
)

// Bench is the instrument set used by calibration and measurement runs.
// Only one run may drive a bench at a time; runs hold the lease for their
// whole duration.
type Bench struct {
	Generator *Generator
	Meter     *PowerMeter
	Source    *Source

	lease      sync.Mutex
	transports []Transport
}

// NewBench builds a bench from one transport per instrument.
func NewBench(generator, meter, source Transport) *Bench {
	return &Bench{
		Generator:  NewGenerator(generator),
		Meter:      NewPowerMeter(meter),
		Source:     NewSource(source),
		transports: []Transport{generator, meter, source},
	}
}

// TryAcquire takes the exclusive lease. It returns false if another run
// holds it.
func (b *Bench) TryAcquire() bool {
	return b.lease.TryLock()
}

// Release returns the lease taken by TryAcquire.
func (b *Bench) Release() {
	b.lease.Unlock()
}

// Close closes every transport.
func (b *Bench) Close() error {
	var errs []error
	for _, t := range b.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
