package instrument

import (
	"fmt"
	"io"
	"sync"

	"github.com/gotmc/prologix"
	"github.com/gotmc/prologix/driver/vcp"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Address locates an instrument behind a Prologix GPIB-USB controller.
type Address struct {
	Port string `json:"port"`
	GPIB int    `json:"gpib"`
}

func (a Address) String() string {
	return fmt.Sprintf("%s#%d", a.Port, a.GPIB)
}

// prologixPort is one serial port shared by every instrument on its bus.
type prologixPort struct {
	mu   sync.Mutex
	path string
	rw   io.ReadWriteCloser
	refs int
}

// prologixTransport addresses a single instrument on a shared port. The
// controller is re-addressed before every command since several instruments
// share the bus.
type prologixTransport struct {
	port *prologixPort
	ctrl *prologix.Controller
	addr int
}

func (t *prologixTransport) selectInstrument() error {
	_, err := fmt.Fprintf(t.port.rw, "++addr %d\n", t.addr)
	return err
}

func (t *prologixTransport) Send(cmd string) error {
	t.port.mu.Lock()
	defer t.port.mu.Unlock()

	if err := t.selectInstrument(); err != nil {
		return err
	}
	return t.ctrl.Command(cmd)
}

func (t *prologixTransport) Query(cmd string) (string, error) {
	t.port.mu.Lock()
	defer t.port.mu.Unlock()

	if err := t.selectInstrument(); err != nil {
		return "", err
	}
	return t.ctrl.Query(cmd)
}

func (t *prologixTransport) Close() error {
	t.port.mu.Lock()
	defer t.port.mu.Unlock()

	if err := t.selectInstrument(); err == nil {
		if err := t.ctrl.FrontPanel(true); err != nil {
			logrus.WithError(err).WithField("gpib", t.addr).Warn("failed to return instrument to local control")
		}
	}

	t.port.refs--
	if t.port.refs > 0 {
		return nil
	}
	return t.port.rw.Close()
}

// prologixBus opens each serial port once and hands out per-address
// transports.
type prologixBus struct {
	ports map[string]*prologixPort
}

func newPrologixBus() *prologixBus {
	return &prologixBus{ports: make(map[string]*prologixPort)}
}

func (b *prologixBus) open(a Address) (Transport, error) {
	p, ok := b.ports[a.Port]
	if !ok {
		rw, err := vcp.NewVCP(a.Port)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "failed to open serial port %s", a.Port)
		}
		p = &prologixPort{path: a.Port, rw: rw}
		b.ports[a.Port] = p
	}

	ctrl, err := prologix.NewController(p.rw, a.GPIB, false)
	if err != nil {
		if p.refs == 0 {
			_ = p.rw.Close()
			delete(b.ports, a.Port)
		}
		return nil, pkgerrors.Wrapf(err, "failed to create prologix controller for %s", a)
	}
	p.refs++

	logrus.WithFields(logrus.Fields{
		"port": a.Port,
		"gpib": a.GPIB,
	}).Debug("prologix instrument opened")

	return &prologixTransport{port: p, ctrl: ctrl, addr: a.GPIB}, nil
}
