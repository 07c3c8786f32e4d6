// Package instrument drives the RF bench: a signal generator, a power meter
// and a DC source, each reached through a textual command Transport.
package instrument

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rfcal/pkg/calibration"
)

// Transport sends textual commands to a single instrument.
type Transport interface {
	// Send writes a command without waiting for a response.
	Send(cmd string) error
	// Query writes a command and returns the instrument's response.
	Query(cmd string) (string, error)
	// Close releases the underlying connection.
	Close() error
}

// conn is embedded by the drivers and logs every command at Trace level.
type conn struct {
	name string
	t    Transport
}

func (c conn) send(cmd string) error {
	logrus.WithFields(logrus.Fields{
		"instrument": c.name,
		"command":    cmd,
	}).Trace("send")

	if err := c.t.Send(cmd); err != nil {
		return fmt.Errorf("%w: %s: send %q: %w", calibration.ErrInstrumentCommunication, c.name, cmd, err)
	}
	return nil
}

func (c conn) query(cmd string) (string, error) {
	logrus.WithFields(logrus.Fields{
		"instrument": c.name,
		"command":    cmd,
	}).Trace("query")

	ret, err := c.t.Query(cmd)
	if err != nil {
		return "", fmt.Errorf("%w: %s: query %q: %w", calibration.ErrInstrumentCommunication, c.name, cmd, err)
	}

	logrus.WithFields(logrus.Fields{
		"instrument": c.name,
		"command":    cmd,
		"response":   ret,
	}).Trace("query returned")

	return ret, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
