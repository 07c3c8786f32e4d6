package instrument

import (
	"fmt"
	"time"
)

type timeoutTransport struct {
	Transport
	timeout time.Duration
}

// WithTimeout bounds every Send and Query on t. A call that does not return
// within d fails; the stuck call is abandoned in the background. A
// non-positive d returns t unchanged.
func WithTimeout(t Transport, d time.Duration) Transport {
	if d <= 0 {
		return t
	}
	return &timeoutTransport{Transport: t, timeout: d}
}

type queryResult struct {
	ret string
	err error
}

func (t *timeoutTransport) Send(cmd string) error {
	done := make(chan error, 1)
	go func() { done <- t.Transport.Send(cmd) }()
	select {
	case err := <-done:
		return err
	case <-time.After(t.timeout):
		return fmt.Errorf("send %q timed out after %s", cmd, t.timeout)
	}
}

func (t *timeoutTransport) Query(cmd string) (string, error) {
	done := make(chan queryResult, 1)
	go func() {
		ret, err := t.Transport.Query(cmd)
		done <- queryResult{ret, err}
	}()
	select {
	case r := <-done:
		return r.ret, r.err
	case <-time.After(t.timeout):
		return "", fmt.Errorf("query %q timed out after %s", cmd, t.timeout)
	}
}
