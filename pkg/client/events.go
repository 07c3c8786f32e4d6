package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rfcal/pkg/events"
)

const reconnectInterval = 2 * time.Second

// SubscribeEvents streams daemon events until ctx is cancelled. The
// connection is re-established when the daemon goes away. The returned
// channel is closed after ctx is done.
func (c *Client) SubscribeEvents(ctx context.Context) <-chan events.Event {
	ch := make(chan events.Event, events.DefaultBuffer)

	go func() {
		defer close(ch)
		for {
			err := c.streamEvents(ctx, ch)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				logrus.WithError(err).Debug("event stream interrupted")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectInterval):
			}
		}
	}()

	return ch
}

func (c *Client) streamEvents(ctx context.Context, ch chan<- events.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("got %d from event stream", resp.StatusCode)
	}

	return readEvents(ctx, resp.Body, ch)
}

// readEvents parses a server-sent event stream. Only the event and data
// fields are used.
func readEvents(ctx context.Context, r io.Reader, ch chan<- events.Event) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var name string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if name == "" && len(data) == 0 {
				continue
			}
			ev := events.Event{Name: name, Data: json.RawMessage(strings.Join(data, "\n"))}
			name, data = "", nil
			select {
			case ch <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
