package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charlie0129/rfcal/pkg/calibration"
	"github.com/charlie0129/rfcal/pkg/events"
	"github.com/charlie0129/rfcal/pkg/results"
)

// newTestClient serves handler on a unix socket and returns a client for it.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	dir, err := os.MkdirTemp("", "rfcal")
	if err != nil {
		t.Fatal(err)
	}
	socket := filepath.Join(dir, "d.sock")
	l, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewUnstartedServer(handler)
	srv.Listener = l
	srv.Start()
	t.Cleanup(func() {
		srv.Close()
		_ = os.RemoveAll(dir)
	})
	return NewClient(socket)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSendStatusMapping(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, http.StatusOK, "fine") })
	mux.HandleFunc("/conflict", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusConflict, "a run is already in progress")
	})
	mux.HandleFunc("/bad", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, http.StatusBadRequest, "out of range") })
	mux.HandleFunc("/boom", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, http.StatusInternalServerError, "boom") })
	c := newTestClient(t, mux)

	tests := []struct {
		path    string
		wantErr error
		wantMsg string
	}{
		{path: "/ok"},
		{path: "/missing", wantErr: ErrNotFound},
		{path: "/conflict", wantErr: ErrConflict, wantMsg: "a run is already in progress"},
		{path: "/bad", wantErr: ErrBadRequest, wantMsg: "out of range"},
		{path: "/boom", wantMsg: "got 500: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := c.Get(tt.path)
			if tt.wantErr == nil && tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Get() succeeded, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Get() error = %v, want %v", err, tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Get() error = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestDaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	if _, err := c.GetVersion(); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("GetVersion() error = %v, want ErrDaemonNotRunning", err)
	}
}

func TestUnknownMethod(t *testing.T) {
	c := NewClient("/nonexistent")
	if _, err := c.Send("PATCH", "/x", ""); err == nil {
		t.Fatalf("Send(PATCH) succeeded")
	}
}

func TestAPIs(t *testing.T) {
	var gotParam, gotSchedule string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, http.StatusOK, "v1.2.3") })
	mux.HandleFunc("PUT /params/{name}", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotParam = r.PathValue("name") + "=" + string(b)
		writeJSON(w, http.StatusCreated, "ok")
	})
	mux.HandleFunc("POST /measure", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusAccepted, calibration.RunStatus{ID: "Measure-1-1", Kind: calibration.RunMeasure, State: calibration.RunRunning, Points: 6})
	})
	mux.HandleFunc("GET /results", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("run") != "Measure-1-1" {
			writeJSON(w, http.StatusNotFound, "no results")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"run":    map[string]any{"id": "Measure-1-1", "points": 1},
			"points": []calibration.ResultPoint{{Frequency: 1e9, PowerSet: 0, PowerAdjusted: 0.1}},
		})
	})
	mux.HandleFunc("PUT /schedule", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotSchedule = string(b)
		writeJSON(w, http.StatusCreated, map[string]any{"cron": "@daily", "nextRuns": []time.Time{}, "active": true})
	})
	c := newTestClient(t, mux)

	if v, err := c.GetVersion(); err != nil || v != "v1.2.3" {
		t.Fatalf("GetVersion() = %q, %v", v, err)
	}

	if _, err := c.SetParam("p_min", -2.5); err != nil {
		t.Fatalf("SetParam() error = %v", err)
	}
	if gotParam != "p_min=-2.5" {
		t.Errorf("SetParam sent %q", gotParam)
	}

	st, err := c.StartMeasure()
	if err != nil || st.Kind != calibration.RunMeasure || st.Points != 6 {
		t.Fatalf("StartMeasure() = %+v, %v", st, err)
	}

	res, err := c.GetResults("Measure-1-1")
	if err != nil || res.Run.ID != "Measure-1-1" || len(res.Points) != 1 {
		t.Fatalf("GetResults() = %+v, %v", res, err)
	}
	if _, err := c.GetResults(""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetResults(latest) error = %v, want ErrNotFound", err)
	}

	info, err := c.SetSchedule("@daily")
	if err != nil || info.Cron != "@daily" || !info.Active {
		t.Fatalf("SetSchedule() = %+v, %v", info, err)
	}
	if gotSchedule != `"@daily"` {
		t.Errorf("SetSchedule sent %q", gotSchedule)
	}
}

func TestReadEvents(t *testing.T) {
	stream := ": comment\n" +
		"event:run.started\ndata:{\"runId\":\"a\"}\n\n" +
		"\n" +
		"event: table.updated\ndata: {\"stage\":\"input\",\ndata:\"len\":1}\n\n"

	ch := make(chan events.Event, 4)
	err := readEvents(context.Background(), strings.NewReader(stream), ch)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("readEvents() error = %v, want EOF", err)
	}
	close(ch)

	var got []events.Event
	for ev := range ch {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Name != events.RunStarted || string(got[0].Data) != `{"runId":"a"}` {
		t.Errorf("first event = %s %s", got[0].Name, got[0].Data)
	}
	if got[1].Name != events.TableUpdated {
		t.Errorf("second event = %s", got[1].Name)
	}
}

func TestSubscribeEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event:run.finished\ndata:{\"runId\":\"x\",\"ok\":true}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	c := newTestClient(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch := c.SubscribeEvents(ctx)

	ev, ok := <-ch
	if !ok {
		t.Fatalf("event channel closed early")
	}
	payload, err := events.DecodeAs[events.RunFinishedEvent](ev)
	if err != nil || !payload.OK || payload.RunID != "x" {
		t.Fatalf("payload = %+v, %v", payload, err)
	}

	cancel()
	for range ch {
	}
}

func TestPulseAPIs(t *testing.T) {
	var gotRun string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /measure/pulse", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusAccepted, calibration.RunStatus{ID: "p1", Kind: calibration.RunMeasurePulse, State: calibration.RunRunning})
	})
	mux.HandleFunc("GET /results/pulse", func(w http.ResponseWriter, r *http.Request) {
		gotRun = r.URL.Query().Get("run")
		writeJSON(w, http.StatusOK, results.PulseView{
			Run:     results.Run{ID: "p1", Kind: calibration.RunMeasurePulse},
			Headers: []string{"Pin, dBm", "Fin=1, GHz"},
			Rows:    [][]float64{{0, 0.5}},
		})
	})
	c := newTestClient(t, mux)

	st, err := c.StartMeasurePulse()
	if err != nil {
		t.Fatalf("StartMeasurePulse() error = %v", err)
	}
	if st.Kind != calibration.RunMeasurePulse || st.ID != "p1" {
		t.Fatalf("status = %+v", st)
	}

	tests := []struct {
		runID string
	}{
		{runID: ""},
		{runID: "p1"},
	}
	for _, tt := range tests {
		view, err := c.GetPulseResults(tt.runID)
		if err != nil {
			t.Fatalf("GetPulseResults(%q) error = %v", tt.runID, err)
		}
		if gotRun != tt.runID {
			t.Fatalf("server saw run %q, want %q", gotRun, tt.runID)
		}
		if view.Run.ID != "p1" || len(view.Rows) != 1 || view.Rows[0][1] != 0.5 {
			t.Fatalf("view = %+v", view)
		}
	}
}
