package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/charlie0129/rfcal/pkg/calibration"
	"github.com/charlie0129/rfcal/pkg/client"
	"github.com/charlie0129/rfcal/pkg/events"
	"github.com/charlie0129/rfcal/pkg/results"
)

func init() {
	color.NoColor = true
}

func TestResponseText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: `"cancel requested"`, want: "cancel requested"},
		{in: "plain text\n", want: "plain text"},
		{in: `{"a":1}`, want: `{"a":1}`},
	}
	for _, tt := range tests {
		if got := responseText(tt.in); got != tt.want {
			t.Errorf("responseText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrintPulseView(t *testing.T) {
	tests := []struct {
		name  string
		view  results.PulseView
		lines int
		want  string
	}{
		{
			name:  "empty",
			view:  results.PulseView{Run: results.Run{ID: "p0"}},
			lines: 1,
			want:  "Pulse run p0 has no points.",
		},
		{
			name: "two rows",
			view: results.PulseView{
				Run:     results.Run{ID: "p1"},
				Headers: []string{"Pin, dBm", "Fin=1, GHz", "Fin=2, GHz"},
				Rows:    [][]float64{{0, 0.25, 0.5}, {5, 5.1, 0}},
			},
			lines: 3,
			want:  "5.10",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printPulseView(&buf, &tt.view)
			lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
			if len(lines) != tt.lines || !strings.Contains(buf.String(), tt.want) {
				t.Fatalf("output = %q", buf.String())
			}
		})
	}
}

func TestPrintTableView(t *testing.T) {
	var buf bytes.Buffer
	printTableView(&buf, &calibration.TableView{Stage: calibration.StageInput})
	if !strings.Contains(buf.String(), "input calibration table is empty") {
		t.Fatalf("empty table output = %q", buf.String())
	}

	buf.Reset()
	printTableView(&buf, &calibration.TableView{
		Stage:   calibration.StageInput,
		Headers: []string{"Pin, dBm", "0.1", "0.2"},
		Rows:    [][]float64{{0, 1, 1.25}, {5, 1.5, 1}},
		Points:  make([]calibration.Point, 4),
	})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "1.25") || !strings.Contains(lines[2], "5.00") {
		t.Errorf("rows = %q", lines[1:])
	}
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, []calibration.ResultPoint{
		{Frequency: 1.5e9, PowerSet: 0, PowerMeasured: -1, PowerAdjusted: 0.25, PowerRef: 1},
	})
	out := buf.String()
	for _, want := range []string{"1.5", "-1.00", "0.25"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}

func mustEvent(t *testing.T, name string, v any) events.Event {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return events.Event{Name: name, Data: b}
}

func TestWatchRun(t *testing.T) {
	apiClient = client.NewClient(filepath.Join(t.TempDir(), "none.sock"))

	tests := []struct {
		name    string
		ok      bool
		msg     string
		wantErr bool
	}{
		{name: "success", ok: true, msg: "Measure done"},
		{name: "cancelled", ok: false, msg: "Measure cancelled after 1 of 2 points", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan events.Event, 8)
			ch <- mustEvent(t, events.RunProgress, events.RunProgressEvent{RunID: "other", Index: 0, Total: 9})
			ch <- mustEvent(t, events.RunProgress, events.RunProgressEvent{
				RunID: "r1", Index: 0, Total: 2,
				Result: &calibration.ResultPoint{Frequency: 1e9, PowerSet: 5, PowerAdjusted: 5.1},
			})
			ch <- mustEvent(t, events.RunFinished, events.RunFinishedEvent{RunID: "other", OK: false, Message: "not mine"})
			ch <- mustEvent(t, events.RunFinished, events.RunFinishedEvent{RunID: "r1", OK: tt.ok, Message: tt.msg})

			var buf bytes.Buffer
			err := watchRun(context.Background(), &buf, ch, "r1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("watchRun() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && err.Error() != tt.msg {
				t.Errorf("watchRun() error = %q, want %q", err, tt.msg)
			}
			if strings.Contains(buf.String(), "[1/9]") {
				t.Errorf("progress of another run printed: %q", buf.String())
			}
			if !strings.Contains(buf.String(), "[1/2]") {
				t.Errorf("progress not printed: %q", buf.String())
			}
		})
	}
}
