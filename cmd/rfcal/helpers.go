package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rfcal/pkg/calibration"
	"github.com/charlie0129/rfcal/pkg/events"
	"github.com/charlie0129/rfcal/pkg/results"
)

// annotationLocal marks commands that must not contact the daemon before
// running.
const annotationLocal = "rfcal/local"

func parseFloatArg(arg string, valueName string) (float64, error) {
	value, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}
	return value, nil
}

// responseText unquotes a JSON string response of the daemon.
func responseText(ret string) string {
	var s string
	if err := json.Unmarshal([]byte(ret), &s); err == nil {
		return s
	}
	return strings.TrimSpace(ret)
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func stateText(st calibration.RunState) string {
	switch st {
	case calibration.RunSucceeded:
		return color.GreenString(string(st))
	case calibration.RunFailed:
		return color.RedString(string(st))
	case calibration.RunCancelled, calibration.RunRunning:
		return color.YellowString(string(st))
	}
	return string(st)
}

func ghz(hz float64) string {
	return strconv.FormatFloat(hz/1e9, 'f', -1, 64)
}

func printRunStatus(w io.Writer, st calibration.RunStatus) {
	fmt.Fprintf(w, "State: %s\n", bold("%s", stateText(st.State)))
	if st.ID == "" {
		return
	}
	fmt.Fprintf(w, "Run: %s (%s, %d points)\n", st.ID, st.Kind, st.Points)
	fmt.Fprintf(w, "Started: %s\n", st.StartedAt.Local().Format(time.DateTime))
	if !st.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Finished: %s (took %s)\n", st.FinishedAt.Local().Format(time.DateTime), st.FinishedAt.Sub(st.StartedAt).Round(time.Second))
	}
	if st.Message != "" {
		fmt.Fprintf(w, "Message: %s\n", st.Message)
	}
}

func printTableView(w io.Writer, view *calibration.TableView) {
	if len(view.Rows) == 0 {
		fmt.Fprintf(w, "The %s calibration table is empty.\n", view.Stage)
		return
	}
	printGrid(w, view.Headers, view.Rows)
}

func printPulseView(w io.Writer, view *results.PulseView) {
	if len(view.Rows) == 0 {
		fmt.Fprintf(w, "Pulse run %s has no points.\n", view.Run.ID)
		return
	}
	printGrid(w, view.Headers, view.Rows)
}

func printGrid(w io.Writer, headers []string, rows [][]float64) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, strings.Join(headers, "\t")+"\t")
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = strconv.FormatFloat(v, 'f', 2, 64)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t")+"\t")
	}
	_ = tw.Flush()
}

func printTask(w io.Writer, task []calibration.TaskPoint) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tF, GHz\tPset, dBm\tPref, dBm\tΔin, dB\tΔout, dB\t")
	for i, p := range task {
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t\n", i+1, ghz(p.Frequency), p.PowerSet, p.PowerRef, p.DeltaIn, p.DeltaOut)
	}
	_ = tw.Flush()
}

func printResults(w io.Writer, points []calibration.ResultPoint) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tF, GHz\tPset, dBm\tPmeas, dBm\tPadj, dBm\tPref, dBm\t")
	for i, p := range points {
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t\n", i+1, ghz(p.Frequency), p.PowerSet, p.PowerMeasured, p.PowerAdjusted, p.PowerRef)
	}
	_ = tw.Flush()
}

func printProgress(w io.Writer, ev events.RunProgressEvent) {
	prefix := fmt.Sprintf("[%d/%d]", ev.Index+1, ev.Total)
	switch {
	case ev.Point != nil:
		fmt.Fprintf(w, "%s %s GHz %6.2f dBm: measured %.2f dBm, delta %.2f dB\n", prefix, ghz(ev.Point.Frequency), ev.Point.PowerSet, ev.Point.PowerMeasured, ev.Point.Delta)
	case ev.Result != nil:
		fmt.Fprintf(w, "%s %s GHz %6.2f dBm: measured %.2f dBm, adjusted %.2f dBm\n", prefix, ghz(ev.Result.Frequency), ev.Result.PowerSet, ev.Result.PowerMeasured, ev.Result.PowerAdjusted)
	default:
		fmt.Fprintln(w, prefix)
	}
}

// followRun prints the progress of the run started by start until it
// finishes. Ctrl-C requests cancellation of the run.
func followRun(w io.Writer, start func() (calibration.RunStatus, error)) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := apiClient.SubscribeEvents(ctx)
	st, err := start()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Run %s (%s, %d points)\n", st.ID, st.Kind, st.Points)
	return watchRun(ctx, w, ch, st.ID)
}

// watchRun consumes events until the run with the given ID finishes. The run
// status is polled as well, so a run that ended before the event stream was
// connected is noticed.
func watchRun(ctx context.Context, w io.Writer, ch <-chan events.Event, runID string) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-interrupt:
			if _, err := apiClient.CancelRun(); err != nil {
				logrus.WithError(err).Warn("failed to cancel run")
			} else {
				fmt.Fprintln(w, "Cancel requested, waiting for the current point to finish...")
			}
		case <-ticker.C:
			st, err := apiClient.GetRunStatus()
			if err != nil {
				return err
			}
			if st.ID == runID && st.State != calibration.RunRunning {
				return runOutcome(w, st.State == calibration.RunSucceeded, st.Message)
			}
		case ev, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			switch ev.Name {
			case events.RunProgress:
				p, err := events.DecodeAs[events.RunProgressEvent](ev)
				if err != nil || p.RunID != runID {
					continue
				}
				printProgress(w, p)
			case events.RunFinished:
				p, err := events.DecodeAs[events.RunFinishedEvent](ev)
				if err != nil || p.RunID != runID {
					continue
				}
				return runOutcome(w, p.OK, p.Message)
			}
		}
	}
}

func runOutcome(w io.Writer, ok bool, msg string) error {
	if !ok {
		return fmt.Errorf("%s", msg)
	}
	fmt.Fprintln(w, color.GreenString(msg))
	return nil
}
