package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/charlie0129/rfcal/pkg/calibration"
)

func TestComposeCycling(t *testing.T) {
	in := []calibration.Point{
		{PowerSet: 0, Frequency: 1e9, PowerMeasured: 0.01, Delta: 1.1},
		{PowerSet: 0, Frequency: 2e9, PowerMeasured: 0.02, Delta: 1.2},
		{PowerSet: 5, Frequency: 1e9, PowerMeasured: 5.01, Delta: 1.3},
		{PowerSet: 5, Frequency: 2e9, PowerMeasured: 5.02, Delta: 1.4},
	}
	out := []calibration.Point{
		{PowerSet: 5, Frequency: 1e9, Delta: 0.25},
		{PowerSet: 5, Frequency: 2e9, Delta: 0.5},
	}

	task, err := Compose(in, out)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}

	var deltas []float64
	for _, tp := range task {
		deltas = append(deltas, tp.DeltaOut)
	}
	if want := []float64{0.25, 0.5, 0.25, 0.5}; !reflect.DeepEqual(deltas, want) {
		t.Fatalf("delta_out = %v, want %v", deltas, want)
	}

	want := calibration.TaskPoint{Frequency: 2e9, PowerSet: 5.02, PowerRef: 5, DeltaIn: 1.4, DeltaOut: 0.5}
	if task[3] != want {
		t.Fatalf("task[3] = %+v, want %+v", task[3], want)
	}
}

func TestComposeErrors(t *testing.T) {
	in := []calibration.Point{
		{PowerSet: 0, Frequency: 1e9},
		{PowerSet: 0, Frequency: 2e9},
		{PowerSet: 0, Frequency: 3e9},
	}
	tests := []struct {
		name string
		in   []calibration.Point
		out  []calibration.Point
		want error
	}{
		{"empty input", nil, in, calibration.ErrPrerequisiteMissing},
		{"empty output", in, nil, calibration.ErrPrerequisiteMissing},
		{"misaligned", in, []calibration.Point{{Frequency: 1e9}, {Frequency: 2e9}}, calibration.ErrTableMisaligned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compose(tt.in, tt.out)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
