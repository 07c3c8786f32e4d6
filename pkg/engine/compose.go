package engine

import (
	"fmt"

	"github.com/charlie0129/rfcal/pkg/caltable"
	"github.com/charlie0129/rfcal/pkg/calibration"
)

// Compose merges the exported input and output calibration points into a
// measurement task with one point per input point. The output deltas are
// repeated cyclically along the input points, which requires the output
// frequencies to repeat the same way along the input sequence; this is
// checked for every point and reported as ErrTableMisaligned.
func Compose(in, out []calibration.Point) ([]calibration.TaskPoint, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: input calibration table is empty", calibration.ErrPrerequisiteMissing)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: output calibration table is empty", calibration.ErrPrerequisiteMissing)
	}

	task := make([]calibration.TaskPoint, 0, len(in))
	for i, p := range in {
		o := out[i%len(out)]
		if caltable.FrequencyKey(o.Frequency) != caltable.FrequencyKey(p.Frequency) {
			return nil, fmt.Errorf("%w: input point %d is at %.0f Hz but output point %d is at %.0f Hz",
				calibration.ErrTableMisaligned, i, p.Frequency, i%len(out), o.Frequency)
		}
		task = append(task, calibration.TaskPoint{
			Frequency: p.Frequency,
			PowerSet:  p.PowerMeasured,
			PowerRef:  p.PowerSet,
			DeltaIn:   p.Delta,
			DeltaOut:  o.Delta,
		})
	}
	return task, nil
}

// ComposeTables is Compose over the full content of both tables.
func ComposeTables(in, out *caltable.Table) ([]calibration.TaskPoint, error) {
	return Compose(in.ExportAll(), out.ExportAll())
}
