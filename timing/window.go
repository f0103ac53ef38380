package timing

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Window is one frame's slice of the signal plus its plotting time axis
type Window struct {
	Index     int       `json:"index"`
	Start     int       `json:"start"` // first sample, inclusive
	End       int       `json:"end"`   // last sample, exclusive
	TimeStart float64   `json:"time_start"`
	TimeEnd   float64   `json:"time_end"`
	Samples   []float64 `json:"-"`
	Time      []float64 `json:"-"`
}

// Len returns the number of samples the window holds
func (w Window) Len() int {
	return len(w.Samples)
}

// Segment slices samples into plan.NFrames windows. Window i covers samples
// [i*BufferSize, (i+1)*BufferSize), truncated at the end of the signal, never
// padded. Its Time axis holds BufferSize evenly spaced points from
// i*FrameDuration to (i+1)*FrameDuration inclusive; the axis is for plotting
// only and need not match the time actually spanned by the samples.
//
// Samples share the backing array of the input and must not be modified.
func Segment(plan *Plan, samples []float64) ([]Window, error) {
	if plan == nil {
		return nil, fmt.Errorf("%w: nil plan", ErrConfig)
	}
	if len(samples) != plan.NSamples {
		return nil, fmt.Errorf("%w: plan expects %d samples, got %d", ErrConfig, plan.NSamples, len(samples))
	}

	n := len(samples)
	windows := make([]Window, plan.NFrames)

	for i := range windows {
		start := min(i*plan.BufferSize, n)
		end := min((i+1)*plan.BufferSize, n)

		tStart := float64(i) * plan.FrameDuration
		tEnd := float64(i+1) * plan.FrameDuration

		windows[i] = Window{
			Index:     i,
			Start:     start,
			End:       end,
			TimeStart: tStart,
			TimeEnd:   tEnd,
			Samples:   samples[start:end:end],
			Time:      timeAxis(plan.BufferSize, tStart, tEnd),
		}
	}

	return windows, nil
}

func timeAxis(n int, start, end float64) []float64 {
	if n == 1 {
		return []float64{start}
	}
	return floats.Span(make([]float64, n), start, end)
}
