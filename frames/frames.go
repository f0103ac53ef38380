// Package frames precomputes, for every frame of a run, the input and
// equalized output windows and their spectra, and serves them to the
// renderer by frame index.
package frames

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/RyanBlaney/sonido-eqscope/algorithms/spectral"
	"github.com/RyanBlaney/sonido-eqscope/logging"
	"github.com/RyanBlaney/sonido-eqscope/timing"
)

// ErrFrameIndex is returned by Render for an index outside [0, Len())
var ErrFrameIndex = errors.New("frame index out of range")

// Filter is the equalizer applied to every window independently
type Filter interface {
	Apply(samples []float64, gain float64) []float64
}

// Analyzer computes the spectrum of one window
type Analyzer interface {
	Compute(samples []float64) spectral.PSD
}

// Bundle is everything the renderer needs for one frame. Its slices are
// shared with the Frames that produced it and must be treated as read-only.
type Bundle struct {
	Index     int
	Time      []float64
	Input     []float64
	Output    []float64
	InputPSD  spectral.PSD
	OutputPSD spectral.PSD
}

// Frames holds the fully materialised per-frame data of a run
type Frames struct {
	plan    *timing.Plan
	bundles []Bundle
}

// Option customises Assemble
type Option func(*options)

type options struct {
	workers int
	gain    float64
}

// WithWorkers sets the number of goroutines used for analysis. Zero or less
// picks a count from the number of CPUs.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithGain sets the multiplier passed to the filter (default 1)
func WithGain(g float64) Option {
	return func(o *options) { o.gain = g }
}

// Assemble filters every window and computes both spectra. Windows are
// independent, so they are spread over a worker pool; the result does not
// depend on the number of workers. If ctx is cancelled before all windows are
// done, Assemble returns the context error and no Frames.
func Assemble(ctx context.Context, plan *timing.Plan, windows []timing.Window, filter Filter, analyzer Analyzer, opts ...Option) (*Frames, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "frame_assembler",
		"function":  "Assemble",
	})

	if plan == nil || filter == nil || analyzer == nil {
		return nil, fmt.Errorf("assemble: plan, filter and analyzer are required")
	}
	if len(windows) != plan.NFrames {
		return nil, fmt.Errorf("assemble: plan has %d frames but %d windows were given", plan.NFrames, len(windows))
	}

	o := options{gain: 1}
	for _, opt := range opts {
		opt(&o)
	}

	numWorkers := o.workers
	if numWorkers <= 0 {
		numWorkers = optimalWorkerCount(len(windows))
	}
	numWorkers = max(1, min(numWorkers, len(windows)))

	logger.Debug("Assembling frames", logging.Fields{
		"frames":  len(windows),
		"workers": numWorkers,
		"gain":    o.gain,
	})

	bundles := make([]Bundle, len(windows))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				w := windows[idx]
				output := filter.Apply(w.Samples, o.gain)
				bundles[idx] = Bundle{
					Index:     w.Index,
					Time:      w.Time,
					Input:     w.Samples,
					Output:    output,
					InputPSD:  analyzer.Compute(w.Samples),
					OutputPSD: analyzer.Compute(output),
				}
			}
		}()
	}

	var ctxErr error
dispatch:
	for idx := range windows {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}
		select {
		case <-ctx.Done():
			ctxErr = ctx.Err()
			break dispatch
		case jobs <- idx:
		}
	}
	close(jobs)
	wg.Wait()

	if ctxErr != nil {
		logger.Warn("Frame assembly cancelled", logging.Fields{"error": ctxErr.Error()})
		return nil, ctxErr
	}

	logger.Debug("Frames assembled", logging.Fields{
		"frames": len(bundles),
	})

	return &Frames{plan: plan, bundles: bundles}, nil
}

// optimalWorkerCount mirrors the STFT sizing: small jobs stay small, large
// ones use every CPU.
func optimalWorkerCount(numFrames int) int {
	numCPU := runtime.NumCPU()

	if numFrames < 100 {
		return max(1, min(numCPU/2, numFrames))
	}
	if numFrames < 1000 {
		return min(numCPU, 8)
	}
	return numCPU
}

// Render returns the precomputed data of frame i. It performs no computation
// or allocation, so repeated calls with the same index return identical data
// and frames may be requested in any order.
func (f *Frames) Render(i int) (Bundle, error) {
	if i < 0 || i >= len(f.bundles) {
		return Bundle{}, fmt.Errorf("%w: %d not in [0, %d)", ErrFrameIndex, i, len(f.bundles))
	}
	return f.bundles[i], nil
}

// Len returns the number of frames
func (f *Frames) Len() int {
	return len(f.bundles)
}

// Plan returns the timing plan the frames were built from
func (f *Frames) Plan() *timing.Plan {
	return f.plan
}

// OutputSamples concatenates every output window in frame order
func (f *Frames) OutputSamples() []float64 {
	total := 0
	for _, b := range f.bundles {
		total += len(b.Output)
	}

	out := make([]float64, 0, total)
	for _, b := range f.bundles {
		out = append(out, b.Output...)
	}
	return out
}
