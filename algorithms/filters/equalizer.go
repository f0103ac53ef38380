package filters

import (
	"errors"
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/interp"

	"github.com/RyanBlaney/sonido-eqscope/algorithms/spectral"
	"github.com/RyanBlaney/sonido-eqscope/logging"
)

const (
	// DefaultTaps is the FIR length used when no option overrides it
	DefaultTaps = 255

	nyquistTolerance = 1e-6
)

// ErrInvalidResponse is returned when the control points cannot describe a
// response over the whole [0, Fs/2] band.
var ErrInvalidResponse = errors.New("invalid equalizer response")

// Equalizer is a linear-phase FIR filter designed by frequency sampling of a
// piecewise-linear (in dB) gain curve.
//
// An Equalizer holds no signal state. Every Apply call filters its block in
// isolation, so consecutive blocks are not continuous at their edges.
type Equalizer struct {
	taps       []float64
	delay      int
	sampleRate int
	fullScale  float64
}

// EqualizerOption customises BuildEqualizer
type EqualizerOption func(*equalizerOptions)

type equalizerOptions struct {
	taps    int
	gridLen int
}

// WithTaps sets the FIR length. Even values are rounded up to keep the
// filter delay an integer number of samples.
func WithTaps(n int) EqualizerOption {
	return func(o *equalizerOptions) {
		if n < 1 {
			n = 1
		}
		if n%2 == 0 {
			n++
		}
		o.taps = n
	}
}

// BuildEqualizer designs an equalizer whose magnitude response passes through
// (frequencies[i], gainsDB[i]). The first frequency must be 0 Hz and the last
// must be sampleRate/2; frequencies must be strictly ascending. fullScale
// bounds the absolute value of filtered samples.
func BuildEqualizer(frequencies, gainsDB []float64, sampleRate int, fullScale float64, opts ...EqualizerOption) (*Equalizer, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "equalizer",
		"function":  "BuildEqualizer",
	})

	o := equalizerOptions{taps: DefaultTaps}
	for _, opt := range opts {
		opt(&o)
	}
	o.gridLen = designGridLength(o.taps)

	if err := validateResponse(frequencies, gainsDB, sampleRate, fullScale); err != nil {
		logger.Error(err, "Rejected equalizer control points")
		return nil, err
	}

	var curve interp.PiecewiseLinear
	if err := curve.Fit(frequencies, gainsDB); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	taps := designTaps(&curve, sampleRate, o.taps, o.gridLen)

	logger.Debug("Equalizer designed", logging.Fields{
		"control_points": len(frequencies),
		"taps":           len(taps),
		"grid_length":    o.gridLen,
		"sample_rate":    sampleRate,
	})

	return &Equalizer{
		taps:       taps,
		delay:      (len(taps) - 1) / 2,
		sampleRate: sampleRate,
		fullScale:  fullScale,
	}, nil
}

func validateResponse(frequencies, gainsDB []float64, sampleRate int, fullScale float64) error {
	if sampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive: %d", ErrInvalidResponse, sampleRate)
	}
	if !(fullScale > 0) {
		return fmt.Errorf("%w: full scale must be positive: %v", ErrInvalidResponse, fullScale)
	}
	if len(frequencies) != len(gainsDB) {
		return fmt.Errorf("%w: %d frequencies but %d gains", ErrInvalidResponse, len(frequencies), len(gainsDB))
	}
	if len(frequencies) < 2 {
		return fmt.Errorf("%w: need at least 2 control points, got %d", ErrInvalidResponse, len(frequencies))
	}
	if frequencies[0] != 0 {
		return fmt.Errorf("%w: first control point must be at 0 Hz, got %v", ErrInvalidResponse, frequencies[0])
	}
	nyquist := float64(sampleRate) / 2
	if last := frequencies[len(frequencies)-1]; math.Abs(last-nyquist) > nyquistTolerance {
		return fmt.Errorf("%w: last control point must be at %v Hz, got %v", ErrInvalidResponse, nyquist, last)
	}
	for i := 1; i < len(frequencies); i++ {
		if !(frequencies[i] > frequencies[i-1]) {
			return fmt.Errorf("%w: frequencies not strictly ascending at index %d (%v <= %v)",
				ErrInvalidResponse, i, frequencies[i], frequencies[i-1])
		}
	}
	for i, g := range gainsDB {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return fmt.Errorf("%w: gain at index %d is not finite", ErrInvalidResponse, i)
		}
	}
	return nil
}

// designGridLength returns a power of two at least four times the tap count
func designGridLength(taps int) int {
	n := 1
	for n < 4*taps {
		n <<= 1
	}
	return n
}

// designTaps samples the gain curve on gridLen/2+1 uniform frequencies,
// builds the zero-phase impulse response with an inverse FFT, then centres and
// tapers it with a Hamming window.
func designTaps(curve *interp.PiecewiseLinear, sampleRate, numTaps, gridLen int) []float64 {
	half := gridLen / 2
	spectrum := make([]complex128, gridLen)
	binWidth := float64(sampleRate) / float64(gridLen)

	for k := 0; k <= half; k++ {
		amp := math.Pow(10, curve.Predict(float64(k)*binWidth)/20)
		spectrum[k] = complex(amp, 0)
		if k > 0 && k < half {
			spectrum[gridLen-k] = complex(amp, 0)
		}
	}

	impulse := spectral.NewFFT().ComputeInverseReal(spectrum)

	center := (numTaps - 1) / 2
	taps := make([]float64, numTaps)
	for i := range taps {
		idx := (i - center + gridLen) % gridLen
		taps[i] = impulse[idx]
	}

	if numTaps > 1 {
		taper := window.Hamming(numTaps)
		for i := range taps {
			taps[i] *= taper[i]
		}
	}

	return taps
}

// Apply filters one block of samples and returns a new slice of the same
// length. The output is aligned with the input (the FIR delay is removed),
// scaled by gain and clipped to the equalizer's full scale.
func (e *Equalizer) Apply(samples []float64, gain float64) []float64 {
	n := len(samples)
	out := make([]float64, n)
	if n == 0 {
		return out
	}

	size := n + len(e.taps) - 1
	x := make([]complex128, size)
	h := make([]complex128, size)
	for i, s := range samples {
		x[i] = complex(s, 0)
	}
	for i, c := range e.taps {
		h[i] = complex(c, 0)
	}

	// circular convolution over n+taps-1 points equals linear convolution
	y := fft.Convolve(x, h)

	for i := range out {
		v := real(y[i+e.delay]) * gain
		out[i] = math.Max(-e.fullScale, math.Min(e.fullScale, v))
	}

	return out
}

// Taps returns a copy of the filter coefficients
func (e *Equalizer) Taps() []float64 {
	taps := make([]float64, len(e.taps))
	copy(taps, e.taps)
	return taps
}

// FullScale returns the clipping bound applied by Apply
func (e *Equalizer) FullScale() float64 {
	return e.fullScale
}

// Response returns the magnitude response in dB at the given frequency,
// evaluated directly from the taps.
func (e *Equalizer) Response(freq float64) float64 {
	w := 2 * math.Pi * freq / float64(e.sampleRate)
	var re, im float64
	for n, c := range e.taps {
		re += c * math.Cos(w*float64(n))
		im -= c * math.Sin(w*float64(n))
	}
	return 20 * math.Log10(math.Hypot(re, im))
}
