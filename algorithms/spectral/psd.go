package spectral

import (
	"math"
)

// DefaultReference is the full-scale magnitude that maps to 0 dB. It is fixed
// at 2^16 regardless of the bit depth of the source file.
const DefaultReference = 1 << 16

// PSD is the log-magnitude spectrum of one window. Both axes are ascending and
// always have the same length, floor(L/2) for a window of L samples.
type PSD struct {
	Frequencies []float64 `json:"frequencies"` // Hz
	Magnitudes  []float64 `json:"magnitudes"`  // dB relative to Reference, -Inf for empty bins
}

// Len returns the number of bins
func (p PSD) Len() int {
	return len(p.Frequencies)
}

// PSDAnalyzer computes log-magnitude spectra of raw, unwindowed sample blocks
type PSDAnalyzer struct {
	fft        *FFT
	sampleRate int
	reference  float64
}

// NewPSDAnalyzer creates an analyzer for the given sample rate. A reference
// of zero or less selects DefaultReference.
func NewPSDAnalyzer(sampleRate int, reference float64) *PSDAnalyzer {
	if reference <= 0 {
		reference = DefaultReference
	}
	return &PSDAnalyzer{
		fft:        NewFFT(),
		sampleRate: sampleRate,
		reference:  reference,
	}
}

// Reference returns the 0 dB magnitude
func (a *PSDAnalyzer) Reference() float64 {
	return a.reference
}

// Compute returns the PSD of samples. Only the first floor(L/2) bins are kept,
// so the Nyquist bin is dropped for odd L. No window function is applied.
// Zero-magnitude bins come out as -Inf.
func (a *PSDAnalyzer) Compute(samples []float64) PSD {
	n := len(samples)
	bins := n / 2

	psd := PSD{
		Frequencies: make([]float64, bins),
		Magnitudes:  make([]float64, bins),
	}
	if bins == 0 {
		return psd
	}

	binWidth := float64(a.sampleRate) / float64(n)
	mag := a.fft.Magnitude(samples, bins)

	for k := range bins {
		psd.Frequencies[k] = float64(k) * binWidth
		psd.Magnitudes[k] = toDecibels(mag[k], a.reference)
	}

	return psd
}

// toDecibels maps a magnitude to dB. math.Log10(0) is -Inf, which is the
// intended result for an empty bin; anything that is not a finite
// non-negative magnitude is forced to -Inf so NaN never escapes.
func toDecibels(magnitude, reference float64) float64 {
	if !(magnitude > 0) || math.IsInf(magnitude, 0) {
		return math.Inf(-1)
	}
	return 20 * math.Log10(magnitude/reference)
}
