package spectral

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// FFT provides Fast Fourier Transform functionality
type FFT struct{}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// Compute computes the Fast Fourier Transform of a real signal using mjibson/go-dsp.
// go-dsp handles all sizes, including non-power-of-2, which matters for the
// truncated tail window.
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}

	return fft.FFTReal(x)
}

// ComputeInverseReal computes inverse FFT and returns real part only
func (f *FFT) ComputeInverseReal(x []complex128) []float64 {
	if len(x) == 0 {
		return []float64{}
	}

	result := fft.IFFT(x)
	realResult := make([]float64, len(result))

	for i, val := range result {
		realResult[i] = real(val)
	}

	return realResult
}

// Magnitude returns |X_k| for the first n bins of the transform of x
func (f *FFT) Magnitude(x []float64, n int) []float64 {
	spectrum := f.Compute(x)
	n = min(n, len(spectrum))

	mag := make([]float64, n)
	for i := range n {
		mag[i] = cmplx.Abs(spectrum[i])
	}

	return mag
}
