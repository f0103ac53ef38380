package transcode

import (
	"time"
)

// AudioData represents a decoded, single-channel signal. PCM keeps the
// integer scale of the source (a 16-bit file yields values in
// [-32768, 32767]) so spectra share one full-scale reference.
type AudioData struct {
	PCM            []float64     `json:"-"`
	SampleRate     int           `json:"sample_rate"`
	Channels       int           `json:"channels"`        // always 1 after downmix
	SourceChannels int           `json:"source_channels"` // channel count of the file
	SourceBitDepth int           `json:"source_bit_depth"`
	Duration       time.Duration `json:"duration"`
	Path           string        `json:"path"`
	Codec          string        `json:"codec"`
}

// NumSamples returns the number of samples in the signal
func (a *AudioData) NumSamples() int {
	return len(a.PCM)
}

// Seconds returns the exact duration in seconds
func (a *AudioData) Seconds() float64 {
	if a.SampleRate == 0 {
		return 0
	}
	return float64(len(a.PCM)) / float64(a.SampleRate)
}

func durationOf(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// firstChannel extracts channel 0 from interleaved integer samples
func firstChannel(data []int, channels int) []float64 {
	if channels < 1 {
		channels = 1
	}
	out := make([]float64, len(data)/channels)
	for i := range out {
		out[i] = float64(data[i*channels])
	}
	return out
}
