package timing

import (
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-eqscope/logging"
)

// Plan is the resolved timing of a run
type Plan struct {
	SampleRate    int       `json:"sample_rate"`
	NSamples      int       `json:"n_samples"`
	Frequency     int       `json:"frequency"`   // frames per second
	BufferSize    int       `json:"buffer_size"` // samples per window
	NFrames       int       `json:"n_frames"`
	TotalDuration float64   `json:"total_duration"` // seconds
	FrameDuration float64   `json:"frame_duration"` // seconds
	Audio         Direction `json:"audio"`
}

// Resolve turns a mode into a plan for a signal of nSamples at sampleRate.
// The frame count is round(nSamples*frequency/sampleRate). In AudioSynced mode
// the buffer size is then floor(nSamples/nFrames), so each window covers one
// video frame. Values that resolve below 1 are errors, never clamped.
func Resolve(mode Mode, sampleRate, nSamples int) (*Plan, error) {
	logger := logging.WithFields(logging.Fields{
		"component":   "timing",
		"function":    "Resolve",
		"sample_rate": sampleRate,
		"n_samples":   nSamples,
	})

	if sampleRate < 1 {
		return nil, fmt.Errorf("%w: sample rate must be positive: %d", ErrConfig, sampleRate)
	}
	if nSamples < 1 {
		return nil, fmt.Errorf("%w: signal has no samples", ErrConfig)
	}

	plan := &Plan{
		SampleRate: sampleRate,
		NSamples:   nSamples,
	}

	switch m := mode.(type) {
	case Manual:
		if m.Frequency < 1 {
			return nil, fmt.Errorf("%w: frequency must be positive: %d", ErrConfig, m.Frequency)
		}
		plan.Frequency = m.Frequency
		plan.BufferSize = m.BufferSize
		plan.NFrames = frameCount(nSamples, plan.Frequency, sampleRate)
		plan.Audio = AudioNone

	case AudioSynced:
		if m.Direction != AudioIn && m.Direction != AudioOut {
			return nil, fmt.Errorf("%w: unknown audio direction %v", ErrConfig, m.Direction)
		}
		plan.Frequency = AudioSyncedFrequency
		plan.NFrames = frameCount(nSamples, plan.Frequency, sampleRate)
		if plan.NFrames >= 1 {
			plan.BufferSize = nSamples / plan.NFrames
		}
		plan.Audio = m.Direction

	default:
		return nil, fmt.Errorf("%w: unsupported mode %T", ErrConfig, mode)
	}

	if plan.NFrames < 1 {
		err := fmt.Errorf("%w: %d samples at %d Hz give %d frames at %d fps",
			ErrConfig, nSamples, sampleRate, plan.NFrames, plan.Frequency)
		logger.Error(err, "Frame count resolved below 1")
		return nil, err
	}
	if plan.BufferSize < 1 {
		err := fmt.Errorf("%w: buffer size resolved to %d", ErrConfig, plan.BufferSize)
		logger.Error(err, "Buffer size resolved below 1")
		return nil, err
	}

	plan.TotalDuration = float64(nSamples) / float64(sampleRate)
	plan.FrameDuration = plan.TotalDuration / float64(plan.NFrames)

	logger.Debug("Timing plan resolved", logging.Fields{
		"frequency":      plan.Frequency,
		"buffer_size":    plan.BufferSize,
		"n_frames":       plan.NFrames,
		"total_duration": plan.TotalDuration,
		"frame_duration": plan.FrameDuration,
		"audio":          plan.Audio.String(),
	})

	return plan, nil
}

func frameCount(nSamples, frequency, sampleRate int) int {
	return int(math.Round(float64(nSamples) * float64(frequency) / float64(sampleRate)))
}

// VideoDuration is the playback length of NFrames at Frequency
func (p *Plan) VideoDuration() float64 {
	return float64(p.NFrames) / float64(p.Frequency)
}
