// Package timing reconciles the requested frame rate, analysis window length
// and audio reattachment mode into one timing plan, and slices a signal into
// the frame-indexed windows that plan implies.
package timing

import (
	"errors"
	"fmt"
)

const (
	// DefaultFrequency is the rendering frame rate when none is requested
	DefaultFrequency = 10
	// DefaultBufferSize is the analysis window length when none is requested
	DefaultBufferSize = 512
	// AudioSyncedFrequency is the frame rate forced when audio is reattached
	AudioSyncedFrequency = 30
)

// ErrConfig is returned for conflicting or unresolvable timing requests
var ErrConfig = errors.New("timing configuration error")

// Direction selects which signal is muxed back into the video
type Direction int

const (
	// AudioNone renders a silent video
	AudioNone Direction = iota
	// AudioIn attaches the original input
	AudioIn
	// AudioOut attaches the equalized output
	AudioOut
)

func (d Direction) String() string {
	switch d {
	case AudioNone:
		return "none"
	case AudioIn:
		return "in"
	case AudioOut:
		return "out"
	default:
		return "unknown"
	}
}

// ParseDirection maps "in" and "out" to a Direction
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "in":
		return AudioIn, nil
	case "out":
		return AudioOut, nil
	default:
		return AudioNone, fmt.Errorf("%w: audio must be one of `in` or `out`, got %q", ErrConfig, s)
	}
}

// Mode is either Manual or AudioSynced. The two are exclusive by
// construction: an AudioSynced mode has no frame rate or buffer to set.
type Mode interface {
	isMode()
}

// Manual renders at a chosen frame rate with a chosen window length. The two
// are independent, so a window may span more or less time than one frame.
type Manual struct {
	Frequency  int `json:"frequency"`
	BufferSize int `json:"buffer_size"`
}

// AudioSynced renders at AudioSyncedFrequency with one window per video frame
// so reattached audio stays aligned.
type AudioSynced struct {
	Direction Direction `json:"direction"`
}

func (Manual) isMode()      {}
func (AudioSynced) isMode() {}

// DefaultMode returns Manual with the default frame rate and window length
func DefaultMode() Mode {
	return Manual{Frequency: DefaultFrequency, BufferSize: DefaultBufferSize}
}

// Request carries raw, possibly unset, user choices. A nil pointer means the
// caller did not ask for a value.
type Request struct {
	Frequency  *int
	BufferSize *int
	Audio      string
}

// ModeFromRequest validates a request and builds its Mode. Asking for audio
// together with an explicit frame rate or buffer size is an error.
func ModeFromRequest(req Request) (Mode, error) {
	if req.Audio != "" {
		if req.Frequency != nil || req.BufferSize != nil {
			return nil, fmt.Errorf("%w: when audio is set neither buffer size nor frequency can be passed", ErrConfig)
		}
		dir, err := ParseDirection(req.Audio)
		if err != nil {
			return nil, err
		}
		return AudioSynced{Direction: dir}, nil
	}

	m := Manual{Frequency: DefaultFrequency, BufferSize: DefaultBufferSize}
	if req.Frequency != nil {
		m.Frequency = *req.Frequency
	}
	if req.BufferSize != nil {
		m.BufferSize = *req.BufferSize
	}
	return m, nil
}
