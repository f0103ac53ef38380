// Package reattach prepares the audio track muxed under the rendered video.
package reattach

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/RyanBlaney/sonido-eqscope/logging"
	"github.com/RyanBlaney/sonido-eqscope/timing"
	"github.com/RyanBlaney/sonido-eqscope/transcode"
)

// TransientName is the fixed file name of the reconstructed output waveform
const TransientName = "tmp.wav"

// Config controls where and how the transient file is written
type Config struct {
	Dir      string `json:"dir"`       // directory for the transient file; "" is the working directory
	BitDepth int    `json:"bit_depth"` // PCM bit depth of the transient file
}

// DefaultConfig writes a 16-bit tmp.wav into the working directory
func DefaultConfig() Config {
	return Config{BitDepth: 16}
}

// Source provides the equalized signal, already concatenated in frame order
type Source interface {
	OutputSamples() []float64
}

// Track is an audio file to mux plus the release of whatever was created for it
type Track struct {
	Path      string
	Direction timing.Direction
	transient bool
	once      sync.Once
	err       error
}

// Prepare returns the track for the plan's audio direction, or nil when the
// video is silent. For AudioIn the original file is used as is. For AudioOut
// every output window is concatenated (edges between windows are not
// smoothed) and written at the input sample rate to a transient file, which
// the caller must Release whatever happens next.
func Prepare(plan *timing.Plan, inputPath string, src Source, cfg Config) (*Track, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "audio_reattachment",
		"function":  "Prepare",
	})

	switch plan.Audio {
	case timing.AudioNone:
		return nil, nil

	case timing.AudioIn:
		logger.Debug("Attaching original input", logging.Fields{"path": inputPath})
		return &Track{Path: inputPath, Direction: timing.AudioIn}, nil

	case timing.AudioOut:
		if cfg.BitDepth == 0 {
			cfg.BitDepth = 16
		}
		path := filepath.Join(cfg.Dir, TransientName)
		samples := src.OutputSamples()

		track := &Track{Path: path, Direction: timing.AudioOut, transient: true}
		if err := transcode.WriteWAV(path, samples, plan.SampleRate, cfg.BitDepth); err != nil {
			// a half-written file is still ours to clean up
			_ = track.Release()
			logger.Error(err, "Failed to write transient audio")
			return nil, fmt.Errorf("write transient audio: %w", err)
		}

		logger.Debug("Transient audio written", logging.Fields{
			"path":        path,
			"samples":     len(samples),
			"sample_rate": plan.SampleRate,
		})
		return track, nil

	default:
		return nil, fmt.Errorf("unknown audio direction %v", plan.Audio)
	}
}

// Release deletes the transient file, if any. It is safe to call more than
// once and on a nil Track.
func (t *Track) Release() error {
	if t == nil || !t.transient {
		return nil
	}

	t.once.Do(func() {
		if err := os.Remove(t.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			t.err = fmt.Errorf("remove transient audio %s: %w", t.Path, err)
			logging.Error(t.err, "Failed to remove transient audio")
			return
		}
		logging.Debug("Transient audio removed", logging.Fields{"path": t.Path})
	})
	return t.err
}
