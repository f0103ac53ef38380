// Package pipeline runs a whole visualization: load the profile and the
// audio, precompute every frame, then render and encode them in order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RyanBlaney/sonido-eqscope/algorithms/filters"
	"github.com/RyanBlaney/sonido-eqscope/algorithms/spectral"
	"github.com/RyanBlaney/sonido-eqscope/frames"
	"github.com/RyanBlaney/sonido-eqscope/logging"
	"github.com/RyanBlaney/sonido-eqscope/profile"
	"github.com/RyanBlaney/sonido-eqscope/reattach"
	"github.com/RyanBlaney/sonido-eqscope/render"
	"github.com/RyanBlaney/sonido-eqscope/timing"
	"github.com/RyanBlaney/sonido-eqscope/transcode"
)

// DefaultFullScale bounds the equalized signal
const DefaultFullScale = 1<<16 - 1

// ProgressFunc is called after each encoded frame
type ProgressFunc func(done, total int)

// Config holds everything a run needs
type Config struct {
	ProfilePath string      `json:"profile_path"`
	InputPath   string      `json:"input_path"`
	OutputPath  string      `json:"output_path"`
	Mode        timing.Mode `json:"-"`

	Reference float64 `json:"reference"`  // dB reference magnitude of the spectra
	FullScale float64 `json:"full_scale"` // clip level of the equalized signal
	Gain      float64 `json:"gain"`       // linear gain applied after filtering, 0 = unity
	Taps      int     `json:"taps"`       // equalizer FIR length
	Workers   int     `json:"workers"`    // frame assembly goroutines, 0 = auto

	Decoder  *transcode.DecoderConfig `json:"decoder"`
	Encoder  *transcode.EncoderConfig `json:"encoder"`
	Render   render.Config            `json:"render"`
	Reattach reattach.Config          `json:"reattach"`

	Progress ProgressFunc `json:"-"`
}

// DefaultConfig returns the manual 10 fps / 512 sample configuration with
// the spectrum referenced to 2^16
func DefaultConfig() Config {
	return Config{
		Mode:      timing.DefaultMode(),
		Reference: spectral.DefaultReference,
		FullScale: DefaultFullScale,
		Gain:      1,
		Taps:      filters.DefaultTaps,
		Decoder:   transcode.DefaultDecoderConfig(),
		Encoder:   transcode.DefaultEncoderConfig(),
		Render:    render.DefaultConfig(),
		Reattach:  reattach.DefaultConfig(),
	}
}

// Validate checks the paths and mode before any work starts
func (c *Config) Validate() error {
	if c.ProfilePath == "" {
		return fmt.Errorf("%w: profile path is required", timing.ErrConfig)
	}
	if c.InputPath == "" {
		return fmt.Errorf("%w: input path is required", timing.ErrConfig)
	}
	if c.OutputPath == "" {
		return fmt.Errorf("%w: output path is required", timing.ErrConfig)
	}
	if c.Mode == nil {
		return fmt.Errorf("%w: mode is required", timing.ErrConfig)
	}
	return nil
}

// fillDefaults replaces zero values left by callers that did not start from
// DefaultConfig
func (c *Config) fillDefaults() {
	if c.Decoder == nil {
		c.Decoder = transcode.DefaultDecoderConfig()
	}
	if c.Encoder == nil {
		c.Encoder = transcode.DefaultEncoderConfig()
	}
	if c.Reference <= 0 {
		c.Reference = spectral.DefaultReference
	}
	if c.FullScale <= 0 {
		c.FullScale = DefaultFullScale
	}
	if c.Taps <= 0 {
		c.Taps = filters.DefaultTaps
	}
	if c.Gain == 0 {
		c.Gain = 1
	}
}

// Result summarises a finished run
type Result struct {
	Plan    *timing.Plan
	Frames  int
	Output  string
	Elapsed time.Duration
}

// Run produces cfg.OutputPath. On any error after encoding has started the
// partial output is removed, and a transient audio file is always removed.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	start := time.Now()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.fillDefaults()

	ctx = logging.ContextWithFields(ctx, logging.Fields{
		"input":  cfg.InputPath,
		"output": cfg.OutputPath,
	})
	logger := logging.WithContext(ctx).WithFields(logging.Fields{
		"component": "pipeline",
		"function":  "Run",
	})

	prof, err := profile.LoadFile(cfg.ProfilePath)
	if err != nil {
		logger.Error(err, "Failed to load equalizer profile")
		return nil, err
	}

	audio, err := transcode.NewDecoder(cfg.Decoder).DecodeFile(ctx, cfg.InputPath)
	if err != nil {
		logger.Error(err, "Failed to decode input audio")
		return nil, err
	}

	logger.Debug("Input decoded", logging.Fields{
		"seconds":         audio.Seconds(),
		"source_channels": audio.SourceChannels,
		"codec":           audio.Codec,
	})

	plan, err := timing.Resolve(cfg.Mode, audio.SampleRate, audio.NumSamples())
	if err != nil {
		logger.Error(err, "Failed to resolve timing")
		return nil, err
	}

	logger.Info("Timing resolved", logging.Fields{
		"sample_rate": plan.SampleRate,
		"samples":     plan.NSamples,
		"frequency":   plan.Frequency,
		"buffer_size": plan.BufferSize,
		"frames":      plan.NFrames,
		"audio":       plan.Audio.String(),
	})

	windows, err := timing.Segment(plan, audio.PCM)
	if err != nil {
		return nil, err
	}

	freqs, gains := profile.Split(prof.Augment(plan.SampleRate))
	eq, err := filters.BuildEqualizer(freqs, gains, plan.SampleRate, cfg.FullScale, filters.WithTaps(cfg.Taps))
	if err != nil {
		logger.Error(err, "Failed to build equalizer")
		return nil, err
	}

	analyzer := spectral.NewPSDAnalyzer(plan.SampleRate, cfg.Reference)

	logger.Debug("Equalizer ready", logging.Fields{
		"control_points": len(freqs),
		"taps":           len(eq.Taps()),
		"full_scale":     eq.FullScale(),
		"reference":      analyzer.Reference(),
		"gain":           cfg.Gain,
	})
	fr, err := frames.Assemble(ctx, plan, windows, eq, analyzer,
		frames.WithWorkers(cfg.Workers),
		frames.WithGain(cfg.Gain),
	)
	if err != nil {
		return nil, fmt.Errorf("assemble frames: %w", err)
	}

	track, err := reattach.Prepare(plan, cfg.InputPath, fr, cfg.Reattach)
	if err != nil {
		return nil, err
	}
	defer track.Release()

	written, err := encode(ctx, cfg, fr, track)
	if err != nil {
		logger.Error(err, "Failed to write video")
		return nil, err
	}

	result := &Result{
		Plan:    plan,
		Frames:  written,
		Output:  cfg.OutputPath,
		Elapsed: time.Since(start),
	}

	logger.Info("Video written", logging.Fields{
		"frames":         written,
		"video_duration": plan.VideoDuration(),
		"elapsed":        result.Elapsed.String(),
	})

	return result, nil
}

// encode renders every frame in index order into ffmpeg
func encode(ctx context.Context, cfg Config, fr *frames.Frames, track *reattach.Track) (n int, err error) {
	renderer, err := render.NewRenderer(cfg.Render)
	if err != nil {
		return 0, err
	}
	defer renderer.Close()

	width, height := renderer.Size()
	spec := transcode.VideoSpec{
		Width:  width,
		Height: height,
		FPS:    fr.Plan().Frequency,
		Output: cfg.OutputPath,
	}
	if track != nil {
		spec.AudioPath = track.Path
	}

	enc, err := transcode.NewVideoEncoder(ctx, cfg.Encoder, spec)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			enc.Abort()
		}
	}()

	total := fr.Len()
	for i := range total {
		if err := ctx.Err(); err != nil {
			return enc.Frames(), err
		}

		bundle, err := fr.Render(i)
		if err != nil {
			return enc.Frames(), err
		}
		img, err := renderer.Render(bundle)
		if err != nil {
			return enc.Frames(), err
		}
		if err := enc.WriteFrame(img); err != nil {
			return enc.Frames(), err
		}

		if cfg.Progress != nil {
			cfg.Progress(i+1, total)
		}
	}

	if err := enc.Close(); err != nil {
		return enc.Frames(), err
	}
	return enc.Frames(), nil
}

// IsConfigError reports whether err came from argument or timing validation
func IsConfigError(err error) bool {
	return errors.Is(err, timing.ErrConfig)
}
