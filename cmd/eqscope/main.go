// Command eqscope renders a video comparing an audio clip with its
// equalized version: waveforms on the left, spectra on the right.
//
// Usage:
//
//	eqscope -p profile.json -i input.wav -o output.mp4 [flags]
//
// The profile is a JSON object mapping integer frequencies in Hz to gains in
// dB, for example {"100": 3, "1000": 0, "8000": -6}.
//
// Without -a the video runs at -f frames per second and every frame shows a
// window of -b samples. With -a the frame rate is fixed at 30 and windows
// tile the clip exactly, so the original (-a in) or equalized (-a out)
// audio can be muxed under the video. -a cannot be combined with -f or -b.
//
// Examples:
//
//	eqscope -p flat.json -i voice.wav -o voice.mp4
//	eqscope -p flat.json -i voice.wav -o voice.mp4 -f 25 -b 2048
//	eqscope --profile tilt.json --input song.flac --output song.mp4 --audio out
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/RyanBlaney/sonido-eqscope/logging"
	"github.com/RyanBlaney/sonido-eqscope/pipeline"
	"github.com/RyanBlaney/sonido-eqscope/timing"
	"github.com/RyanBlaney/sonido-eqscope/transcode"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type options struct {
	profile    string
	input      string
	output     string
	frequency  int
	buffer     int
	audio      string
	ffmpeg     string
	ffprobe    string
	logLevel   string
	logJSON    bool
	noColor    bool
	noProgress bool
	workers    int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	opts, cfg, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		return exitUsage
	}

	if err := setupLogging(opts); err != nil {
		fmt.Fprintf(stderr, "eqscope: %v\n", err)
		return exitUsage
	}

	if err := transcode.CheckFFmpeg(cfg.Encoder.FFmpegPath); err != nil {
		logging.Error(err, "eqscope needs ffmpeg to encode video")
		return exitError
	}

	var bar *progressBar
	if !opts.noProgress {
		bar = newProgressBar(ctx, stderr)
		cfg.Progress = bar.update
	}

	result, err := pipeline.Run(ctx, cfg)
	if bar != nil {
		bar.finish(err == nil)
	}
	if err != nil {
		logging.Error(err, "eqscope failed")
		return exitError
	}

	logging.Info("Done", logging.Fields{
		"output": result.Output,
		"frames": result.Frames,
	})
	return exitOK
}

// parseArgs reports usage problems to stderr. The returned error is
// flag.ErrHelp for -h.
func parseArgs(args []string, stderr io.Writer) (*options, pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	opts := &options{
		frequency: timing.DefaultFrequency,
		buffer:    timing.DefaultBufferSize,
		ffmpeg:    cfg.Encoder.FFmpegPath,
		ffprobe:   cfg.Decoder.FFprobePath,
		logLevel:  "info",
	}

	fs := flag.NewFlagSet("eqscope", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.profile, "p", "", "equalizer profile JSON (required)")
	fs.StringVar(&opts.profile, "profile", "", "same as -p")
	fs.StringVar(&opts.input, "i", "", "input audio file (required)")
	fs.StringVar(&opts.input, "input", "", "same as -i")
	fs.StringVar(&opts.output, "o", "", "output video file (required)")
	fs.StringVar(&opts.output, "output", "", "same as -o")
	fs.IntVar(&opts.frequency, "f", timing.DefaultFrequency, "frames per second")
	fs.IntVar(&opts.frequency, "frequency", timing.DefaultFrequency, "same as -f")
	fs.IntVar(&opts.buffer, "b", timing.DefaultBufferSize, "samples shown per frame")
	fs.IntVar(&opts.buffer, "buffer", timing.DefaultBufferSize, "same as -b")
	fs.StringVar(&opts.audio, "a", "", "attach audio: in (original) or out (equalized)")
	fs.StringVar(&opts.audio, "audio", "", "same as -a")
	fs.StringVar(&opts.ffmpeg, "ffmpeg", opts.ffmpeg, "path to ffmpeg")
	fs.StringVar(&opts.ffprobe, "ffprobe", opts.ffprobe, "path to ffprobe")
	fs.StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level: debug|info|warn|error")
	fs.BoolVar(&opts.logJSON, "log-json", false, "write JSON logs to stderr")
	fs.BoolVar(&opts.noColor, "no-color", false, "disable colored console logs")
	fs.BoolVar(&opts.noProgress, "no-progress", false, "disable the progress bar")
	fs.IntVar(&opts.workers, "workers", 0, "frame analysis goroutines (0 = auto)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: eqscope -p profile.json -i input -o output.mp4 [flags]\n\n")
		fmt.Fprintf(stderr, "Renders input and equalized waveforms and spectra side by side.\n")
		fmt.Fprintf(stderr, "-a cannot be combined with -f or -b.\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, cfg, err
	}

	usageErr := func(format string, a ...any) (*options, pipeline.Config, error) {
		err := fmt.Errorf(format, a...)
		fmt.Fprintf(stderr, "eqscope: %v\n\n", err)
		fs.Usage()
		return nil, cfg, err
	}

	if fs.NArg() > 0 {
		return usageErr("unexpected arguments: %v", fs.Args())
	}
	if opts.profile == "" || opts.input == "" || opts.output == "" {
		return usageErr("-p, -i and -o are required")
	}

	req := timing.Request{Audio: opts.audio}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "f", "frequency":
			req.Frequency = &opts.frequency
		case "b", "buffer":
			req.BufferSize = &opts.buffer
		}
	})

	mode, err := timing.ModeFromRequest(req)
	if err != nil {
		return usageErr("%v", err)
	}

	cfg.ProfilePath = opts.profile
	cfg.InputPath = opts.input
	cfg.OutputPath = opts.output
	cfg.Mode = mode
	cfg.Workers = opts.workers
	cfg.Encoder.FFmpegPath = opts.ffmpeg
	cfg.Decoder.FFmpegPath = opts.ffmpeg
	cfg.Decoder.FFprobePath = opts.ffprobe

	return opts, cfg, nil
}

func setupLogging(opts *options) error {
	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}

	if opts.logJSON {
		zl, err := logging.NewZapLogger(level)
		if err != nil {
			return fmt.Errorf("json logger: %w", err)
		}
		logging.SetGlobalLogger(zl)
		return nil
	}

	logging.SetLevel(level)
	if opts.noColor {
		logging.DisableColors()
	}
	return nil
}

// progressBar adds its bar on the first update, once the frame count is
// known
type progressBar struct {
	p   *mpb.Progress
	bar *mpb.Bar
}

func newProgressBar(ctx context.Context, w io.Writer) *progressBar {
	return &progressBar{p: mpb.NewWithContext(ctx, mpb.WithOutput(w), mpb.WithWidth(64))}
}

func (b *progressBar) update(done, total int) {
	if b.bar == nil {
		b.bar = b.p.AddBar(int64(total),
			mpb.PrependDecorators(
				decor.Name("Rendering: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.AverageETA(decor.ET_STYLE_GO),
			),
		)
	}
	b.bar.SetCurrent(int64(done))
}

// finish aborts an incomplete bar so Wait cannot block after a failed run
func (b *progressBar) finish(ok bool) {
	if b.bar != nil && !ok {
		b.bar.Abort(false)
	}
	b.p.Wait()
}
