package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/RyanBlaney/sonido-eqscope/logging"
)

// EncoderConfig holds video encoder configuration
type EncoderConfig struct {
	FFmpegPath  string `json:"ffmpeg_path"`
	VideoCodec  string `json:"video_codec"`
	Preset      string `json:"preset"`
	PixelFormat string `json:"pixel_format"` // output pixel format
	AudioCodec  string `json:"audio_codec"`
}

// DefaultEncoderConfig returns an H.264/AAC configuration
func DefaultEncoderConfig() *EncoderConfig {
	return &EncoderConfig{
		FFmpegPath:  "ffmpeg",
		VideoCodec:  "libx264",
		Preset:      "veryfast",
		PixelFormat: "yuv420p", // widest player support
		AudioCodec:  "aac",
	}
}

// VideoSpec describes the stream being encoded
type VideoSpec struct {
	Width     int
	Height    int
	FPS       int
	Output    string
	AudioPath string // optional track muxed under the video
}

// syncBuffer collects ffmpeg stderr while the process is still writing to it
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// VideoEncoder pipes raw RGBA frames into an ffmpeg process
type VideoEncoder struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stderr    *syncBuffer
	spec      VideoSpec
	frameSize int
	frames    int
	done      bool
	logger    logging.Logger
}

// NewVideoEncoder starts ffmpeg for the given spec. The caller must finish
// with either Close or Abort.
func NewVideoEncoder(ctx context.Context, config *EncoderConfig, spec VideoSpec) (*VideoEncoder, error) {
	if config == nil {
		config = DefaultEncoderConfig()
	}

	logger := logging.WithFields(logging.Fields{
		"component": "video_encoder",
		"output":    spec.Output,
	})

	if spec.Width <= 0 || spec.Height <= 0 || spec.Width%2 != 0 || spec.Height%2 != 0 {
		return nil, fmt.Errorf("video size must be positive and even, got %dx%d", spec.Width, spec.Height)
	}
	if spec.FPS <= 0 {
		return nil, fmt.Errorf("fps must be positive: %d", spec.FPS)
	}
	if spec.Output == "" {
		return nil, fmt.Errorf("output path is required")
	}

	args := buildEncoderArgs(config, spec)
	cmd := exec.CommandContext(ctx, config.FFmpegPath, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	logger.Debug("Starting ffmpeg encoder", logging.Fields{
		"command": config.FFmpegPath + " " + strings.Join(args, " "),
	})

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	return &VideoEncoder{
		cmd:       cmd,
		stdin:     stdin,
		stderr:    stderr,
		spec:      spec,
		frameSize: spec.Width * spec.Height * 4,
		logger:    logger,
	}, nil
}

func buildEncoderArgs(config *EncoderConfig, spec VideoSpec) []string {
	args := []string{
		"-y",
		"-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		"-r", strconv.Itoa(spec.FPS),
		"-i", "pipe:0",
	}

	if spec.AudioPath != "" {
		args = append(args,
			"-i", spec.AudioPath,
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-c:a", config.AudioCodec,
			"-shortest",
		)
	}

	args = append(args, "-c:v", config.VideoCodec)
	if config.Preset != "" {
		args = append(args, "-preset", config.Preset)
	}
	if config.PixelFormat != "" {
		args = append(args, "-pix_fmt", config.PixelFormat)
	}

	return append(args, spec.Output)
}

// WriteFrame sends one frame. The image must match the spec's size.
func (e *VideoEncoder) WriteFrame(img *image.RGBA) error {
	if e.done {
		return fmt.Errorf("encoder already finished")
	}

	b := img.Bounds()
	if b.Dx() != e.spec.Width || b.Dy() != e.spec.Height {
		return fmt.Errorf("frame is %dx%d, encoder expects %dx%d", b.Dx(), b.Dy(), e.spec.Width, e.spec.Height)
	}

	pix := img.Pix
	if img.Stride != e.spec.Width*4 || len(pix) != e.frameSize {
		pix = packRGBA(img)
	}

	if _, err := e.stdin.Write(pix); err != nil {
		return fmt.Errorf("write frame %d: %w%s", e.frames, err, e.stderrSuffix())
	}
	e.frames++
	return nil
}

// packRGBA copies a sub-image into a tightly packed pixel buffer
func packRGBA(img *image.RGBA) []byte {
	b := img.Bounds()
	rowLen := b.Dx() * 4
	out := make([]byte, 0, rowLen*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		start := img.PixOffset(b.Min.X, y)
		out = append(out, img.Pix[start:start+rowLen]...)
	}
	return out
}

// Frames returns the number of frames written so far
func (e *VideoEncoder) Frames() int {
	return e.frames
}

// Close finishes the stream and waits for ffmpeg. A failed encode removes the
// output file.
func (e *VideoEncoder) Close() error {
	if e.done {
		return nil
	}
	e.done = true

	closeErr := e.stdin.Close()
	waitErr := e.cmd.Wait()

	if err := errors.Join(closeErr, waitErr); err != nil {
		e.removeOutput()
		err = fmt.Errorf("ffmpeg encode failed: %w%s", err, e.stderrSuffix())
		e.logger.Error(err, "Encoding failed")
		return err
	}

	e.logger.Debug("Encoding finished", logging.Fields{
		"frames": e.frames,
	})
	return nil
}

// Abort kills ffmpeg and removes any partial output
func (e *VideoEncoder) Abort() {
	if e.done {
		return
	}
	e.done = true

	_ = e.stdin.Close()
	if e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
	_ = e.cmd.Wait()
	e.removeOutput()

	e.logger.Warn("Encoding aborted", logging.Fields{
		"frames": e.frames,
	})
}

func (e *VideoEncoder) removeOutput() {
	if err := os.Remove(e.spec.Output); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.logger.Error(err, "Failed to remove partial output")
	}
}

func (e *VideoEncoder) stderrSuffix() string {
	msg := strings.TrimSpace(e.stderr.String())
	if msg == "" {
		return ""
	}
	return ", stderr: " + msg
}

// CheckFFmpeg verifies that the ffmpeg binary can be executed
func CheckFFmpeg(ffmpegPath string) error {
	if err := exec.Command(ffmpegPath, "-version").Run(); err != nil {
		return fmt.Errorf("ffmpeg not found at %s: %w", ffmpegPath, err)
	}
	return nil
}
