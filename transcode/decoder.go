package transcode

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-eqscope/logging"
)

// DecoderConfig holds decoder configuration
type DecoderConfig struct {
	FFmpegPath  string        `json:"ffmpeg_path"`  // Path to ffmpeg binary
	FFprobePath string        `json:"ffprobe_path"` // Path to ffprobe binary
	Timeout     time.Duration `json:"timeout"`      // Timeout for ffmpeg operations
}

// DefaultDecoderConfig returns default decoder configuration
func DefaultDecoderConfig() *DecoderConfig {
	return &DecoderConfig{
		FFmpegPath:  "ffmpeg",  // Assume in PATH
		FFprobePath: "ffprobe", // Assume in PATH
		Timeout:     2 * time.Minute,
	}
}

// Decoder loads audio files. PCM WAV files are read natively; anything else
// is handed to ffmpeg, which keeps channel 0 at the file's own sample rate as
// 16-bit PCM.
type Decoder struct {
	config *DecoderConfig
}

// NewDecoder creates a new audio decoder
func NewDecoder(config *DecoderConfig) *Decoder {
	if config == nil {
		config = DefaultDecoderConfig()
	}
	return &Decoder{config: config}
}

// DecodeFile decodes an audio file into a mono signal
func (d *Decoder) DecodeFile(ctx context.Context, filename string) (*AudioData, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "audio_decoder",
		"function":  "DecodeFile",
		"filename":  filename,
	})

	data, err := ReadWAV(filename)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrNotWAV) {
		return nil, err
	}

	logger.Debug("Input is not PCM WAV, falling back to ffmpeg")

	metadata, err := d.probeAudioFile(ctx, filename)
	if err != nil {
		logger.Error(err, "Failed to probe audio file")
		return nil, err
	}

	logger.Debug("Audio metadata detected", logging.Fields{
		"input_sample_rate": metadata.SampleRate,
		"input_channels":    metadata.Channels,
		"input_codec":       metadata.Codec,
		"input_duration":    metadata.Duration,
	})

	return d.decodeFileWithFFmpeg(ctx, filename, metadata)
}

func (d *Decoder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.config.Timeout > 0 {
		return context.WithTimeout(ctx, d.config.Timeout)
	}
	return context.WithCancel(ctx)
}

// probeAudioFile uses ffprobe to get audio information from a file
func (d *Decoder) probeAudioFile(ctx context.Context, filename string) (*AudioMetadata, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "a:0", // First audio stream only
		filename,
	}

	output, err := exec.CommandContext(ctx, d.config.FFprobePath, args...).Output()
	if err != nil {
		return nil, commandError("ffprobe", err)
	}

	return parseStreamProbe(output)
}

// decodeFileWithFFmpeg decodes channel 0 of the first audio stream to s16le
func (d *Decoder) decodeFileWithFFmpeg(ctx context.Context, filename string, metadata *AudioMetadata) (*AudioData, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "audio_decoder",
		"function":  "decodeFileWithFFmpeg",
		"filename":  filename,
	})

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	args := []string{
		"-v", "error",
		"-i", filename,
		"-map", "0:a:0",
		"-af", "pan=mono|c0=c0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(metadata.SampleRate),
		"pipe:1",
	}

	logger.Debug("Running ffmpeg command", logging.Fields{
		"args": strings.Join(args, " "),
	})

	output, err := exec.CommandContext(ctx, d.config.FFmpegPath, args...).Output()
	if err != nil {
		err = commandError("ffmpeg decode", err)
		logger.Error(err, "Ffmpeg decode failed")
		return nil, err
	}

	pcm := bytesToInt16(output)
	if len(pcm) == 0 {
		return nil, fmt.Errorf("no audio samples decoded from %s", filename)
	}

	return &AudioData{
		PCM:            pcm,
		SampleRate:     metadata.SampleRate,
		Channels:       1,
		SourceChannels: metadata.Channels,
		SourceBitDepth: 16,
		Duration:       durationOf(len(pcm), metadata.SampleRate),
		Path:           filename,
		Codec:          metadata.Codec,
	}, nil
}

// bytesToInt16 converts raw little-endian int16 bytes to samples
func bytesToInt16(data []byte) []float64 {
	count := len(data) / 2
	samples := make([]float64, count)
	for i := range count {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return samples
}

// commandError folds an exit error's stderr into the returned error
func commandError(what string, err error) error {
	var exitError *exec.ExitError
	if errors.As(err, &exitError) && len(exitError.Stderr) > 0 {
		return fmt.Errorf("%s failed: %w, stderr: %s", what, err, strings.TrimSpace(string(exitError.Stderr)))
	}
	return fmt.Errorf("%s failed: %w", what, err)
}
