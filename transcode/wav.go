package transcode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/riff"
	"github.com/go-audio/wav"

	"github.com/RyanBlaney/sonido-eqscope/logging"
)

// ErrNotWAV is returned by ReadWAV when the file is not an integer PCM WAV
var ErrNotWAV = errors.New("not a valid WAV file")

const (
	wavFormatPCM        = 0x0001
	wavFormatExtensible = 0xFFFE
)

// ReadWAV decodes an integer PCM WAV file. Multi-channel files are reduced to
// channel 0. Float and compressed WAVs are rejected with ErrNotWAV so they
// can be decoded by ffmpeg instead.
func ReadWAV(path string) (*AudioData, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "wav_reader",
		"function":  "ReadWAV",
		"path":      path,
	})

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	format, err := sampleFormat(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", path, err, ErrNotWAV)
	}
	if format != wavFormatPCM {
		logger.Debug("WAV is not integer PCM", logging.Fields{"format_tag": format})
		return nil, fmt.Errorf("%s: format tag %#04x: %w", path, format, ErrNotWAV)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind %s: %w", path, err)
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%s: %w", path, ErrNotWAV)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		logger.Error(err, "Failed to read PCM buffer")
		return nil, fmt.Errorf("read PCM from %s: %w", path, err)
	}

	channels := buf.Format.NumChannels
	sampleRate := buf.Format.SampleRate
	pcm := firstChannel(buf.Data, channels)

	if channels > 1 {
		logger.Debug("Reduced multi-channel input to channel 0", logging.Fields{
			"channels": channels,
		})
	}

	logger.Debug("WAV decoded", logging.Fields{
		"sample_rate": sampleRate,
		"channels":    channels,
		"bit_depth":   int(decoder.BitDepth),
		"samples":     len(pcm),
	})

	return &AudioData{
		PCM:            pcm,
		SampleRate:     sampleRate,
		Channels:       1,
		SourceChannels: channels,
		SourceBitDepth: int(decoder.BitDepth),
		Duration:       durationOf(len(pcm), sampleRate),
		Path:           path,
		Codec:          "pcm",
	}, nil
}

// sampleFormat reads the format tag of a RIFF/WAVE stream. For
// WAVE_FORMAT_EXTENSIBLE the tag of the sub-format GUID is returned.
func sampleFormat(r io.Reader) (uint16, error) {
	p := riff.New(r)
	if err := p.ParseHeaders(); err != nil {
		return 0, err
	}
	if p.Format != riff.WavFormatID {
		return 0, riff.ErrFmtNotSupported
	}

	for {
		ch, err := p.NextChunk()
		if err != nil {
			return 0, fmt.Errorf("fmt chunk: %w", err)
		}
		if ch.ID != riff.FmtID {
			if _, err := io.CopyN(io.Discard, r, int64(ch.Size)); err != nil {
				return 0, err
			}
			continue
		}

		buf := make([]byte, ch.Size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, err
		}
		if len(buf) < 16 {
			return 0, riff.ErrUnexpectedData
		}

		tag := binary.LittleEndian.Uint16(buf)
		if tag == wavFormatExtensible {
			// cbSize, valid bits and channel mask precede the GUID
			if len(buf) < 26 {
				return 0, riff.ErrUnexpectedData
			}
			tag = binary.LittleEndian.Uint16(buf[24:])
		}
		return tag, nil
	}
}

// WriteWAV encodes samples as a mono PCM WAV at the given bit depth. Samples
// are rounded and clipped to the integer range of that depth.
func WriteWAV(path string, samples []float64, sampleRate, bitDepth int) error {
	logger := logging.WithFields(logging.Fields{
		"component": "wav_writer",
		"function":  "WriteWAV",
		"path":      path,
	})

	if sampleRate <= 0 {
		return fmt.Errorf("write %s: sample rate must be positive: %d", path, sampleRate)
	}
	switch bitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("write %s: unsupported bit depth %d", path, bitDepth)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	encoder := wav.NewEncoder(f, sampleRate, bitDepth, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           quantize(samples, bitDepth),
		SourceBitDepth: bitDepth,
	}

	if err := encoder.Write(buf); err != nil {
		f.Close()
		logger.Error(err, "Failed to write samples")
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := encoder.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	logger.Debug("WAV written", logging.Fields{
		"samples":     len(samples),
		"sample_rate": sampleRate,
		"bit_depth":   bitDepth,
	})

	return nil
}

func quantize(samples []float64, bitDepth int) []int {
	hi := math.Exp2(float64(bitDepth-1)) - 1
	lo := -hi - 1

	out := make([]int, len(samples))
	for i, s := range samples {
		if math.IsNaN(s) {
			s = 0
		}
		out[i] = int(math.Max(lo, math.Min(hi, math.Round(s))))
	}
	return out
}
