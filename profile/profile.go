// Package profile loads equalizer gain profiles and turns them into the
// control points the equalizer is designed from.
//
// A profile file is a JSON object mapping an integer frequency in Hz (as a
// string key) to a gain in dB:
//
//	{"60": 3, "1000": 0, "8000": -6}
package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/RyanBlaney/sonido-eqscope/logging"
)

const (
	// FloorGainDB is the gain forced at the Nyquist frequency
	FloorGainDB = -100.0
	// DCGainDB is the gain forced at 0 Hz
	DCGainDB = 0.0
)

// ErrInvalidProfile is returned for malformed profile documents
var ErrInvalidProfile = errors.New("invalid equalizer profile")

// ControlPoint anchors the equalizer target response
type ControlPoint struct {
	FrequencyHz float64 `json:"frequency_hz"`
	GainDB      float64 `json:"gain_db"`
}

// Profile is an ordered, de-duplicated list of control points, strictly
// ascending in frequency.
type Profile struct {
	Points []ControlPoint `json:"points"`
}

// LoadFile reads and parses a profile from disk
func LoadFile(path string) (*Profile, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "profile",
		"function":  "LoadFile",
		"path":      path,
	})

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error(err, "Failed to read profile")
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}

	p, err := Parse(bytes.NewReader(data))
	if err != nil {
		logger.Error(err, "Failed to parse profile")
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}

	logger.Debug("Profile loaded", logging.Fields{
		"points": len(p.Points),
	})

	return p, nil
}

// Parse decodes a profile document. Keys are read in document order so that
// two keys naming the same frequency (e.g. "1000" and "01000") resolve to the
// one written last.
func Parse(r io.Reader) (*Profile, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrInvalidProfile)
	}

	gains := make(map[int]float64)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
		}
		key := keyTok.(string)

		freq, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("%w: frequency key %q is not an integer", ErrInvalidProfile, key)
		}
		if freq < 0 {
			return nil, fmt.Errorf("%w: frequency %d is negative", ErrInvalidProfile, freq)
		}

		var gain json.Number
		if err := dec.Decode(&gain); err != nil {
			return nil, fmt.Errorf("%w: gain for %q: %v", ErrInvalidProfile, key, err)
		}
		g, err := gain.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: gain for %q: %v", ErrInvalidProfile, key, err)
		}

		gains[freq] = g
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after profile object", ErrInvalidProfile)
	}

	return FromMap(gains), nil
}

// FromMap builds a profile from a frequency→gain mapping, sorted by frequency
func FromMap(gains map[int]float64) *Profile {
	freqs := make([]int, 0, len(gains))
	for f := range gains {
		freqs = append(freqs, f)
	}
	slices.Sort(freqs)

	points := make([]ControlPoint, len(freqs))
	for i, f := range freqs {
		points[i] = ControlPoint{FrequencyHz: float64(f), GainDB: gains[f]}
	}

	return &Profile{Points: points}
}

// Augment returns the control points bracketed by (0 Hz, 0 dB) and
// (sampleRate/2, -100 dB) so the response is defined over the whole band.
// User points at 0 Hz or at/above Nyquist would break strict ordering against
// the forced anchors; they are dropped with a warning.
func (p *Profile) Augment(sampleRate int) []ControlPoint {
	logger := logging.WithFields(logging.Fields{
		"component":   "profile",
		"function":    "Augment",
		"sample_rate": sampleRate,
	})

	nyquist := float64(sampleRate) / 2

	out := make([]ControlPoint, 0, len(p.Points)+2)
	out = append(out, ControlPoint{FrequencyHz: 0, GainDB: DCGainDB})

	for _, cp := range p.Points {
		if cp.FrequencyHz <= 0 || cp.FrequencyHz >= nyquist {
			logger.Warn("Dropping control point outside (0, Nyquist)", logging.Fields{
				"frequency_hz": cp.FrequencyHz,
				"gain_db":      cp.GainDB,
				"nyquist_hz":   nyquist,
			})
			continue
		}
		out = append(out, cp)
	}

	out = append(out, ControlPoint{FrequencyHz: nyquist, GainDB: FloorGainDB})
	return out
}

// Split separates control points into parallel frequency and gain slices
func Split(points []ControlPoint) (frequencies, gainsDB []float64) {
	frequencies = make([]float64, len(points))
	gainsDB = make([]float64, len(points))
	for i, cp := range points {
		frequencies[i] = cp.FrequencyHz
		gainsDB[i] = cp.GainDB
	}
	return frequencies, gainsDB
}
