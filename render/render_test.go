package render

import (
	"errors"
	"image"
	"math"
	"os"
	"testing"

	"github.com/RyanBlaney/sonido-eqscope/algorithms/spectral"
	"github.com/RyanBlaney/sonido-eqscope/frames"
	"github.com/RyanBlaney/sonido-eqscope/logging"
)

func TestMain(m *testing.M) {
	logging.SetGlobalLogger(&logging.NoOpLogger{})
	os.Exit(m.Run())
}

func testBundle(silent bool) frames.Bundle {
	const n = 256
	const fs = 8000

	t := make([]float64, n)
	in := make([]float64, n)
	out := make([]float64, n)
	for i := range n {
		t[i] = float64(i) / fs
		if !silent {
			in[i] = 1000 * math.Sin(2*math.Pi*440*t[i])
			out[i] = 0.5 * in[i]
		}
	}

	analyzer := spectral.NewPSDAnalyzer(fs, 0)
	return frames.Bundle{
		Index:     3,
		Time:      t,
		Input:     in,
		Output:    out,
		InputPSD:  analyzer.Compute(in),
		OutputPSD: analyzer.Compute(out),
	}
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 640, 400
	return cfg
}

func TestRenderProducesFrameOfConfiguredSize(t *testing.T) {
	r, err := NewRenderer(smallConfig())
	if err != nil {
		t.Fatalf("NewRenderer error: %v", err)
	}
	defer r.Close()

	img, err := r.Render(testBundle(false))
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 640, 400) {
		t.Fatalf("bounds=%v", img.Bounds())
	}

	nonWhite := 0
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xff || img.Pix[i+1] != 0xff || img.Pix[i+2] != 0xff {
			nonWhite++
		}
	}
	if nonWhite == 0 {
		t.Fatalf("rendered frame is blank")
	}
}

func TestRenderIsStateless(t *testing.T) {
	r, err := NewRenderer(smallConfig())
	if err != nil {
		t.Fatalf("NewRenderer error: %v", err)
	}
	defer r.Close()

	b := testBundle(false)
	first, err := r.Render(b)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	want := append([]byte(nil), first.Pix...)

	if _, err := r.Render(testBundle(true)); err != nil {
		t.Fatalf("Render silent error: %v", err)
	}
	again, err := r.Render(b)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if string(again.Pix) != string(want) {
		t.Fatalf("re-rendering the same bundle produced a different image")
	}
}

func TestRenderSilentFrame(t *testing.T) {
	r, err := NewRenderer(smallConfig())
	if err != nil {
		t.Fatalf("NewRenderer error: %v", err)
	}
	defer r.Close()

	// all-zero input gives -Inf spectra and a zero amplitude range
	if _, err := r.Render(testBundle(true)); err != nil {
		t.Fatalf("Render error: %v", err)
	}
}

func TestRenderEmptyBundle(t *testing.T) {
	r, err := NewRenderer(smallConfig())
	if err != nil {
		t.Fatalf("NewRenderer error: %v", err)
	}
	defer r.Close()

	if _, err := r.Render(frames.Bundle{}); err != nil {
		t.Fatalf("Render error: %v", err)
	}
}

func TestRenderAfterClose(t *testing.T) {
	r, err := NewRenderer(smallConfig())
	if err != nil {
		t.Fatalf("NewRenderer error: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if _, err := r.Render(testBundle(false)); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v want ErrClosed", err)
	}
}

func TestNewRendererValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"odd width", func(c *Config) { c.Width = 641 }},
		{"zero height", func(c *Config) { c.Height = 0 }},
		{"zero dpi", func(c *Config) { c.DPI = 0 }},
		{"floor above ceiling", func(c *Config) { c.FloorDB = 10 }},
		{"no frequency range", func(c *Config) { c.MaxFrequency = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			tt.modify(&cfg)
			if _, err := NewRenderer(cfg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestSpan(t *testing.T) {
	tests := []struct {
		name   string
		in     []float64
		margin float64
		lo, hi float64
	}{
		{"scaled", []float64{-2, 4}, 1.5, -3, 6},
		{"constant", []float64{0, 0}, 1.5, -1, 1},
		{"empty", nil, 1.5, -1, 1},
		{"infinite", []float64{math.Inf(-1), 1}, 1, -1, 1},
	}

	for _, tt := range tests {
		lo, hi := span(tt.in, tt.margin)
		if lo != tt.lo || hi != tt.hi {
			t.Fatalf("%s: span=(%v, %v) want=(%v, %v)", tt.name, lo, hi, tt.lo, tt.hi)
		}
	}
}

func TestXYsReplacesNonFinite(t *testing.T) {
	pts := xys([]float64{0, 1, 2}, []float64{math.Inf(-1), -3, math.NaN()}, -100)
	if pts[0].Y != -100 || pts[1].Y != -3 || pts[2].Y != -100 {
		t.Fatalf("points=%v", pts)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.InputColor == nil {
		t.Fatalf("default input color missing")
	}
}
