// Package render draws one video frame: the input and equalized waveforms
// on the left, their spectra on the right.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/RyanBlaney/sonido-eqscope/frames"
	"github.com/RyanBlaney/sonido-eqscope/logging"
)

// ErrClosed is returned by Render after Close
var ErrClosed = errors.New("renderer is closed")

// Config describes the frame layout
type Config struct {
	Width  int `json:"width"`  // pixels, must be even for yuv420p
	Height int `json:"height"` // pixels, must be even for yuv420p
	DPI    int `json:"dpi"`

	AmplitudeMargin float64 `json:"amplitude_margin"` // time plots span margin*[min, max] of the input window
	MaxFrequency    float64 `json:"max_frequency"`    // upper x limit of the spectrum plots
	FloorDB         float64 `json:"floor_db"`
	CeilingDB       float64 `json:"ceiling_db"`

	InputColor  color.Color `json:"-"`
	OutputColor color.Color `json:"-"`
}

// DefaultConfig returns a 1600x1000 layout with a 0 to 20 kHz, -100 to 2 dB
// spectrum view
func DefaultConfig() Config {
	return Config{
		Width:           1600,
		Height:          1000,
		DPI:             100,
		AmplitudeMargin: 1.5,
		MaxFrequency:    20000,
		FloorDB:         -100,
		CeilingDB:       2,
		InputColor:      color.RGBA{R: 31, G: 119, B: 180, A: 255},
		OutputColor:     color.RGBA{R: 255, G: 127, B: 14, A: 255},
	}
}

func (c Config) validate() error {
	if c.Width <= 0 || c.Height <= 0 || c.Width%2 != 0 || c.Height%2 != 0 {
		return fmt.Errorf("frame size %dx%d must be positive and even", c.Width, c.Height)
	}
	if c.DPI <= 0 {
		return fmt.Errorf("dpi must be positive, got %d", c.DPI)
	}
	if c.MaxFrequency <= 0 {
		return fmt.Errorf("max frequency must be positive, got %v", c.MaxFrequency)
	}
	if !(c.FloorDB < c.CeilingDB) {
		return fmt.Errorf("floor %v dB must be below ceiling %v dB", c.FloorDB, c.CeilingDB)
	}
	return nil
}

// Renderer owns a single RGBA surface and redraws it from scratch for every
// Bundle. No frame data is kept between calls, so frames may be rendered in
// any order. The returned image is reused by the next Render call.
// A Renderer is not safe for concurrent use.
type Renderer struct {
	config Config
	canvas *vgimg.Canvas
	img    *image.RGBA
	tiles  draw.Tiles
}

// NewRenderer allocates the drawing surface
func NewRenderer(config Config) (*Renderer, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	if config.AmplitudeMargin <= 0 {
		config.AmplitudeMargin = 1
	}
	if config.InputColor == nil {
		config.InputColor = color.Black
	}
	if config.OutputColor == nil {
		config.OutputColor = color.Black
	}

	dpi := float64(config.DPI)
	canvas := vgimg.NewWith(
		vgimg.UseWH(vg.Length(float64(config.Width)/dpi)*vg.Inch, vg.Length(float64(config.Height)/dpi)*vg.Inch),
		vgimg.UseDPI(config.DPI),
	)

	img, ok := canvas.Image().(*image.RGBA)
	if !ok {
		return nil, fmt.Errorf("unexpected canvas image type %T", canvas.Image())
	}
	if b := img.Bounds(); b.Dx() != config.Width || b.Dy() != config.Height {
		return nil, fmt.Errorf("canvas is %dx%d, want %dx%d", b.Dx(), b.Dy(), config.Width, config.Height)
	}

	logging.Debug("Renderer ready", logging.Fields{
		"component": "renderer",
		"width":     config.Width,
		"height":    config.Height,
	})

	return &Renderer{
		config: config,
		canvas: canvas,
		img:    img,
		tiles: draw.Tiles{
			Rows:      2,
			Cols:      2,
			PadX:      vg.Millimeter * 8,
			PadY:      vg.Millimeter * 8,
			PadTop:    vg.Millimeter * 4,
			PadBottom: vg.Millimeter * 4,
			PadLeft:   vg.Millimeter * 4,
			PadRight:  vg.Millimeter * 6,
		},
	}, nil
}

// Size returns the frame size in pixels
func (r *Renderer) Size() (width, height int) {
	return r.config.Width, r.config.Height
}

// Render draws b and returns the surface
func (r *Renderer) Render(b frames.Bundle) (*image.RGBA, error) {
	if r.img == nil {
		return nil, ErrClosed
	}

	inputTime, err := r.timePlot("Input", b.Time, b.Input, b.Input, r.config.InputColor)
	if err != nil {
		return nil, fmt.Errorf("frame %d input waveform: %w", b.Index, err)
	}
	outputTime, err := r.timePlot("Output", b.Time, b.Output, b.Input, r.config.OutputColor)
	if err != nil {
		return nil, fmt.Errorf("frame %d output waveform: %w", b.Index, err)
	}
	inputSpectrum, err := r.spectrumPlot("Input spectrum", b.InputPSD.Frequencies, b.InputPSD.Magnitudes, r.config.InputColor)
	if err != nil {
		return nil, fmt.Errorf("frame %d input spectrum: %w", b.Index, err)
	}
	outputSpectrum, err := r.spectrumPlot("Output spectrum", b.OutputPSD.Frequencies, b.OutputPSD.Magnitudes, r.config.OutputColor)
	if err != nil {
		return nil, fmt.Errorf("frame %d output spectrum: %w", b.Index, err)
	}

	stddraw.Draw(r.img, r.img.Bounds(), image.White, image.Point{}, stddraw.Src)

	plots := [][]*plot.Plot{
		{inputTime, inputSpectrum},
		{outputTime, outputSpectrum},
	}
	dc := draw.New(r.canvas)
	canvases := plot.Align(plots, r.tiles, dc)
	for row := range plots {
		for col, p := range plots[row] {
			p.Draw(canvases[row][col])
		}
	}

	return r.img, nil
}

// Close releases the surface. Later Render calls fail with ErrClosed.
func (r *Renderer) Close() error {
	r.canvas = nil
	r.img = nil
	return nil
}

// timePlot draws y against t. The vertical range always comes from the input
// window so both waveforms share one scale.
func (r *Renderer) timePlot(title string, t, y, scale []float64, c color.Color) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Amplitude"

	if n := min(len(t), len(y)); n > 0 {
		line, err := plotter.NewLine(xys(t[:n], y[:n], math.Inf(-1)))
		if err != nil {
			return nil, err
		}
		line.Color = c
		p.Add(line)
	}

	p.X.Min, p.X.Max = span(t, 1)
	p.Y.Min, p.Y.Max = span(scale, r.config.AmplitudeMargin)
	return p, nil
}

func (r *Renderer) spectrumPlot(title string, freqs, mags []float64, c color.Color) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Frequency (Hz)"
	p.Y.Label.Text = "Magnitude (dB)"

	if n := min(len(freqs), len(mags)); n > 0 {
		// -Inf bins (silent input) sit on the floor of the plot
		line, err := plotter.NewLine(xys(freqs[:n], mags[:n], r.config.FloorDB))
		if err != nil {
			return nil, err
		}
		line.Color = c
		p.Add(line)
	}

	p.X.Min, p.X.Max = 0, r.config.MaxFrequency
	p.Y.Min, p.Y.Max = r.config.FloorDB, r.config.CeilingDB
	return p, nil
}

// xys pairs x with y, replacing non-finite values with floor. A -Inf floor
// falls back to zero.
func xys(x, y []float64, floor float64) plotter.XYs {
	if math.IsInf(floor, 0) || math.IsNaN(floor) {
		floor = 0
	}
	pts := make(plotter.XYs, len(x))
	for i := range x {
		v := y[i]
		if math.IsInf(v, 0) || math.IsNaN(v) {
			v = floor
		}
		pts[i] = plotter.XY{X: x[i], Y: v}
	}
	return pts
}

// span returns margin*[min, max] of v, widened to a unit range around the
// value when v is empty or constant.
func span(v []float64, margin float64) (lo, hi float64) {
	if len(v) == 0 {
		return -1, 1
	}
	lo, hi = floats.Min(v)*margin, floats.Max(v)*margin
	if math.IsInf(lo, 0) || math.IsInf(hi, 0) || math.IsNaN(lo) || math.IsNaN(hi) {
		return -1, 1
	}
	if lo == hi {
		return lo - 1, hi + 1
	}
	return lo, hi
}
