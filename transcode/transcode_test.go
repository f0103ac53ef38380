package transcode

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/RyanBlaney/sonido-eqscope/logging"
)

func TestMain(m *testing.M) {
	logging.SetGlobalLogger(&logging.NoOpLogger{})
	os.Exit(m.Run())
}

func TestWriteThenReadWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mono.wav")
	in := []float64{0, 1000.4, -1000.6, 40000, -40000, math.NaN()}

	if err := WriteWAV(path, in, 22050, 16); err != nil {
		t.Fatalf("WriteWAV error: %v", err)
	}

	got, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV error: %v", err)
	}

	want := []float64{0, 1000, -1001, 32767, -32768, 0}
	if !slices.Equal(got.PCM, want) {
		t.Fatalf("PCM=%v want=%v", got.PCM, want)
	}
	if got.SampleRate != 22050 || got.Channels != 1 || got.SourceBitDepth != 16 {
		t.Fatalf("format=%+v", got)
	}
}

func TestReadWAVTakesChannelZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	enc := wav.NewEncoder(f, 8000, 16, 2, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: 8000},
		Data:           []int{1, -1, 2, -2, 3, -3},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	f.Close()

	got, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV error: %v", err)
	}
	if !slices.Equal(got.PCM, []float64{1, 2, 3}) {
		t.Fatalf("PCM=%v want=[1 2 3]", got.PCM)
	}
	if got.SourceChannels != 2 || got.Channels != 1 {
		t.Fatalf("channels=%d source=%d", got.Channels, got.SourceChannels)
	}
}

func TestReadWAVRejectsOtherFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("definitely not RIFF data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := ReadWAV(path); !errors.Is(err, ErrNotWAV) {
		t.Fatalf("err=%v want ErrNotWAV", err)
	}
}

// writeFloatWAV writes mono 32-bit IEEE float samples. With extensible set
// the format tag is WAVE_FORMAT_EXTENSIBLE carrying the float sub-format.
func writeFloatWAV(t *testing.T, path string, samples []float32, extensible bool) {
	t.Helper()

	var fmtChunk bytes.Buffer
	tag := uint16(3)
	if extensible {
		tag = 0xFFFE
	}
	le := func(v any) { binary.Write(&fmtChunk, binary.LittleEndian, v) }
	le(tag)
	le(uint16(1))     // channels
	le(uint32(8000))  // sample rate
	le(uint32(32000)) // byte rate
	le(uint16(4))     // block align
	le(uint16(32))    // bits per sample
	if extensible {
		le(uint16(22)) // cbSize
		le(uint16(32)) // valid bits
		le(uint32(4))  // channel mask
		le(uint16(3))  // sub-format tag, rest of the GUID follows
		fmtChunk.Write([]byte{0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71})
	}

	var data bytes.Buffer
	binary.Write(&data, binary.LittleEndian, samples)

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(4+8+fmtChunk.Len()+8+data.Len()))
	out.WriteString("WAVE")
	out.WriteString("fmt ")
	binary.Write(&out, binary.LittleEndian, uint32(fmtChunk.Len()))
	out.Write(fmtChunk.Bytes())
	out.WriteString("data")
	binary.Write(&out, binary.LittleEndian, uint32(data.Len()))
	out.Write(data.Bytes())

	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		t.Fatalf("write float wav: %v", err)
	}
}

func TestReadWAVRejectsFloatSamples(t *testing.T) {
	tests := []struct {
		name       string
		extensible bool
	}{
		{"ieee float", false},
		{"extensible ieee float", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "float.wav")
			writeFloatWAV(t, path, []float32{0, 0.5, -0.5, 0.25}, tt.extensible)

			if _, err := ReadWAV(path); !errors.Is(err, ErrNotWAV) {
				t.Fatalf("err=%v want ErrNotWAV", err)
			}
		})
	}
}

func TestDecodeFileConvertsFloatWAVWithFFmpeg(t *testing.T) {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available", bin)
		}
	}

	path := filepath.Join(t.TempDir(), "float.wav")
	writeFloatWAV(t, path, []float32{0, 0.5, -0.5, 0.25}, false)

	got, err := NewDecoder(nil).DecodeFile(context.Background(), path)
	if err != nil {
		t.Fatalf("DecodeFile error: %v", err)
	}

	want := []float64{0, 16384, -16384, 8192}
	if len(got.PCM) != len(want) {
		t.Fatalf("PCM=%v want=%v", got.PCM, want)
	}
	for i := range want {
		if math.Abs(got.PCM[i]-want[i]) > 1 {
			t.Fatalf("PCM=%v want=%v", got.PCM, want)
		}
	}
	if got.SampleRate != 8000 {
		t.Fatalf("sample rate=%d want=8000", got.SampleRate)
	}
}

func TestWriteWAVRejectsBadFormat(t *testing.T) {
	dir := t.TempDir()
	if err := WriteWAV(filepath.Join(dir, "a.wav"), []float64{0}, 0, 16); err == nil {
		t.Fatalf("expected error for zero sample rate")
	}
	if err := WriteWAV(filepath.Join(dir, "b.wav"), []float64{0}, 8000, 12); err == nil {
		t.Fatalf("expected error for 12-bit depth")
	}
}

func TestDecodeFileFallbackNeedsFFprobe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte("ID3"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	d := NewDecoder(&DecoderConfig{
		FFmpegPath:  filepath.Join(t.TempDir(), "no-ffmpeg"),
		FFprobePath: filepath.Join(t.TempDir(), "no-ffprobe"),
	})
	if _, err := d.DecodeFile(context.Background(), path); err == nil {
		t.Fatalf("expected error without ffprobe")
	}
}

func TestParseStreamProbe(t *testing.T) {
	doc := []byte(`{"streams":[{"codec_type":"audio","codec_name":"mp3","sample_rate":"48000","channels":2,"duration":"3.5"}]}`)

	meta, err := parseStreamProbe(doc)
	if err != nil {
		t.Fatalf("parseStreamProbe error: %v", err)
	}
	if meta.SampleRate != 48000 || meta.Channels != 2 || meta.Codec != "mp3" || meta.Duration != 3.5 {
		t.Fatalf("meta=%+v", meta)
	}

	for _, bad := range []string{
		`{"streams":[]}`,
		`{"streams":[{"codec_type":"video"}]}`,
		`{"streams":[{"codec_type":"audio","sample_rate":"x","channels":1}]}`,
		`{"streams":[{"codec_type":"audio","sample_rate":"8000","channels":0}]}`,
		`not json`,
	} {
		if _, err := parseStreamProbe([]byte(bad)); err == nil {
			t.Fatalf("expected error for %s", bad)
		}
	}
}

func TestParseFormatDuration(t *testing.T) {
	d, err := parseFormatDuration([]byte(`{"format":{"duration":"1.000000"}}`))
	if err != nil || d != 1 {
		t.Fatalf("duration=%v err=%v", d, err)
	}
	if _, err := parseFormatDuration([]byte(`{"format":{}}`)); err == nil {
		t.Fatalf("expected error for missing duration")
	}
}

func TestBuildEncoderArgs(t *testing.T) {
	cfg := DefaultEncoderConfig()

	silent := buildEncoderArgs(cfg, VideoSpec{Width: 640, Height: 400, FPS: 10, Output: "out.mp4"})
	if slices.Contains(silent, "-map") {
		t.Fatalf("silent video should not map audio: %v", silent)
	}
	if silent[len(silent)-1] != "out.mp4" {
		t.Fatalf("output must be last: %v", silent)
	}

	withAudio := buildEncoderArgs(cfg, VideoSpec{Width: 640, Height: 400, FPS: 30, Output: "out.mp4", AudioPath: "tmp.wav"})
	i := slices.Index(withAudio, "tmp.wav")
	if i < 1 || withAudio[i-1] != "-i" {
		t.Fatalf("audio input missing: %v", withAudio)
	}
	if !slices.Contains(withAudio, "1:a:0") || !slices.Contains(withAudio, "-shortest") {
		t.Fatalf("audio mapping missing: %v", withAudio)
	}
}

func TestNewVideoEncoderValidatesSpec(t *testing.T) {
	ctx := context.Background()
	for _, spec := range []VideoSpec{
		{Width: 641, Height: 400, FPS: 10, Output: "x.mp4"},
		{Width: 640, Height: 0, FPS: 10, Output: "x.mp4"},
		{Width: 640, Height: 400, FPS: 0, Output: "x.mp4"},
		{Width: 640, Height: 400, FPS: 10},
	} {
		if _, err := NewVideoEncoder(ctx, nil, spec); err == nil {
			t.Fatalf("expected error for %+v", spec)
		}
	}
}

func TestPackRGBASubImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 9, A: 255})
	sub := img.SubImage(image.Rect(1, 1, 3, 3)).(*image.RGBA)

	pix := packRGBA(sub)
	if len(pix) != 2*2*4 {
		t.Fatalf("packed length=%d want=16", len(pix))
	}
	if pix[0] != 9 {
		t.Fatalf("first pixel red=%d want=9", pix[0])
	}
}

func TestVideoEncoderProducesVideo(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not available")
	}

	out := filepath.Join(t.TempDir(), "clip.mp4")
	ctx := context.Background()

	enc, err := NewVideoEncoder(ctx, nil, VideoSpec{Width: 64, Height: 48, FPS: 10, Output: out})
	if err != nil {
		t.Fatalf("NewVideoEncoder error: %v", err)
	}

	frame := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for range 10 {
		if err := enc.WriteFrame(frame); err != nil {
			enc.Abort()
			t.Fatalf("WriteFrame error: %v", err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	d, err := ProbeDuration(ctx, "ffprobe", out)
	if err != nil {
		t.Fatalf("ProbeDuration error: %v", err)
	}
	if math.Abs(d-1.0) > 0.05 {
		t.Fatalf("duration=%v want=1.0", d)
	}
}

func TestVideoEncoderAbortRemovesOutput(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available")
	}

	out := filepath.Join(t.TempDir(), "partial.mp4")
	enc, err := NewVideoEncoder(context.Background(), nil, VideoSpec{Width: 64, Height: 48, FPS: 10, Output: out})
	if err != nil {
		t.Fatalf("NewVideoEncoder error: %v", err)
	}
	_ = enc.WriteFrame(image.NewRGBA(image.Rect(0, 0, 64, 48)))
	enc.Abort()

	if _, err := os.Stat(out); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial output still present: %v", err)
	}
}
