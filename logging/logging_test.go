package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaultLoggerRoutesByLevel(t *testing.T) {
	var stdout, stderr bytes.Buffer
	l := NewDefaultLoggerWithWriters(&stdout, &stderr)
	l.SetLevel(DebugLevel)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error(errors.New("boom"), "error message")

	out := stdout.String()
	if !strings.Contains(out, "[DEBUG] debug message") || !strings.Contains(out, "[INFO] info message") {
		t.Fatalf("stdout missing debug/info lines: %q", out)
	}
	if strings.Contains(out, "warn message") {
		t.Fatalf("warn leaked to stdout: %q", out)
	}

	errOut := stderr.String()
	if !strings.Contains(errOut, "[WARN] warn message") {
		t.Fatalf("stderr missing warn line: %q", errOut)
	}
	if !strings.Contains(errOut, "[ERROR] error message: boom") {
		t.Fatalf("stderr missing error line: %q", errOut)
	}
}

func TestDefaultLoggerLevelFilterSharedWithChildren(t *testing.T) {
	var stdout, stderr bytes.Buffer
	l := NewDefaultLoggerWithWriters(&stdout, &stderr)
	child := l.WithFields(Fields{"component": "test"})

	l.SetLevel(WarnLevel)
	child.Info("hidden")

	if stdout.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", stdout.String())
	}
}

func TestDefaultLoggerFieldsAreSortedAndMerged(t *testing.T) {
	var stdout, stderr bytes.Buffer
	l := NewDefaultLoggerWithWriters(&stdout, &stderr)

	l.WithFields(Fields{"b": 2, "a": 1}).Info("fields", Fields{"c": 3})

	if !strings.Contains(stdout.String(), "{a=1 b=2 c=3}") {
		t.Fatalf("unexpected field rendering: %q", stdout.String())
	}
}

func TestDefaultLoggerWithContext(t *testing.T) {
	var stdout, stderr bytes.Buffer
	l := NewDefaultLoggerWithWriters(&stdout, &stderr)

	ctx := ContextWithFields(context.Background(), Fields{"run": "abc"})
	l.WithContext(ctx).Info("ctx")

	if !strings.Contains(stdout.String(), "run=abc") {
		t.Fatalf("context fields missing: %q", stdout.String())
	}
}

func TestDefaultLoggerFatalExits(t *testing.T) {
	var stdout, stderr bytes.Buffer
	l := NewDefaultLoggerWithWriters(&stdout, &stderr)

	code := -1
	l.exit = func(c int) { code = c }
	l.Fatal(errors.New("dead"), "fatal")

	if code != 1 {
		t.Fatalf("exit code=%d want=1", code)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLevel(%q) err=%v wantErr=%v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseLevel(%q)=%v want=%v", tt.in, got, tt.want)
		}
	}
}

func TestZapLoggerForwardsFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewZapLoggerFrom(zap.New(core))

	l.WithFields(Fields{"component": "frames"}).Info("assembled", Fields{"frames": 10})
	l.Error(errors.New("bad"), "failed")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("entries=%d want=2", len(entries))
	}

	ctx := entries[0].ContextMap()
	if ctx["component"] != "frames" || ctx["frames"] != int64(10) {
		t.Fatalf("unexpected context: %v", ctx)
	}
	if entries[1].ContextMap()["error"] != "bad" {
		t.Fatalf("error field missing: %v", entries[1].ContextMap())
	}
}

func TestSetGlobalLoggerNilInstallsNoOp(t *testing.T) {
	prev := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(prev) })

	SetGlobalLogger(nil)
	if _, ok := GetGlobalLogger().(*NoOpLogger); !ok {
		t.Fatalf("expected NoOpLogger, got %T", GetGlobalLogger())
	}
}

func TestDisableColorsOnGlobalLogger(t *testing.T) {
	prev := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(prev) })

	var stdout, stderr bytes.Buffer
	l := NewDefaultLoggerWithWriters(&stdout, &stderr)
	l.useColors = true
	SetGlobalLogger(l)

	Warn("colored")
	if !strings.Contains(stderr.String(), "\x1b[") {
		t.Fatalf("expected ANSI color codes: %q", stderr.String())
	}

	stderr.Reset()
	DisableColors()
	Warn("plain")
	if strings.Contains(stderr.String(), "\x1b[") {
		t.Fatalf("colors still enabled: %q", stderr.String())
	}
}
