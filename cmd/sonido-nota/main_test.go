package main

import (
	"bytes"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/RyanBlaney/sonido-nota/detector"
	"github.com/RyanBlaney/sonido-nota/detector/config"
)

func writeToneWAV(t *testing.T, freq float64, seconds float64) string {
	t.Helper()
	const rate = 44100

	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	data := make([]int, int(seconds*rate))
	for i := range data {
		data[i] = int(16000 * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}

	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: rate}, Data: data, SourceBitDepth: 16}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"-mode", "chord", "-format", "json", "song.mp3"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if o.mode != "chord" || o.format != "json" || o.input != "song.mp3" {
		t.Errorf("options = %+v", o)
	}

	if _, err := parseFlags([]string{"-nope"}, io.Discard); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := loadConfig(options{mode: "chord", logLevel: "debug"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != config.ModeChord || cfg.LogLevel != "debug" {
		t.Errorf("cfg mode=%s level=%s", cfg.Mode, cfg.LogLevel)
	}

	if _, err := loadConfig(options{mode: "arpeggio"}); err == nil {
		t.Error("expected error for invalid mode")
	}

	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("mode: chord\nstabilizer:\n  threshold: 5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadConfig(options{configPath: path, mode: "note"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != config.ModeNote || cfg.Stabilizer.Threshold != 5 {
		t.Errorf("flag should override file: mode=%s threshold=%d", cfg.Mode, cfg.Stabilizer.Threshold)
	}
}

func TestNewPublisher(t *testing.T) {
	var w bytes.Buffer

	p, err := newPublisher("text", true, &w)
	if err != nil {
		t.Fatal(err)
	}
	if tp, ok := p.(*detector.TextPublisher); !ok || !tp.StableOnly {
		t.Errorf("publisher = %T", p)
	}

	if p, _ := newPublisher("JSON", false, &w); p == nil {
		t.Error("json publisher not created")
	}

	if _, err := newPublisher("xml", false, &w); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestRunWAVFile(t *testing.T) {
	path := writeToneWAV(t, 440, 1)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-input", path, "-stable-only", "-log-level", "error"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "=> A4") {
		t.Errorf("output = %q, want a stable A4", stdout.String())
	}
}

func TestRunBadConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, &stdout, &stderr); code != 1 {
		t.Errorf("exit code %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "missing.yaml") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunMissingDecoder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	doc := "log_level: error\ninput:\n  ffmpeg_path: " + filepath.Join(t.TempDir(), "no-ffmpeg") + "\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-config", path, "-input", "song.mp3"}, &stdout, &stderr); code != 1 {
		t.Errorf("exit code %d, want 1", code)
	}
}

type closedPipe struct{}

func (closedPipe) Write([]byte) (int, error) { return 0, os.ErrClosed }

func TestRunReportsWriteFailure(t *testing.T) {
	path := writeToneWAV(t, 440, 1)

	var stderr bytes.Buffer
	if code := run([]string{"-input", path, "-format", "json", "-log-level", "error"}, closedPipe{}, &stderr); code != 1 {
		t.Errorf("exit code %d, want 1", code)
	}
}
