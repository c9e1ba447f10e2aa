package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		" warn ":  WarnLevel,
		"warning": WarnLevel,
		"Error":   ErrorLevel,
		"FATAL":   FatalLevel,
		"bogus":   InfoLevel,
		"":        InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Config{Level: WarnLevel, Output: &buf}); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = Init(DefaultConfig()) }()

	Info().Msg("hidden")
	Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line leaked through warn filter")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn line missing")
	}
}

func TestStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Config{Level: DebugLevel, Output: &buf}); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = Init(DefaultConfig()) }()

	logger := Component("engine")
	logger.Info().Str("sessionID", "s1").Msg("turn complete")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if line["component"] != "engine" || line["sessionID"] != "s1" {
		t.Errorf("missing fields in %v", line)
	}
	if _, ok := line[zerolog.TimestampFieldName]; !ok {
		t.Error("missing timestamp")
	}
}

func TestLogToFile(t *testing.T) {
	dir := t.TempDir()
	if err := Init(Config{Level: InfoLevel, Output: &bytes.Buffer{}, Dir: dir}); err != nil {
		t.Fatal(err)
	}
	defer func() {
		Close()
		_ = Init(DefaultConfig())
	}()

	Info().Msg("to file")

	path := FilePath()
	if path == "" {
		t.Fatal("no log file open")
	}
	name := filepath.Base(path)
	if !strings.HasPrefix(name, "agentcore-") || !strings.HasSuffix(name, ".log") {
		t.Errorf("unexpected log file name %q", name)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Error("log line not written to file")
	}
}

func TestClose(t *testing.T) {
	dir := t.TempDir()
	if err := Init(Config{Output: &bytes.Buffer{}, Dir: dir}); err != nil {
		t.Fatal(err)
	}
	if err := Close(); err != nil {
		t.Fatal(err)
	}
	if FilePath() != "" {
		t.Error("file path should be empty after Close")
	}
	if err := Close(); err != nil {
		t.Error("second Close should be a no-op")
	}
	_ = Init(DefaultConfig())
}
