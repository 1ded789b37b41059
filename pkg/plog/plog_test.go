package plog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPlogLevels(t *testing.T) {
	var logBuf bytes.Buffer
	SetOutput(&logBuf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})

	t.Run("Logs all levels when level is Debug", func(t *testing.T) {
		logBuf.Reset()
		SetLevel(LevelDebug)

		Debug("debug message", "key", "val1")
		Info("info message", "key", "val2")
		Warn("warn message")

		output := logBuf.String()
		if !strings.Contains(output, "level=DEBUG msg=\"debug message\" key=val1") {
			t.Errorf("expected debug message to be logged. Got: %s", output)
		}
		if !strings.Contains(output, "level=INFO msg=\"info message\" key=val2") {
			t.Errorf("expected info message to be logged. Got: %s", output)
		}
		if !strings.Contains(output, "level=WARN msg=\"warn message\"") {
			t.Errorf("expected warn message to be logged. Got: %s", output)
		}
	})

	t.Run("Suppresses lower levels when level is Warn", func(t *testing.T) {
		logBuf.Reset()
		SetLevel(LevelWarn)

		Debug("debug message")
		Info("info message")
		Notice("notice message")

		if output := logBuf.String(); output != "" {
			t.Errorf("expected no output at warn level, but got: %s", output)
		}
	})

	t.Run("Renders NOTICE by name", func(t *testing.T) {
		logBuf.Reset()
		SetLevel(LevelNotice)

		Info("info message")
		Notice("discard", "tier", "daily")

		output := logBuf.String()
		if strings.Contains(output, "level=INFO") {
			t.Errorf("expected info to be suppressed at notice level, got: %s", output)
		}
		if !strings.Contains(output, "level=NOTICE msg=discard tier=daily") {
			t.Errorf("expected notice line, got: %s", output)
		}
	})

	t.Run("With carries attributes", func(t *testing.T) {
		logBuf.Reset()
		SetLevel(LevelInfo)

		With("target", "web1").Info("transfer started")

		if output := logBuf.String(); !strings.Contains(output, "target=web1") {
			t.Errorf("expected target attribute, got: %s", output)
		}
	})
}

func TestLevelFromString(t *testing.T) {
	cases := map[string]string{
		"debug":   LevelDebug.String(),
		"NOTICE":  LevelNotice.String(),
		"info":    LevelInfo.String(),
		"warning": LevelWarn.String(),
		"error":   LevelError.String(),
		"bogus":   LevelInfo.String(),
	}
	for in, want := range cases {
		if got := LevelFromString(in).String(); got != want {
			t.Errorf("LevelFromString(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestSetFile(t *testing.T) {
	var logBuf bytes.Buffer
	SetOutput(&logBuf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	logPath := filepath.Join(t.TempDir(), "spool.log")
	SetFile(logPath, 1, 1)
	Info("to both sinks", "key", "value")
	if err := Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "to both sinks") {
		t.Errorf("expected message in log file, got: %s", data)
	}
	if !strings.Contains(logBuf.String(), "to both sinks") {
		t.Errorf("expected message on console, got: %s", logBuf.String())
	}
}
