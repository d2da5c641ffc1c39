package migrator

import (
	"bytes"
	"strings"
	"testing"
)

func TestStdLoggerFiltersBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLogger(&buf, LevelWarn)
	l.Debug("debug message")
	l.Info("info message")
	if buf.Len() != 0 {
		t.Errorf("expected debug/info to be filtered at LevelWarn, got %q", buf.String())
	}
	l.Warn("warn message")
	if !strings.Contains(buf.String(), "warn message") {
		t.Errorf("expected warn message to be written, got %q", buf.String())
	}
}

func TestStdLoggerWritesFieldsAsKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLogger(&buf, LevelDebug)
	l.Info("applying migration", F("name", "20260101000000_init"), F("batches", 3))
	out := buf.String()
	if !strings.Contains(out, "name=20260101000000_init") {
		t.Errorf("expected the name field to be rendered, got %q", out)
	}
	if !strings.Contains(out, "batches=3") {
		t.Errorf("expected the batches field to be rendered, got %q", out)
	}
}

func TestStdLoggerWriterIsNotATerminalSoUncolored(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLogger(&buf, LevelDebug)
	l.Error("boom")
	if strings.Contains(buf.String(), "\033[") {
		t.Errorf("expected no ANSI color codes when writing to a non-terminal buffer, got %q", buf.String())
	}
}

func TestNopLoggerDiscardsEverything(t *testing.T) {
	NopLogger.Debug("x")
	NopLogger.Info("x")
	NopLogger.Warn("x")
	NopLogger.Error("x", F("k", "v"))
}
