package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")

	l := &Logger{enabled: true}
	if err := l.SetOutput(path); err != nil {
		t.Fatalf("set output: %v", err)
	}
	defer l.Close()

	l.Log(&ActivityLog{Module: "monitor", RunMode: "reactive", DurationMs: 12, Success: true})
	l.Log(&ActivityLog{Module: "fetch", DurationMs: 40, Success: false, Error: "status 500"})

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var entries []ActivityLog
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e ActivityLog
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Module != "monitor" || !entries[0].Success {
		t.Fatalf("first entry = %+v", entries[0])
	}
	if entries[1].Error != "status 500" {
		t.Fatalf("second entry = %+v", entries[1])
	}
	if entries[0].Timestamp.IsZero() {
		t.Fatal("Log should stamp entries")
	}
}

func TestSetLevelFromString(t *testing.T) {
	defer SetLevelFromString("info")

	SetLevelFromString("debug")
	if !Op().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug level should enable debug records")
	}
	SetLevelFromString("error")
	if Op().Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("error level should drop info records")
	}
}
