package logger

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
)

// logLine runs fn against a fresh handler at level and returns the single
// line it wrote, without the line ending.
func logLine(t *testing.T, level slog.Level, fn func(*slog.Logger)) string {
	t.Helper()
	var buf bytes.Buffer
	fn(slog.New(NewHandler(&buf, level)))
	return strings.TrimRight(buf.String(), "\r\n")
}

// ///////////////////////////////////////////////
// Levels
// ///////////////////////////////////////////////

func TestLookupLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"trace", LevelTrace, true},
		{"DEBUG", LevelDebug, true},
		{" info ", LevelInfo, true},
		{"Warn", LevelWarn, true},
		{"error", LevelError, true},
		{"fail", LevelFail, true},
		{"verbose", LevelInfo, false},
		{"", LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := LookupLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("LookupLevel(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
		if p := ParseLevel(tt.in); p != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, p, tt.want)
		}
	}
}

func TestLevelName(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  string
	}{
		{LevelTrace - 4, "trace"},
		{LevelTrace, "trace"},
		{LevelTrace + 1, "debug"},
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelInfo + 2, "warn"},
		{LevelError, "error"},
		{LevelFail, "fail"},
		{LevelFail + 8, "fail"},
	}
	for _, tt := range tests {
		if got := LevelName(tt.level); got != tt.want {
			t.Errorf("LevelName(%d) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

// ///////////////////////////////////////////////
// Handler
// ///////////////////////////////////////////////

var lineRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z \[([A-Z]+)\] (.*)$`)

func TestHandler_Format(t *testing.T) {
	line := logLine(t, LevelInfo, func(l *slog.Logger) {
		l.Info("signal dispatched", "signal", "SIGHUP", "slot", 3)
	})
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		t.Fatalf("line %q does not match the log format", line)
	}
	if m[1] != "INFO" {
		t.Errorf("level = %q, want INFO", m[1])
	}
	if want := "signal dispatched | signal=SIGHUP, slot=3"; m[2] != want {
		t.Errorf("body = %q, want %q", m[2], want)
	}
}

func TestHandler_NoAttrs(t *testing.T) {
	line := logLine(t, LevelInfo, func(l *slog.Logger) { l.Info("binder started") })
	if strings.Contains(line, "|") {
		t.Errorf("separator written without attrs: %q", line)
	}
}

func TestHandler_Quoting(t *testing.T) {
	line := logLine(t, LevelInfo, func(l *slog.Logger) {
		l.Info("config reloaded\nsecond line",
			"sections", []string{"service", "signals"},
			"empty", "",
			"path", "/tmp/a,b",
			"plain", "ok")
	})
	if strings.Count(line, "\n") != 0 {
		t.Fatalf("record spans lines: %q", line)
	}
	for _, want := range []string{
		`config reloaded\nsecond line`,
		`sections="[service signals]"`,
		`empty=""`,
		`path="/tmp/a,b"`,
		`plain=ok`,
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line missing %s:\n%s", want, line)
		}
	}
}

func TestHandler_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewHandler(&buf, LevelWarn))
	l.Info("dropped")
	l.Warn("kept")
	Fail(l, "fatal")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("info record passed a warn handler")
	}
	if !strings.Contains(out, "[WARN] kept") || !strings.Contains(out, "[FAIL] fatal") {
		t.Errorf("output = %q", out)
	}
}

func TestHandler_TraceAndFail(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewHandler(&buf, LevelTrace))
	Trace(l, "heartbeat skipped")
	Fail(l, "dispatch loop died", "error", "pipe closed")

	out := buf.String()
	if !strings.Contains(out, "[TRACE] heartbeat skipped") {
		t.Errorf("trace line missing: %q", out)
	}
	if !strings.Contains(out, `[FAIL] dispatch loop died | error="pipe closed"`) {
		t.Errorf("fail line missing: %q", out)
	}
}

func TestHandler_WithAttrs(t *testing.T) {
	line := logLine(t, LevelInfo, func(l *slog.Logger) {
		l.With("service", "appcored").With("pid", 42).Info("running", "state", "paused")
	})
	if !strings.HasSuffix(line, "running | service=appcored, pid=42, state=paused") {
		t.Errorf("line = %q", line)
	}
}

func TestHandler_WithAttrsNoRecordAttrs(t *testing.T) {
	line := logLine(t, LevelInfo, func(l *slog.Logger) {
		l.With("service", "appcored").Info("stopping")
	})
	if !strings.HasSuffix(line, "stopping | service=appcored") {
		t.Errorf("line = %q", line)
	}
}

func TestHandler_Groups(t *testing.T) {
	tests := []struct {
		name string
		fn   func(*slog.Logger)
		want string
	}{
		{
			name: "WithGroup",
			fn:   func(l *slog.Logger) { l.WithGroup("control").Info("m", "cmd", "stop") },
			want: "control.cmd=stop",
		},
		{
			name: "nested WithGroup",
			fn:   func(l *slog.Logger) { l.WithGroup("daemon").WithGroup("control").Info("m", "cmd", "stop") },
			want: "daemon.control.cmd=stop",
		},
		{
			name: "attrs before group stay unqualified",
			fn:   func(l *slog.Logger) { l.With("pid", 7).WithGroup("control").Info("m", "cmd", "stop") },
			want: "pid=7, control.cmd=stop",
		},
		{
			name: "group value",
			fn:   func(l *slog.Logger) { l.Info("m", slog.Group("signal", "name", "SIGINT", "slot", 2)) },
			want: "signal.name=SIGINT, signal.slot=2",
		},
		{
			name: "empty group value skipped",
			fn:   func(l *slog.Logger) { l.Info("m", slog.Group("none"), "k", "v") },
			want: "| k=v",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := logLine(t, LevelInfo, tt.fn)
			if !strings.Contains(line, tt.want) {
				t.Errorf("line %q does not contain %q", line, tt.want)
			}
		})
	}
}

func TestHandler_WithGroupEmpty(t *testing.T) {
	h := NewHandler(&bytes.Buffer{}, LevelInfo)
	if h.WithGroup("") != h {
		t.Error("WithGroup(\"\") returned a new handler")
	}
	if h.WithAttrs(nil) != h {
		t.Error("WithAttrs(nil) returned a new handler")
	}
}

func TestHandler_ConcurrentDerived(t *testing.T) {
	var buf bytes.Buffer
	root := slog.New(NewHandler(&buf, LevelInfo))
	derived := root.With("goroutine", "derived")

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			root.Info("root", "i", i)
		}()
		go func() {
			defer wg.Done()
			derived.Info("derived", "i", i)
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(buf.String(), "\r\n"), "\n")
	if len(lines) != 100 {
		t.Fatalf("got %d lines, want 100", len(lines))
	}
	for _, l := range lines {
		if !lineRe.MatchString(strings.TrimRight(l, "\r")) {
			t.Errorf("interleaved line: %q", l)
		}
	}
}

// ///////////////////////////////////////////////
// NewLogger / Sink
// ///////////////////////////////////////////////

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appcored.log")
	l, sink, err := NewLogger(Options{Path: path, Level: LevelInfo, MaxSizeMB: 10})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Info("appcored starting", "version", "1.0.0")
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "appcored starting | version=1.0.0") {
		t.Errorf("log file = %q", data)
	}
}

func TestNewLogger_EmptyPath(t *testing.T) {
	if _, _, err := NewLogger(Options{}); err == nil {
		t.Fatal("NewLogger accepted an empty path")
	}
}

func TestNewLogger_Tee(t *testing.T) {
	var tee bytes.Buffer
	l, sink, err := NewLogger(Options{Path: filepath.Join(t.TempDir(), "tee.log"), Level: LevelInfo, MaxSizeMB: 1, Tee: &tee})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer sink.Close()

	l.Info("to both")
	if !strings.Contains(tee.String(), "to both") {
		t.Errorf("tee = %q", tee.String())
	}
}

func TestSink_SetLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "level.log")
	l, sink, err := NewLogger(Options{Path: path, Level: LevelWarn, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	l.Info("hidden")
	sink.SetLevel(LevelDebug)
	if sink.Level() != LevelDebug {
		t.Errorf("Level() = %v, want %v", sink.Level(), LevelDebug)
	}
	l.With("derived", true).Debug("visible")
	sink.Close()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "hidden") {
		t.Error("info line written before the level was lowered")
	}
	if !strings.Contains(string(data), "visible") {
		t.Errorf("derived logger missed the new level: %q", data)
	}
}

func TestSink_Rotate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rotate.log")
	l, sink, err := NewLogger(Options{Path: path, Level: LevelInfo, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer sink.Close()

	l.Info("before rotate")
	if err := sink.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	l.Info("after rotate")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "before rotate") || !strings.Contains(string(data), "after rotate") {
		t.Errorf("current file after rotation = %q", data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) < 2 {
		t.Errorf("no rotated backup next to the log: %d files", len(entries))
	}
}

// ///////////////////////////////////////////////
// ReadTail
// ///////////////////////////////////////////////

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "appcored.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadTail(t *testing.T) {
	tests := []struct {
		name    string
		content string
		n       int
		want    string
	}{
		{"last lines", "l1\nl2\nl3\nl4\nl5\n", 3, "l3\nl4\nl5"},
		{"fewer lines than asked", "l1\nl2\n", 10, "l1\nl2"},
		{"no trailing newline", "l1\nl2\nl3", 2, "l2\nl3"},
		{"crlf", "l1\r\nl2\r\nl3\r\n", 2, "l2\nl3"},
		{"empty", "", 5, ""},
		{"exact count", "a\nb\n", 2, "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadTail(writeLog(t, tt.content), tt.n)
			if err != nil {
				t.Fatalf("ReadTail: %v", err)
			}
			if got != tt.want {
				t.Errorf("ReadTail = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadTail_SpansChunks(t *testing.T) {
	var b strings.Builder
	for i := range 5000 {
		fmt.Fprintf(&b, "2026-01-01T00:00:00.000Z [INFO] heartbeat | n=%d\n", i)
	}
	got, err := ReadTail(writeLog(t, b.String()), 400)
	if err != nil {
		t.Fatalf("ReadTail: %v", err)
	}
	lines := strings.Split(got, "\n")
	if len(lines) != 400 {
		t.Fatalf("got %d lines, want 400", len(lines))
	}
	if !strings.HasSuffix(lines[0], "n=4600") || !strings.HasSuffix(lines[399], "n=4999") {
		t.Errorf("first/last = %q / %q", lines[0], lines[399])
	}
}

func TestReadTail_Errors(t *testing.T) {
	if _, err := ReadTail(filepath.Join(t.TempDir(), "missing.log"), 10); err == nil {
		t.Error("ReadTail of a missing file succeeded")
	}
	if _, err := ReadTail(writeLog(t, "x\n"), 0); err == nil {
		t.Error("ReadTail accepted n = 0")
	}
}
