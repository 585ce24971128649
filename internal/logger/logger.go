// Package logger provides the daemon's slog handler, its rotating log file
// and the tail reader behind `appctl logs`.
//
// Every record is one line:
//
//	2006-01-02T15:04:05.000Z [LEVEL] message | key=value, key2="two words"
//
// Values that would break the line apart are quoted. Besides the standard
// slog levels there is TRACE (-8) for per-dispatch detail and FAIL (12) for
// errors the daemon cannot recover from.
package logger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ///////////////////////////////////////////////
// Levels
// ///////////////////////////////////////////////

const (
	LevelTrace slog.Level = -8
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelFail  slog.Level = 12
)

var levelNames = []struct {
	level slog.Level
	name  string
}{
	{LevelTrace, "trace"},
	{LevelDebug, "debug"},
	{LevelInfo, "info"},
	{LevelWarn, "warn"},
	{LevelError, "error"},
	{LevelFail, "fail"},
}

// LevelName returns the lower-case name of the named level at or above l.
func LevelName(l slog.Level) string {
	for _, n := range levelNames {
		if l <= n.level {
			return n.name
		}
	}
	return "fail"
}

// LookupLevel maps a case-insensitive level name to its level.
func LookupLevel(s string) (slog.Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, n := range levelNames {
		if n.name == s {
			return n.level, true
		}
	}
	return LevelInfo, false
}

// ParseLevel is [LookupLevel] with unknown names mapped to info.
func ParseLevel(s string) slog.Level {
	l, _ := LookupLevel(s)
	return l
}

// ///////////////////////////////////////////////
// Handler
// ///////////////////////////////////////////////

// lineEnding is CRLF on Windows, LF elsewhere.
var lineEnding = "\n"

func init() {
	if runtime.GOOS == "windows" {
		lineEnding = "\r\n"
	}
}

var bufPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// Handler is a slog.Handler writing the one-line format described in the
// package doc. Handlers derived with WithAttrs or WithGroup share the
// writer lock of their parent.
type Handler struct {
	w     io.Writer
	mu    *sync.Mutex
	level slog.Leveler

	// prefix holds WithAttrs attributes already rendered.
	prefix string
	group  string
}

// NewHandler creates a Handler that writes to w, dropping records below
// level. Pass a *slog.LevelVar to change the level at runtime.
func NewHandler(w io.Writer, level slog.Leveler) *Handler {
	return &Handler{w: w, level: level, mu: &sync.Mutex{}}
}

// Enabled reports whether level passes the handler's minimum.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle writes r as a single line.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	buf.WriteString(r.Time.UTC().Format("2006-01-02T15:04:05.000Z"))
	buf.WriteString(" [")
	buf.WriteString(strings.ToUpper(LevelName(r.Level)))
	buf.WriteString("] ")
	buf.WriteString(singleLine(r.Message))

	attrs := buf.Len()
	sep := func() {
		if buf.Len() == attrs {
			buf.WriteString(" | ")
		} else {
			buf.WriteString(", ")
		}
	}
	if h.prefix != "" {
		sep()
		buf.WriteString(h.prefix)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(buf, h.group, a, sep)
		return true
	})
	buf.WriteString(lineEnding)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

// appendAttr writes a as key=value, flattening groups into dotted keys and
// skipping empty attributes.
func appendAttr(buf *bytes.Buffer, prefix string, a slog.Attr, sep func()) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			appendAttr(buf, key, ga, sep)
		}
		return
	}
	sep()
	buf.WriteString(key)
	buf.WriteByte('=')
	buf.WriteString(quoteValue(a.Value.String()))
}

// quoteValue quotes v if it is empty or holds a separator or control
// character, so every record stays on one parseable line.
func quoteValue(v string) string {
	if v == "" || strings.ContainsAny(v, " ,|=\"\r\n\t") {
		return strconv.Quote(v)
	}
	return v
}

// singleLine escapes line breaks in a message.
func singleLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(s)
}

// WithAttrs returns a Handler that adds attrs to every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var buf bytes.Buffer
	buf.WriteString(h.prefix)
	sep := func() {
		if buf.Len() > 0 {
			buf.WriteString(", ")
		}
	}
	for _, a := range attrs {
		appendAttr(&buf, h.group, a, sep)
	}
	h2 := *h
	h2.prefix = buf.String()
	return &h2
}

// WithGroup returns a Handler that prefixes later attribute keys with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	if h.group != "" {
		h2.group = h.group + "." + name
	} else {
		h2.group = name
	}
	return &h2
}

// ///////////////////////////////////////////////
// Rotating File
// ///////////////////////////////////////////////

const (
	// keptBackups is how many rotated files lumberjack keeps.
	keptBackups = 3
	// keptDays is the age after which rotated files are removed.
	keptDays = 28
)

// Options configures [NewLogger].
type Options struct {
	// Path is the log file. Rotated files are kept next to it.
	Path string
	// Level is the initial minimum level.
	Level slog.Level
	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int
	// Tee, when set, receives every line as well, e.g. os.Stderr when the
	// daemon runs in the foreground.
	Tee io.Writer
}

// Sink owns the rotating log file behind a logger built by [NewLogger].
type Sink struct {
	lj    *lumberjack.Logger
	level *slog.LevelVar
}

// SetLevel changes the minimum level of every logger sharing this sink.
func (s *Sink) SetLevel(l slog.Level) { s.level.Set(l) }

// Level returns the current minimum level.
func (s *Sink) Level() slog.Level { return s.level.Level() }

// Rotate moves the current file aside with a timestamp and opens a fresh
// one.
func (s *Sink) Rotate() error {
	if err := s.lj.Rotate(); err != nil {
		return fmt.Errorf("rotate log: %w", err)
	}
	return nil
}

// Close closes the log file.
func (s *Sink) Close() error { return s.lj.Close() }

// NewLogger creates a slog.Logger writing to a rotating file at opts.Path.
// The Sink must be closed on shutdown.
func NewLogger(opts Options) (*slog.Logger, *Sink, error) {
	if opts.Path == "" {
		return nil, nil, errors.New("new logger: empty log path")
	}
	lj := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: keptBackups,
		MaxAge:     keptDays,
	}
	level := new(slog.LevelVar)
	level.Set(opts.Level)

	var w io.Writer = lj
	if opts.Tee != nil {
		w = io.MultiWriter(lj, opts.Tee)
	}
	return slog.New(NewHandler(w, level)), &Sink{lj: lj, level: level}, nil
}

// Trace logs msg at LevelTrace.
func Trace(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelTrace, msg, args...)
}

// Fail logs msg at LevelFail.
func Fail(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelFail, msg, args...)
}

// ///////////////////////////////////////////////
// ReadTail
// ///////////////////////////////////////////////

// tailChunk is how far ReadTail steps back per read.
const tailChunk = 8 << 10

// ReadTail returns the last n lines of the file at path, joined by "\n"
// without a trailing newline. It reads backwards from the end, so the cost
// depends on n rather than the file size. CRLF endings are trimmed.
func ReadTail(path string, n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("read tail: line count must be positive, got %d", n)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat log file: %w", err)
	}

	end := info.Size()
	var tail []byte
	for end > 0 {
		// A trailing newline ends the last line rather than starting a new one.
		if bytes.Count(bytes.TrimRight(tail, "\r\n"), []byte{'\n'}) >= n {
			break
		}
		size := min(int64(tailChunk), end)
		end -= size
		chunk := make([]byte, size)
		if _, err := f.ReadAt(chunk, end); err != nil {
			return "", fmt.Errorf("reading log file: %w", err)
		}
		tail = append(chunk, tail...)
	}

	text := strings.TrimRight(string(tail), "\r\n")
	if text == "" {
		return "", nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return strings.Join(lines, "\n"), nil
}
