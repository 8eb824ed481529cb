package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

const consoleTimeFormat = "15:04:05.000"

// consoleHandler writes one human-readable line per record:
//
//	15:04:05.000 INFO  archive.domain.start domain=example.com (service.go:88)
//
// Attributes bound with WithAttrs are rendered once, when bound.
type consoleHandler struct {
	w      io.Writer
	level  slog.Leveler
	source bool
	color  bool

	group string // open groups, each followed by "."
	bound []byte

	mu *sync.Mutex
}

func newConsoleHandler(w io.Writer, opts *slog.HandlerOptions, color bool) *consoleHandler {
	h := &consoleHandler{w: w, level: slog.LevelInfo, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.source = opts.AddSource
	}
	return h
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	buf = h.paint(buf, ansiDim, ts.Format(consoleTimeFormat))
	buf = append(buf, ' ')
	label, code := levelStyle(r.Level)
	buf = h.paint(buf, code, label)
	buf = append(buf, ' ')
	buf = h.paint(buf, ansiBright, r.Message)

	buf = append(buf, h.bound...)
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, h.group, a)
		return true
	})

	if h.source && r.PC != 0 {
		f, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if f.File != "" {
			buf = append(buf, ' ')
			buf = h.paint(buf, ansiDim, "("+filepath.Base(f.File)+":"+strconv.Itoa(f.Line)+")")
		}
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	cp := *h
	cp.bound = slices.Clip(h.bound)
	for _, a := range attrs {
		cp.bound = cp.appendAttr(cp.bound, cp.group, a)
	}
	return &cp
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.group = h.group + name + "."
	return &cp
}

func (h *consoleHandler) appendAttr(buf []byte, group string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		if len(attrs) == 0 {
			return buf
		}
		if a.Key != "" {
			group += a.Key + "."
		}
		for _, ga := range attrs {
			buf = h.appendAttr(buf, group, ga)
		}
		return buf
	}
	if a.Key == "" {
		return buf
	}

	key := a.Key
	if alias, ok := keyAliases[key]; ok {
		key = alias
	}
	text, code := styleValue(a.Key, a.Value)

	buf = append(buf, ' ')
	buf = append(buf, group...)
	buf = append(buf, key...)
	buf = append(buf, '=')
	return h.paint(buf, code, text)
}

func (h *consoleHandler) paint(buf []byte, code, s string) []byte {
	if !h.color || code == "" {
		return append(buf, s...)
	}
	buf = append(buf, code...)
	buf = append(buf, s...)
	return append(buf, ansiReset...)
}

func levelStyle(l slog.Level) (label, code string) {
	switch {
	case l >= slog.LevelError:
		return "ERROR", ansiRed
	case l >= slog.LevelWarn:
		return "WARN ", ansiYellow
	case l >= slog.LevelInfo:
		return "INFO ", ansiGreen
	default:
		return "DEBUG", ansiMagenta
	}
}

// keyAliases shortens keys whose unit moves into the value.
var keyAliases = map[string]string{
	"status_class": "class",
	"duration_ms":  "duration",
}

type valueStyle func(slog.Value) (text, code string)

var keyStyles = map[string]valueStyle{
	"domain":       tinted(ansiCyan),
	"owner":        tinted(ansiCyan),
	"jid":          tinted(ansiCyan),
	"with":         tinted(ansiCyan),
	"query_id":     tinted(ansiDim),
	"session_id":   tinted(ansiDim),
	"method":       tinted(ansiBright),
	"err":          tinted(ansiRed),
	"fault":        tinted(ansiRed),
	"direction":    styleDirection,
	"status":       styleStatus,
	"status_class": styleStatusClass,
	"duration_ms":  styleDuration,
	"result":       styleResult,
}

func styleValue(key string, v slog.Value) (string, string) {
	if style, ok := keyStyles[key]; ok {
		return style(v)
	}
	return quote(valueString(v)), ""
}

func tinted(code string) valueStyle {
	return func(v slog.Value) (string, string) { return quote(valueString(v)), code }
}

func styleDirection(v slog.Value) (string, string) {
	switch s := valueString(v); s {
	case "in":
		return s, ansiGreen
	case "out":
		return s, ansiBlue
	default:
		return quote(s), ""
	}
}

func styleStatus(v slog.Value) (string, string) {
	n, ok := valueInt(v)
	if !ok {
		return quote(valueString(v)), ""
	}
	return strconv.FormatInt(n, 10), classColor(statusClass(int(n)))
}

func styleStatusClass(v slog.Value) (string, string) {
	s := valueString(v)
	return quote(s), classColor(s)
}

func classColor(class string) string {
	switch class {
	case "2xx":
		return ansiGreen
	case "3xx":
		return ansiCyan
	case "4xx":
		return ansiYellow
	case "5xx":
		return ansiRed
	default:
		return ""
	}
}

func styleDuration(v slog.Value) (string, string) {
	ms, ok := valueInt(v)
	if !ok {
		return quote(valueString(v)), ""
	}
	text := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return text, ansiRed
	case ms >= 250:
		return text, ansiYellow
	default:
		return text, ansiGreen
	}
}

func styleResult(v slog.Value) (string, string) {
	s := strings.ToLower(valueString(v))
	switch s {
	case "ok", "success", "completed", "upgrade":
		return s, ansiGreen
	case "fail", "error", "fault", "unavailable", "server_error":
		return s, ansiRed
	default:
		return quote(s), ansiYellow
	}
}

func valueString(v slog.Value) string {
	if v.Kind() == slog.KindTime {
		return v.Time().Format(time.RFC3339)
	}
	return v.String()
}

func valueInt(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func quote(s string) string {
	if s == "" || strings.IndexFunc(s, func(r rune) bool { return unicode.IsSpace(r) || r == '"' || r == '=' }) >= 0 {
		return strconv.Quote(s)
	}
	return s
}
