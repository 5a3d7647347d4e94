package gologger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

const (
	LevelTrace = slog.LevelDebug - 4
	LevelFatal = slog.LevelError + 4

	FormatJSON = "json"
	FormatText = "text"
)

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

type Options struct {
	Format string
	Level  string
	// Exit is called after a Fatal entry is written. Defaults to os.Exit.
	Exit func(code int)
}

// SlogLogger writes glog entries through a log/slog handler.
type SlogLogger struct {
	logger *slog.Logger
	ctx    context.Context
	exit   func(int)
}

func NewSlogLogger(w io.Writer, opts Options) (*SlogLogger, error) {
	if w == nil {
		w = os.Stderr
	}
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelName,
	}

	var handler slog.Handler
	switch strings.TrimSpace(strings.ToLower(opts.Format)) {
	case "", FormatJSON:
		handler = slog.NewJSONHandler(w, handlerOpts)
	case FormatText:
		handler = slog.NewTextHandler(w, handlerOpts)
	default:
		return nil, fmt.Errorf("gologger: unsupported format %q", opts.Format)
	}

	exit := opts.Exit
	if exit == nil {
		exit = os.Exit
	}
	return &SlogLogger{logger: slog.New(handler), exit: exit}, nil
}

func ParseLevel(raw string) (slog.Level, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "fatal":
		return LevelFatal, nil
	default:
		return slog.LevelInfo, fmt.Errorf("gologger: unknown level %q", raw)
	}
}

func (l *SlogLogger) Trace(msg string, args ...any) { l.log(LevelTrace, msg, args) }
func (l *SlogLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args) }
func (l *SlogLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args) }

func (l *SlogLogger) Fatal(msg string, args ...any) {
	l.log(LevelFatal, msg, args)
	if l != nil && l.exit != nil {
		l.exit(1)
	}
}

func (l *SlogLogger) WithContext(ctx context.Context) glog.Logger {
	if l == nil {
		return glog.Nop()
	}
	next := *l
	next.ctx = ctx
	return &next
}

// Named returns a logger that tags every entry with name.
func (l *SlogLogger) Named(name string) *SlogLogger {
	if l == nil {
		return nil
	}
	next := *l
	if name = strings.TrimSpace(name); name != "" {
		next.logger = l.logger.With("logger", name)
	}
	return &next
}

func (l *SlogLogger) log(level slog.Level, msg string, args []any) {
	if l == nil || l.logger == nil {
		return
	}
	ctx := l.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	l.logger.Log(ctx, level, msg, args...)
}

// Provider hands out named children of a root SlogLogger.
type Provider struct {
	root *SlogLogger
}

func NewProvider(root *SlogLogger) *Provider {
	return &Provider{root: root}
}

func (p *Provider) GetLogger(name string) glog.Logger {
	if p == nil || p.root == nil {
		return glog.Nop()
	}
	return p.root.Named(name)
}

func replaceLevelName(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 || attr.Key != slog.LevelKey {
		return attr
	}
	level, ok := attr.Value.Any().(slog.Level)
	if !ok {
		return attr
	}
	switch level {
	case LevelTrace:
		attr.Value = slog.StringValue("TRACE")
	case LevelFatal:
		attr.Value = slog.StringValue("FATAL")
	}
	return attr
}

var (
	_ glog.Logger         = (*SlogLogger)(nil)
	_ glog.LoggerProvider = (*Provider)(nil)
)
