// Package logger provides the structured logger used throughout
// rocketcore: the connection core, the connection manager, and the demo
// rocketd binary all log through a *Logger rather than the standard
// library's log package.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/outervation/rocketcore/internal/config"
)

// LogFields is a set of structured key/value pairs attached to a single log
// line. string, error, int, int64, uint32, uint64, bool and time.Duration
// values are passed to zerolog's matching typed field; any other value is
// formatted with fmt.Sprintf("%v", ...) and logged as a string.
type LogFields map[string]interface{}

// Logger wraps a zerolog.Logger, translating the LogFields call shape used
// across this codebase into zerolog's event builder API.
type Logger struct {
	zl zerolog.Logger
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// New builds a Logger from cfg. Target "stdout"/"stderr" write to the
// corresponding stream; anything else is treated as a file path, opened in
// append mode. When the destination is a TTY, output is rendered through
// zerolog.ConsoleWriter (wrapped in go-colorable so ANSI sequences work on
// every platform with a console writer); otherwise it is newline-delimited
// JSON, zerolog's native encoding.
func New(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		cfg = &config.LoggingConfig{Level: config.LogLevelInfo, Target: "stderr"}
	}

	out, err := openTarget(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	var w io.Writer = out
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		w = zerolog.ConsoleWriter{Out: colorable.NewColorable(f), TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(w).With().Timestamp().Logger().Level(toZerologLevel(cfg.Level))
	return &Logger{zl: zl}, nil
}

// NewDiscard returns a Logger that drops every line, used by tests that do
// not want log output on the record.
func NewDiscard() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func openTarget(target string) (io.Writer, error) {
	switch target {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	default:
		f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log target %q: %w", target, err)
		}
		return f, nil
	}
}

func toZerologLevel(l config.LogLevel) zerolog.Level {
	switch l {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) event(e *zerolog.Event, msg string, fields LogFields) {
	for k, v := range fields {
		switch tv := v.(type) {
		case string:
			e = e.Str(k, tv)
		case error:
			e = e.AnErr(k, tv)
		case int:
			e = e.Int(k, tv)
		case int64:
			e = e.Int64(k, tv)
		case uint32:
			e = e.Uint32(k, tv)
		case uint64:
			e = e.Uint64(k, tv)
		case bool:
			e = e.Bool(k, tv)
		case time.Duration:
			e = e.Dur(k, tv)
		default:
			e = e.Str(k, fmt.Sprintf("%v", tv))
		}
	}
	e.Msg(msg)
}

// Debug logs a trace-level line: frame dispatch, demand bookkeeping, and
// other per-frame detail.
func (l *Logger) Debug(msg string, fields LogFields) { l.event(l.zl.Debug(), msg, fields) }

// Info logs a normal lifecycle event (connection accepted, drain started).
func (l *Logger) Info(msg string, fields LogFields) { l.event(l.zl.Info(), msg, fields) }

// Warn logs a protocol violation or other recoverable anomaly.
func (l *Logger) Warn(msg string, fields LogFields) { l.event(l.zl.Warn(), msg, fields) }

// Error logs a transport failure or other failure that required tearing
// down the connection.
func (l *Logger) Error(msg string, fields LogFields) { l.event(l.zl.Error(), msg, fields) }

// With returns a child Logger with fields attached to every subsequent line,
// so a caller can bind a field such as a correlation ID once instead of
// passing it into every call site.
func (l *Logger) With(fields LogFields) *Logger {
	ctx := l.zl.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zl: ctx.Logger()}
}
