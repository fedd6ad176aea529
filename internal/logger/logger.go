package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a leveled trading logger backed by zerolog.
type Logger struct {
	zl     zerolog.Logger
	closer io.Closer
	mu     *sync.Mutex
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelTrade   LogLevel = "TRADE"
	LogLevelStatus  LogLevel = "STATUS"
)

// Config selects level, encoding and destination.
type Config struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" default:"console" validate:"oneof=json console"`
	Output     string `yaml:"output" default:"stdout"` // stdout, stderr, or file path
	TimeFormat string `yaml:"time_format"`
}

// New builds a logger from cfg. File outputs are created with their parent directory.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var (
		output io.Writer
		closer io.Closer
	)
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Output), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output, closer = file, file
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = "2006-01-02 15:04:05"
	}
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: timeFormat,
			NoColor:    closer != nil,
		}
	}

	zl := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return &Logger{zl: zl, closer: closer, mu: &sync.Mutex{}}, nil
}

// NewWriter logs JSON lines to w at debug level. Used by tests that inspect output.
func NewWriter(w io.Writer) *Logger {
	return &Logger{zl: zerolog.New(w).With().Timestamp().Logger(), mu: &sync.Mutex{}}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), mu: &sync.Mutex{}}
}

// With returns a child logger carrying key=value on every entry.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{
		zl:     l.zl.With().Interface(key, value).Logger(),
		closer: l.closer,
		mu:     l.mu,
	}
}

// Component tags entries with the emitting component.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	var event *zerolog.Event
	switch level {
	case LogLevelDebug:
		event = l.zl.Debug()
	case LogLevelWarning:
		event = l.zl.Warn()
	case LogLevelError:
		event = l.zl.Error()
	default:
		event = l.zl.Info()
	}
	if level == LogLevelTrade || level == LogLevelStatus {
		event = event.Str("kind", string(level))
	}
	event.Msgf(format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.Log(LogLevelDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Trade logs a trading action
func (l *Logger) Trade(format string, args ...interface{}) {
	l.Log(LogLevelTrade, format, args...)
}

// Status logs market status information
func (l *Logger) Status(format string, args ...interface{}) {
	l.Log(LogLevelStatus, format, args...)
}

// LogError logs error with context
func (l *Logger) LogError(context string, err error) {
	l.zl.Error().Err(err).Msg(context)
}

// LogTradeExecution records a fill with structured fields.
func (l *Logger) LogTradeExecution(action, symbol, side, orderID string, size, price float64) {
	l.zl.Info().
		Str("kind", string(LogLevelTrade)).
		Str("action", action).
		Str("symbol", symbol).
		Str("side", side).
		Str("order_id", orderID).
		Float64("size", size).
		Float64("price", price).
		Msgf("%s %s %s %.6f @ %.4f", action, side, symbol, size, price)
}

// LogPositionClosed records a realized trade.
func (l *Logger) LogPositionClosed(symbol, side, reason string, entry, exit, pnl float64) {
	l.zl.Info().
		Str("kind", string(LogLevelTrade)).
		Str("symbol", symbol).
		Str("side", side).
		Str("reason", reason).
		Float64("entry", entry).
		Float64("exit", exit).
		Float64("pnl", pnl).
		Msgf("closed %s %s (%s): %.4f -> %.4f, pnl %.2f", side, symbol, reason, entry, exit, pnl)
}

// SessionStart writes the session header.
func (l *Logger) SessionStart(symbols []string, interval string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.zl.Info().
		Str("kind", "SESSION").
		Strs("symbols", symbols).
		Str("interval", interval).
		Time("started", time.Now()).
		Msg("RSI MOMENTUM TRADING SESSION STARTED")
}

// Close writes the session footer and closes a file output.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.zl.Info().Str("kind", "SESSION").Msg("RSI MOMENTUM TRADING SESSION ENDED")
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
