// Package logging is the console reporter shared by the CLI, the supervisor
// and the server.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// ParseLevel accepts the usual level names, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "critical", "fatal":
		return LevelCritical, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger writes INFO, WARNING and SUCCESS lines to stdout and ERROR lines to
// stderr, each with a colored label when the destination is a terminal.
type Logger struct {
	out   *log.Logger
	err   *log.Logger
	level Level

	debugLabel   string
	infoLabel    string
	warnLabel    string
	errorLabel   string
	successLabel string
}

// New builds a Logger. Lines below level are dropped, except SUCCESS which is
// always printed unless level is above INFO.
func New(stdout, stderr io.Writer, level Level) *Logger {
	outR := lipgloss.NewRenderer(stdout)
	errR := lipgloss.NewRenderer(stderr)
	label := func(r *lipgloss.Renderer, color, text string) string {
		return r.NewStyle().Bold(true).Foreground(lipgloss.Color(color)).Render(text)
	}
	return &Logger{
		out:          log.New(stdout, "", 0),
		err:          log.New(stderr, "", 0),
		level:        level,
		debugLabel:   label(outR, "8", "DEBUG:"),
		infoLabel:    label(outR, "12", "INFO:"),
		warnLabel:    label(outR, "11", "WARNING:"),
		errorLabel:   label(errR, "9", "ERROR:"),
		successLabel: label(outR, "10", "SUCCESS:"),
	}
}

// Default logs to the process stdout and stderr at INFO.
func Default() *Logger { return New(os.Stdout, os.Stderr, LevelInfo) }

// Discard drops everything.
func Discard() *Logger { return New(io.Discard, io.Discard, LevelCritical+1) }

func (l *Logger) Level() Level { return l.level }

func (l *Logger) Debugf(format string, args ...any) {
	if l.level <= LevelDebug {
		l.out.Printf("%s %s", l.debugLabel, fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Infof(format string, args ...any) {
	if l.level <= LevelInfo {
		l.out.Printf("%s %s", l.infoLabel, fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Warnf(format string, args ...any) {
	if l.level <= LevelWarn {
		l.out.Printf("%s %s", l.warnLabel, fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Errorf(format string, args ...any) {
	if l.level <= LevelError {
		l.err.Printf("%s %s", l.errorLabel, fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Successf(format string, args ...any) {
	if l.level <= LevelInfo {
		l.out.Printf("%s %s", l.successLabel, fmt.Sprintf(format, args...))
	}
}
