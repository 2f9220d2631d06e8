package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for file outputs.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// SlogConfig controls the launcher's own structured logger.
type SlogConfig struct {
	Level      Level     `mapstructure:"level"`
	Format     Format    `mapstructure:"format"`
	Color      ColorMode `mapstructure:"color"`
	TimeStamps bool      `mapstructure:"timestamps"`
	Source     bool      `mapstructure:"source"`
}

// FileConfig describes rotating file outputs. For the backend, when
// StdoutPath/StderrPath are empty and Dir is set, files are
// Dir/<name>.stdout.log and Dir/<name>.stderr.log.
type FileConfig struct {
	Dir        string `mapstructure:"dir"`
	StdoutPath string `mapstructure:"stdout"`
	StderrPath string `mapstructure:"stderr"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type Config struct {
	Slog SlogConfig `mapstructure:"slog"`
	File FileConfig `mapstructure:"file"`
}

// NewSlogger builds a logger writing to stderr and, when File.Dir is set,
// also to Dir/<app>.log.
func (c Config) NewSlogger(app string) *slog.Logger {
	var w io.Writer = os.Stderr
	color := c.Slog.Color == ColorAlways || (c.Slog.Color == ColorAuto && isTerminal(os.Stderr))
	if fw := c.AppWriter(app); fw != nil {
		w = io.MultiWriter(os.Stderr, fw)
		color = false
	}
	return slog.New(c.Slog.handler(w, color))
}

// NewSloggerTo builds a logger on an explicit writer without color.
func (c Config) NewSloggerTo(w io.Writer) *slog.Logger {
	return slog.New(c.Slog.handler(w, false))
}

func (s SlogConfig) handler(w io.Writer, color bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: s.Level.slog(), AddSource: s.Source}
	if !s.TimeStamps {
		opts.ReplaceAttr = dropTime
	}
	if s.Format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	if color {
		return NewColorTextHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

func (l Level) slog() slog.Level {
	switch Level(strings.ToLower(string(l))) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ProcessWriters returns rotating writers for a child's stdout and stderr.
// Either may be nil when neither Dir nor an explicit path is configured.
func (c Config) ProcessWriters(name string) (io.WriteCloser, io.WriteCloser, error) {
	f := c.File
	stdout, stderr := f.StdoutPath, f.StderrPath
	if stdout == "" && f.Dir != "" {
		stdout = filepath.Join(f.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && f.Dir != "" {
		stderr = filepath.Join(f.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	if f.Dir != "" {
		if err := os.MkdirAll(f.Dir, 0o750); err != nil {
			return nil, nil, err
		}
	}
	var outW, errW io.WriteCloser
	if stdout != "" {
		outW = f.rotating(stdout)
	}
	if stderr != "" {
		errW = f.rotating(stderr)
	}
	return outW, errW, nil
}

// AppWriter returns a rotating Dir/<app>.log writer, or nil without Dir.
func (c Config) AppWriter(app string) io.WriteCloser {
	if c.File.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(c.File.Dir, 0o750); err != nil {
		return nil
	}
	return c.File.rotating(filepath.Join(c.File.Dir, app+".log"))
}

func (f FileConfig) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

func isTerminal(f *os.File) bool { return term.IsTerminal(int(f.Fd())) }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
