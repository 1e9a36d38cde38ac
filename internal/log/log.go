package log

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `conf:"level" yaml:"level" json:"level"`
	// Encoding is json or console.
	Encoding string `conf:"encoding" yaml:"encoding" json:"encoding"`
	// Output is stdio or file.
	Output string     `conf:"output" yaml:"output" json:"output"`
	File   FileConfig `conf:"file" yaml:"file" json:"file"`
	Name   string     `conf:"name" yaml:"name" json:"name"`
}

type FileConfig struct {
	Path       string `conf:"path" yaml:"path" json:"path"`
	MaxSize    int    `conf:"max_size" yaml:"max_size" json:"max_size"`
	MaxAge     int    `conf:"max_age" yaml:"max_age" json:"max_age"`
	MaxBackups int    `conf:"max_backups" yaml:"max_backups" json:"max_backups"`
	Compress   bool   `conf:"compress" yaml:"compress" json:"compress"`
}

func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Encoding: "json",
		Output:   "stdio",
		Name:     "tenantguard",
	}
}

// Logger is a context aware zap logger. Hooks derive extra fields from the context of every entry.
type Logger struct {
	zl    *zap.Logger
	level zap.AtomicLevel

	mu    sync.RWMutex
	hooks []Hook
}

// New creates a logger from config.
func New(cfg Config) *Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if cfg.Encoding == "console" {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	var sink zapcore.WriteSyncer
	if cfg.Output == "file" && cfg.File.Path != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize,
			MaxAge:     cfg.File.MaxAge,
			MaxBackups: cfg.File.MaxBackups,
			Compress:   cfg.File.Compress,
		})
	} else {
		sink = zapcore.Lock(os.Stdout)
	}

	return newLogger(zapcore.NewCore(enc, sink, level), level, cfg.Name)
}

func newLogger(core zapcore.Core, level zap.AtomicLevel, name string) *Logger {
	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))
	if name != "" {
		zl = zl.Named(name)
	}

	return &Logger{zl: zl, level: level}
}

// AddHook registers a hook applied to every entry written by this logger.
func (l *Logger) AddHook(h Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.hooks = append(l.hooks, h)
}

func (l *Logger) Sync() error {
	return l.zl.Sync()
}

func (l *Logger) Enabled(level zapcore.Level) bool {
	return l.level.Enabled(level)
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.write(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...Field) {
	l.write(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.write(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...Field) {
	l.write(ctx, zapcore.ErrorLevel, msg, fields)
}

func (l *Logger) write(ctx context.Context, level zapcore.Level, msg string, fields []Field) {
	if !l.level.Enabled(level) {
		return
	}

	l.mu.RLock()
	hooks := l.hooks
	l.mu.RUnlock()

	for _, h := range hooks {
		fields = h.Apply(ctx, msg, fields...)
	}

	if ce := l.zl.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

var global atomic.Pointer[Logger]

func init() {
	global.Store(New(DefaultConfig()))
}

// SetGlobalConfig replaces the global logger, keeping its hooks.
func SetGlobalConfig(cfg Config) {
	SetGlobalLogger(New(cfg))
}

func SetGlobalLogger(l *Logger) {
	prev := global.Load()
	if prev != nil {
		prev.mu.RLock()
		for _, h := range prev.hooks {
			l.AddHook(h)
		}
		prev.mu.RUnlock()
	}

	global.Store(l)
}

func GetGlobalLogger() *Logger {
	return global.Load()
}

func DebugEnabled(ctx context.Context) bool {
	return GetGlobalLogger().Enabled(zapcore.DebugLevel)
}

func Debug(ctx context.Context, msg string, fields ...Field) {
	GetGlobalLogger().Debug(ctx, msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...Field) {
	GetGlobalLogger().Info(ctx, msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...Field) {
	GetGlobalLogger().Warn(ctx, msg, fields...)
}

func Error(ctx context.Context, msg string, fields ...Field) {
	GetGlobalLogger().Error(ctx, msg, fields...)
}
