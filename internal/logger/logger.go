package logger

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how verbosely the service logs. When File is
// set, output goes to a rotated file instead of stdout.
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Env        string
}

func New(opts Options) (*zap.Logger, error) {
	level := ParseLevel(opts.Level)

	if opts.File == "" {
		cfg := zap.NewProductionConfig()
		if opts.Env == "development" {
			cfg = zap.NewDevelopmentConfig()
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
		cfg.EncoderConfig = encoderConfig(cfg.EncoderConfig)
		return cfg.Build()
	}

	if opts.MaxSizeMB == 0 {
		opts.MaxSizeMB = 100
	}
	if opts.MaxBackups == 0 {
		opts.MaxBackups = 3
	}
	if opts.MaxAgeDays == 0 {
		opts.MaxAgeDays = 28
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}

	encoder := zapcore.NewJSONEncoder(encoderConfig(zap.NewProductionEncoderConfig()))
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(rotator), level),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zapcore.ErrorLevel),
	)
	return zap.New(core, zap.AddCaller()), nil
}

func encoderConfig(ec zapcore.EncoderConfig) zapcore.EncoderConfig {
	ec.TimeKey = "timestamp"
	ec.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339Nano))
	}
	ec.CallerKey = "caller"
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	ec.LevelKey = "level"
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	ec.MessageKey = "message"
	return ec
}

func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
