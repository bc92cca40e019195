package logger

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"capsule-go/internal/config"
)

var current atomic.Pointer[zap.Logger]

func init() {
	current.Store(zap.NewNop())
}

// Init 初始化日志系统。
// Console output goes to stderr so stdout stays free for command results; when cfg.Filename is set a rotating JSON file sink is added.
func Init(cfg config.LogConfig) (*zap.Logger, error) {
	level := getLogLevel(cfg.Level)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), level),
	}

	if cfg.Filename != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Filename), 0o755); err != nil {
			return nil, err
		}
		// 配置日志轮转
		writer := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(writer), level))
	}

	log := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	current.Store(log)
	zap.ReplaceGlobals(log)
	return log, nil
}

// Set replaces the package logger; tests use it with zaptest/observer loggers.
func Set(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	current.Store(log)
}

// L returns the package logger without the helper caller skip.
func L() *zap.Logger {
	return current.Load().WithOptions(zap.AddCallerSkip(-1))
}

func getLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func Debug(msg string, fields ...zap.Field) {
	current.Load().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	current.Load().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	current.Load().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	current.Load().Error(msg, fields...)
}

// Sync 同步日志到磁盘
func Sync() error {
	return current.Load().Sync()
}
