package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/smukkama/energy-reporting/pkg/config"
)

// New builds the process logger. JSON lines always go to a rotated file under cfg.Dir;
// outside production a console core is teed in as well.
func New(cfg config.LogConfig, service string) (*zap.Logger, error) {
	if err := os.MkdirAll(cfg.Dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, service+".log"),
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(logFile),
		zap.InfoLevel,
	)

	core := fileCore
	if !cfg.Production {
		consoleEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		consoleCore := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), zap.DebugLevel)
		core = zapcore.NewTee(fileCore, consoleCore)
	}

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).Named(service), nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
