package db

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// zapWriter adapts zap.Logger to gorm's logger.Writer.
type zapWriter struct {
	logger *zap.Logger
}

func (w *zapWriter) Printf(format string, args ...interface{}) {
	w.logger.Sugar().Infof(format, args...)
}

// NewGormLogger routes gorm's SQL logging through zap.
func NewGormLogger(zl *zap.Logger, level string, slow time.Duration) logger.Interface {
	if zl == nil {
		return logger.Default.LogMode(logger.Silent)
	}
	if slow <= 0 {
		slow = 500 * time.Millisecond
	}
	return logger.New(
		&zapWriter{logger: zl.Named("gorm")},
		logger.Config{
			SlowThreshold:             slow,
			LogLevel:                  gormLevel(level),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

func gormLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info", "debug":
		return logger.Info
	default:
		return logger.Warn
	}
}
