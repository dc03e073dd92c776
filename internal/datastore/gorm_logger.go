package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/homeops/opswatch/internal/errors"
	"github.com/homeops/opswatch/internal/logger"
)

// gormLogger routes gorm's messages into the application logger.
type gormLogger struct {
	log           logger.Logger
	level         gorm_logger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger adapts log to gorm's logger interface.
func NewGormLogger(log logger.Logger, level gorm_logger.LogLevel, slow time.Duration) gorm_logger.Interface {
	return &gormLogger{log: log.Module("gorm"), level: level, slowThreshold: slow}
}

func (g *gormLogger) LogMode(level gorm_logger.LogLevel) gorm_logger.Interface {
	c := *g
	c.level = level
	return &c
}

func (g *gormLogger) Info(_ context.Context, msg string, args ...any) {
	if g.level >= gorm_logger.Info {
		g.log.Info(msg, logger.Any("args", args))
	}
}

func (g *gormLogger) Warn(_ context.Context, msg string, args ...any) {
	if g.level >= gorm_logger.Warn {
		g.log.Warn(msg, logger.Any("args", args))
	}
}

func (g *gormLogger) Error(_ context.Context, msg string, args ...any) {
	if g.level >= gorm_logger.Error {
		g.log.Error(msg, logger.Any("args", args))
	}
}

func (g *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gorm_logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && g.level >= gorm_logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		g.log.Error("query failed",
			logger.String("sql", sql),
			logger.Int64("rows", rows),
			logger.Duration("elapsed", elapsed),
			logger.Error(err))
	case g.slowThreshold > 0 && elapsed > g.slowThreshold && g.level >= gorm_logger.Warn:
		sql, rows := fc()
		g.log.Warn("slow query",
			logger.String("sql", sql),
			logger.Int64("rows", rows),
			logger.Duration("elapsed", elapsed))
	case g.level >= gorm_logger.Info:
		sql, rows := fc()
		g.log.Debug("query",
			logger.String("sql", sql),
			logger.Int64("rows", rows),
			logger.Duration("elapsed", elapsed))
	}
}
