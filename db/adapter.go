package db

import (
	"fmt"

	"github.com/connectsphere/server/config"
	dbmysql "github.com/connectsphere/server/db/mysql"
	dbpostgres "github.com/connectsphere/server/db/postgres"
	dbsqlite "github.com/connectsphere/server/db/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ModeMemory   = "memory"
	ModeSQLite   = "sqlite"
	ModeMySQL    = "mysql"
	ModePostgres = "postgres"
)

// Open returns a *gorm.DB for the configured database mode. A nil logger
// silences SQL logging. Driver errors are translated so unique violations
// surface as gorm.ErrDuplicatedKey on every backend.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	gcfg := &gorm.Config{
		Logger:         NewGormLogger(logger, cfg.LogLevel, cfg.SlowQuery),
		TranslateError: true,
	}

	switch cfg.Mode {
	case ModeMemory:
		return dbsqlite.OpenMemory(gcfg)
	case ModeSQLite:
		return dbsqlite.Open(cfg.SQLitePath, gcfg)
	case ModeMySQL:
		return dbmysql.Open(cfg.MySQLDSN, cfg.MaxOpen, cfg.MaxIdle, cfg.MaxLife, gcfg)
	case ModePostgres:
		return dbpostgres.Open(cfg.PostgresDSN, cfg.MaxOpen, cfg.MaxIdle, cfg.MaxLife, gcfg)
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}
