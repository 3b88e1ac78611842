package mysql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Open creates a GORM *DB backed by MySQL and verifies it with a ping.
// parseTime and utf8mb4 are added to dsn when missing so created_at columns
// scan into time.Time and usernames round-trip unchanged.
func Open(dsn string, maxOpen, maxIdle int, maxLife time.Duration, cfg *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:               withParams(dsn),
		DefaultStringSize: 191,
	}), cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(maxLife)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return db, nil
}

func withParams(dsn string) string {
	var extra []string
	if !strings.Contains(dsn, "parseTime=") {
		extra = append(extra, "parseTime=true")
	}
	if !strings.Contains(dsn, "charset=") {
		extra = append(extra, "charset=utf8mb4")
	}
	if len(extra) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(extra, "&")
}
