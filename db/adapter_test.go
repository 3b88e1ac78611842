package db

import (
	"path/filepath"
	"testing"

	"github.com/connectsphere/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

func TestOpen_Memory(t *testing.T) {
	gdb, err := Open(config.DatabaseConfig{Mode: ModeMemory}, nil)
	require.NoError(t, err)

	require.NoError(t, gdb.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY)").Error)
	require.NoError(t, gdb.Exec("INSERT INTO t (id) VALUES (1)").Error)
	var n int64
	require.NoError(t, gdb.Raw("SELECT COUNT(*) FROM t").Scan(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestOpen_SQLiteFileCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.db")
	gdb, err := Open(config.DatabaseConfig{Mode: ModeSQLite, SQLitePath: path}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, gdb.Exec("SELECT 1").Error)
	assert.FileExists(t, path)
}

func TestOpen_UnknownMode(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Mode: "oracle"}, nil)
	assert.ErrorContains(t, err, "unknown mode")
}

func TestGormLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, gormLevel("silent"))
	assert.Equal(t, logger.Info, gormLevel("DEBUG"))
	assert.Equal(t, logger.Warn, gormLevel(""))
}
