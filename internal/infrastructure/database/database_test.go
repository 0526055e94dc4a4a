package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"economy/internal/config"
)

func TestOpen_SQLiteCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "economy.db")

	db, err := Open(config.DatabaseConfig{Driver: "H2", Path: path, LogLevel: "silent"}, nil)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Ping())
	require.NoError(t, sqlDB.Close())

	assert.FileExists(t, path)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestDialectorFor_SelectsDriver(t *testing.T) {
	cases := map[string]string{
		"mysql":      "mysql",
		"MARIADB":    "mysql",
		"postgresql": "postgres",
		"sqlite":     "sqlite",
	}
	for driver, want := range cases {
		d, err := dialectorFor(config.DatabaseConfig{Driver: driver, Path: filepath.Join(t.TempDir(), "x.db")})
		require.NoError(t, err, driver)
		assert.Equal(t, want, d.Name(), driver)
	}
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, logLevel("silent"))
	assert.Equal(t, logger.Info, logLevel("INFO"))
	assert.Equal(t, logger.Warn, logLevel(""))
}

func TestDialectorFor_DefaultPortPerDialect(t *testing.T) {
	d, err := dialectorFor(config.DatabaseConfig{Driver: "postgresql", Host: "db"})
	require.NoError(t, err)
	assert.Contains(t, d.(*postgres.Dialector).DSN, "port=5432")

	d, err = dialectorFor(config.DatabaseConfig{Driver: "mysql", Host: "db"})
	require.NoError(t, err)
	assert.Contains(t, d.(*mysql.Dialector).DSN, "@tcp(db:3306)/")

	d, err = dialectorFor(config.DatabaseConfig{Driver: "postgresql", Host: "db", Port: 6543})
	require.NoError(t, err)
	assert.Contains(t, d.(*postgres.Dialector).DSN, "port=6543")
}

func TestOpen_GormLogsThroughZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	db, err := Open(config.DatabaseConfig{
		Driver:   "sqlite",
		Path:     filepath.Join(t.TempDir(), "economy.db"),
		LogLevel: "warn",
	}, zap.New(core))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	require.Error(t, db.Exec("SELECT * FROM missing_table").Error)

	failed := logs.FilterMessage("SQL 执行失败").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.ErrorLevel, failed[0].Level)
	assert.Contains(t, failed[0].ContextMap()["sql"], "missing_table")
}

func TestZapLogger_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := newZapLogger(zap.New(core), logger.Warn)
	l.slowThreshold = time.Millisecond
	ctx := context.Background()

	sql := func() (string, int64) { return "SELECT 1", 1 }

	// 记录不存在不算错误，Warn 级别下普通 SQL 不记录
	l.Trace(ctx, time.Now(), sql, gorm.ErrRecordNotFound)
	l.Trace(ctx, time.Now(), sql, nil)
	assert.Zero(t, logs.Len())

	l.Trace(ctx, time.Now().Add(-time.Second), sql, nil)
	assert.Equal(t, 1, logs.FilterMessage("慢查询").Len())

	silent := l.LogMode(logger.Silent)
	silent.Trace(ctx, time.Now().Add(-time.Second), sql, nil)
	silent.Warn(ctx, "ignored %d", 1)
	assert.Equal(t, 1, logs.Len())

	l.LogMode(logger.Info).Info(ctx, "migrating %s", "economy_account")
	assert.Equal(t, 1, logs.FilterMessage("migrating economy_account").Len())
}
