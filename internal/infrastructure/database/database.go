package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"economy/internal/config"
)

// Open 按配置的驱动打开连接池，不做迁移（见 AccountRepository.EnsureSchema）
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newZapLogger(log, logLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", cfg.Dialect(), err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: get sql.DB: %w", err)
	}

	// 连接池配置
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("数据库连接成功", zap.String("driver", cfg.Driver), zap.String("dialect", cfg.Dialect()))
	return db, nil
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Dialect() {
	case "mysql":
		// clientFoundRows：值未变化的 upsert 也计入影响行数，批次行数校验依赖这一点
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true",
			cfg.User,
			cfg.Password,
			cfg.Host,
			portOr(cfg.Port, 3306),
			cfg.Database,
		)
		return mysql.Open(dsn), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			cfg.Host,
			portOr(cfg.Port, 5432),
			cfg.User,
			cfg.Password,
			cfg.Database,
		)
		return postgres.Open(dsn), nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = "data/economy.db"
		}
		if path != ":memory:" && !strings.HasPrefix(path, "file:") {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("database: create %s: %w", filepath.Dir(path), err)
			}
		}
		if !strings.Contains(path, "?") {
			path += "?_busy_timeout=5000"
		}
		return sqlite.Open(path), nil
	default:
		return nil, fmt.Errorf("%w: unknown database driver %q", config.ErrInvalidConfig, cfg.Driver)
	}
}

// portOr 未配置端口时使用方言的默认端口
func portOr(port, fallback int) int {
	if port > 0 {
		return port
	}
	return fallback
}

func logLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
