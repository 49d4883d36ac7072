package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"evtrack/internal/logger"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// Options 数据库选项
type Options struct {
	Dsn    string
	Prefix string
}

// Open 打开 SQLite 数据库并迁移表结构
func Open(opts Options, l logger.Logger) (*gorm.DB, error) {
	if opts.Dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is empty")
	}
	if dir := filepath.Dir(opts.Dsn); dir != "." && !isMemory(opts.Dsn) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(opts.Dsn), &gorm.Config{
		Logger: NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: opts.Prefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", opts.Dsn, err)
	}

	// SQLite 单写者，避免 database is locked
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&TrackedEvent{}, &KVEntry{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isMemory(dsn string) bool {
	return dsn == ":memory:" || filepath.Base(dsn) == ":memory:"
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
