package sqlite

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config represents the sqlite config used by local deployments.
type Config struct {
	Path     string `yaml:"path"`
	LogLevel int    `yaml:"log_level" envconfig:"log_level"`
}

// NewSQLiteDB opens the sqlite database file. SQLite allows a single
// writer, so the pool is pinned to one connection.
func NewSQLiteDB(cfg Config) (*gorm.DB, error) {
	if cfg.Path == "" {
		return nil, errors.New("missing sqlite path")
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	return open(dsn, cfg.LogLevel)
}

// NewMemoryDB opens a private in-memory database identified by name.
func NewMemoryDB(name string) (*gorm.DB, error) {
	return open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name), int(logger.Silent))
}

func open(dsn string, logLevel int) (*gorm.DB, error) {
	if logLevel == 0 {
		logLevel = int(logger.Warn)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.LogLevel(logLevel)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}
