package database

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/peer-mapper/trust-indexer/database/mysql"
	"github.com/peer-mapper/trust-indexer/database/orm"
	"github.com/peer-mapper/trust-indexer/database/sqlite"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config selects the backing relational store.
type Config struct {
	Driver string        `yaml:"driver"`
	MySQL  mysql.Config  `yaml:"mysql"`
	SQLite sqlite.Config `yaml:"sqlite"`
}

// Open connects to the configured store and migrates the schema.
func Open(cfg Config) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case DriverMySQL, "":
		db, err = mysql.NewMySQLDB(cfg.MySQL)
	case DriverSQLite:
		db, err = sqlite.NewSQLiteDB(cfg.SQLite)
	default:
		return nil, errors.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates every table owned by the canonical store.
func Migrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(
		&orm.Attestation{},
		&orm.Issuer{},
		&orm.QrChallenge{},
		&orm.ChainStatus{},
	), "migrate schema")
}
