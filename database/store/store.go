// Package store is the canonical store of attestation, issuer and
// handshake challenge state. It is the only package issuing queries.
package store

import (
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ErrNotFound is returned by point reads when no row matches.
var ErrNotFound = errors.New("record not found")

// Store wraps the gorm handle shared by the listener and the API.
type Store struct {
	db *gorm.DB
}

// New returns a store over an already migrated database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle to binaries that need to close it.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// NormalizeHex lower-cases and trims a hex identifier (address or uid)
// so equal identifiers always compare equal.
func NormalizeHex(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	return err
}
