package orm

import "time"

// QrChallenge is a gorm table definition represents an outstanding
// handshake challenge. ExpiresAt is unix millis.
type QrChallenge struct {
	ID        string `gorm:"primaryKey;size:64"`
	IssuedFor string `gorm:"NOT NULL;size:256"`
	Challenge string `gorm:"NOT NULL;size:128"`
	ExpiresAt int64  `gorm:"NOT NULL;index:idx_qr_challenge_expires_at"`
	Used      bool   `gorm:"NOT NULL"`
	CreatedAt time.Time
}
