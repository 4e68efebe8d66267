package orm

import "time"

// Attestation is a gorm table definition represents the latest known
// state of one issuer's attestation about one subject.
type Attestation struct {
	Issuer     string `gorm:"primaryKey;size:42"`
	SubjectID  string `gorm:"primaryKey;size:256;index:idx_attestation_subject"`
	TrustLevel uint8
	Human      bool
	Circle     []byte `gorm:"size:32"`
	IssuedAt   uint64
	Expiry     uint64
	UID        string `gorm:"column:uid;NOT NULL;size:66;index:idx_attestation_uid"`
	BlockTime  uint64 `gorm:"NOT NULL"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName change default table name
func (Attestation) TableName() string {
	return "attestations_latest"
}

// Active reports whether the attestation is not expired at now (unix
// seconds). Zero expiry never expires.
func (a *Attestation) Active(now uint64) bool {
	return a.Expiry == 0 || now <= a.Expiry
}

// Freshness returns the seconds elapsed since the block that produced
// the current state, floored at zero.
func (a *Attestation) Freshness(now uint64) uint64 {
	if now <= a.BlockTime {
		return 0
	}

	return now - a.BlockTime
}
