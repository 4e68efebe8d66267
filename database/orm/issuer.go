package orm

import "time"

// Issuer is a gorm table definition represents the fee-gate bookkeeping
// of one issuer. Counters are decimal strings to keep the full range of
// on-chain uint256 values.
type Issuer struct {
	Issuer        string `gorm:"primaryKey;size:42"`
	AttestCount   string `gorm:"NOT NULL;size:78;default:0"`
	FeePaid       bool
	ExpectedNonce string `gorm:"NOT NULL;size:78;default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
