package orm

import (
	"time"
)

// ChainStatus represents the listener resume cursor of gorm table.
type ChainStatus struct {
	ID        uint64 `gorm:"primary_key"`
	NextBlock uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName change default table name
func (c ChainStatus) TableName() string {
	return "chain_status"
}
