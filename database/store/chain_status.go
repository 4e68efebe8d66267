package store

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/peer-mapper/trust-indexer/database/orm"
)

const chainStatusID = 1

// ChainCursor returns the next block the listener should scan and
// whether a cursor was ever saved.
func (s *Store) ChainCursor(ctx context.Context) (uint64, bool, error) {
	status := &orm.ChainStatus{}
	err := s.db.WithContext(ctx).Where("id = ?", chainStatusID).Take(status).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	return status.NextBlock, true, nil
}

// SaveChainCursor stores next as the block to resume from.
func (s *Store) SaveChainCursor(ctx context.Context, next uint64) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"next_block", "updated_at"}),
		}).
		Create(&orm.ChainStatus{ID: chainStatusID, NextBlock: next}).
		Error
}
