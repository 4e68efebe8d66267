package store

import (
	"context"

	"gorm.io/plugin/dbresolver"

	"github.com/peer-mapper/trust-indexer/database/orm"
)

// CreateQrChallenge persists a freshly issued challenge.
func (s *Store) CreateQrChallenge(ctx context.Context, c *orm.QrChallenge) error {
	return s.db.WithContext(ctx).Create(c).Error
}

// GetQrChallenge reads the challenge from the master so a challenge
// issued a moment ago is always visible.
func (s *Store) GetQrChallenge(ctx context.Context, id string) (*orm.QrChallenge, error) {
	c := &orm.QrChallenge{}
	if err := s.db.WithContext(ctx).
		Clauses(dbresolver.Write).
		Where("id = ?", id).
		Take(c).
		Error; err != nil {
		return nil, notFound(err)
	}

	return c, nil
}

// MarkQrChallengeUsed flips used from false to true. It returns true to
// exactly one caller per challenge.
func (s *Store) MarkQrChallengeUsed(ctx context.Context, id string) (bool, error) {
	u := s.db.WithContext(ctx).
		Model(&orm.QrChallenge{}).
		Where("id = ? AND used = ?", id, false).
		Update("used", true)
	if err := u.Error; err != nil {
		return false, err
	}

	return u.RowsAffected == 1, nil
}

// DeleteExpiredQrChallenges garbage-collects challenges that expired
// before nowMillis.
func (s *Store) DeleteExpiredQrChallenges(ctx context.Context, nowMillis int64) (int64, error) {
	d := s.db.WithContext(ctx).
		Where("expires_at <= ?", nowMillis).
		Delete(&orm.QrChallenge{})
	if err := d.Error; err != nil {
		return 0, err
	}

	return d.RowsAffected, nil
}
