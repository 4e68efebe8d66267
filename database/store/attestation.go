package store

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/peer-mapper/trust-indexer/database/orm"
)

var (
	errInsertRaced = errors.New("attestation slot inserted concurrently")

	slotColumns   = []clause.Column{{Name: "issuer"}, {Name: "subject_id"}}
	updateColumns = []string{
		"trust_level",
		"human",
		"circle",
		"issued_at",
		"expiry",
		"uid",
		"block_time",
		"updated_at",
	}
	zeroCircle = make([]byte, 32)
)

// UpsertAttestation writes record if it wins the conflict policy and
// reports whether it was applied. With a non-empty anchorUID the record
// is applied iff its uid equals the anchor, regardless of block time.
// Without an anchor the latest-wins order of Supersedes decides.
func (s *Store) UpsertAttestation(
	ctx context.Context,
	record *orm.Attestation,
	anchorUID string,
) (bool, error) {
	normalizeAttestation(record)

	if anchor := NormalizeHex(anchorUID); anchor != "" {
		if record.UID != anchor {
			return false, nil
		}

		return true, s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   slotColumns,
				DoUpdates: clause.AssignmentColumns(updateColumns),
			}).
			Create(record).
			Error
	}

	for attempt := 0; ; attempt++ {
		applied, err := s.upsertLatest(ctx, record)
		if errors.Is(err, errInsertRaced) && attempt == 0 {
			continue
		}
		if errors.Is(err, errInsertRaced) {
			return false, nil
		}

		return applied, err
	}
}

func (s *Store) upsertLatest(ctx context.Context, record *orm.Attestation) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(dbTx *gorm.DB) error {
		existing := &orm.Attestation{}
		err := dbTx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("issuer = ? AND subject_id = ?", record.Issuer, record.SubjectID).
			Take(existing).
			Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			ins := dbTx.Clauses(clause.OnConflict{DoNothing: true}).Create(record)
			if ins.Error != nil {
				return ins.Error
			}
			if ins.RowsAffected != 1 {
				return errInsertRaced
			}

			applied = true
			return nil

		case err != nil:
			return err
		}

		if !Supersedes(
			Version{BlockTime: existing.BlockTime, UID: existing.UID},
			Version{BlockTime: record.BlockTime, UID: record.UID},
		) {
			return nil
		}

		applied = true
		return dbTx.Model(&orm.Attestation{}).
			Where("issuer = ? AND subject_id = ?", record.Issuer, record.SubjectID).
			Updates(map[string]interface{}{
				"trust_level": record.TrustLevel,
				"human":       record.Human,
				"circle":      record.Circle,
				"issued_at":   record.IssuedAt,
				"expiry":      record.Expiry,
				"uid":         record.UID,
				"block_time":  record.BlockTime,
			}).Error
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

// MarkRevoked deletes the slot only while it still holds uid, so a
// stale revocation never removes a newer attestation.
func (s *Store) MarkRevoked(
	ctx context.Context,
	issuer string,
	subjectID string,
	uid string,
) (bool, error) {
	d := s.db.WithContext(ctx).
		Where("issuer = ? AND subject_id = ? AND uid = ?",
			NormalizeHex(issuer), subjectID, NormalizeHex(uid)).
		Delete(&orm.Attestation{})
	if err := d.Error; err != nil {
		return false, err
	}

	return d.RowsAffected > 0, nil
}

// DeleteByUID removes the attestation carrying uid, if any.
func (s *Store) DeleteByUID(ctx context.Context, uid string) (bool, error) {
	d := s.db.WithContext(ctx).
		Where("uid = ?", NormalizeHex(uid)).
		Delete(&orm.Attestation{})
	if err := d.Error; err != nil {
		return false, err
	}

	return d.RowsAffected > 0, nil
}

// GetAttestation returns the slot of (issuer, subjectID) or ErrNotFound.
func (s *Store) GetAttestation(
	ctx context.Context,
	issuer string,
	subjectID string,
) (*orm.Attestation, error) {
	a := &orm.Attestation{}
	if err := s.db.WithContext(ctx).
		Where("issuer = ? AND subject_id = ?", NormalizeHex(issuer), subjectID).
		Take(a).
		Error; err != nil {
		return nil, notFound(err)
	}

	return a, nil
}

// ListAttestationsForSubject returns every attestation about subjectID.
func (s *Store) ListAttestationsForSubject(
	ctx context.Context,
	subjectID string,
) ([]*orm.Attestation, error) {
	as := make([]*orm.Attestation, 0)
	if err := s.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("block_time desc").
		Find(&as).
		Error; err != nil {
		return nil, err
	}

	return as, nil
}

// ListAttestationsByIssuer returns every attestation made by issuer.
func (s *Store) ListAttestationsByIssuer(
	ctx context.Context,
	issuer string,
) ([]*orm.Attestation, error) {
	as := make([]*orm.Attestation, 0)
	if err := s.db.WithContext(ctx).
		Where("issuer = ?", NormalizeHex(issuer)).
		Order("block_time desc").
		Find(&as).
		Error; err != nil {
		return nil, err
	}

	return as, nil
}

func normalizeAttestation(a *orm.Attestation) {
	a.Issuer = NormalizeHex(a.Issuer)
	a.UID = NormalizeHex(a.UID)
	if len(a.Circle) == 0 || bytes.Equal(a.Circle, zeroCircle) {
		a.Circle = nil
	}
}
