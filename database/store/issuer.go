package store

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/peer-mapper/trust-indexer/database/orm"
)

// GetIssuer returns the fee-gate bookkeeping of issuer or ErrNotFound.
func (s *Store) GetIssuer(ctx context.Context, issuer string) (*orm.Issuer, error) {
	i := &orm.Issuer{}
	if err := s.db.WithContext(ctx).
		Where("issuer = ?", NormalizeHex(issuer)).
		Take(i).
		Error; err != nil {
		return nil, notFound(err)
	}

	return i, nil
}

// UpsertIssuer overwrites the bookkeeping row of i.Issuer.
func (s *Store) UpsertIssuer(ctx context.Context, i *orm.Issuer) error {
	i.Issuer = NormalizeHex(i.Issuer)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "issuer"}},
			DoUpdates: clause.AssignmentColumns([]string{"attest_count", "fee_paid", "expected_nonce", "updated_at"}),
		}).
		Create(i).
		Error
}

// RecordIssuerSubmission accounts one confirmed delegated attestation:
// the count grows by one, the fee flag latches once paid and the next
// expected nonce becomes nonce+1.
func (s *Store) RecordIssuerSubmission(
	ctx context.Context,
	issuer string,
	nonce *big.Int,
	feePaid bool,
) error {
	issuer = NormalizeHex(issuer)
	return s.db.WithContext(ctx).Transaction(func(dbTx *gorm.DB) error {
		i := &orm.Issuer{Issuer: issuer, AttestCount: "0", ExpectedNonce: "0"}
		err := dbTx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("issuer = ?", issuer).
			Take(i).
			Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		count, ok := new(big.Int).SetString(i.AttestCount, 10)
		if !ok {
			return errors.Errorf("corrupt attest count %q of issuer %s", i.AttestCount, issuer)
		}
		i.AttestCount = count.Add(count, big.NewInt(1)).String()
		i.FeePaid = i.FeePaid || feePaid
		if nonce != nil {
			i.ExpectedNonce = new(big.Int).Add(nonce, big.NewInt(1)).String()
		}

		return dbTx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "issuer"}},
			DoUpdates: clause.AssignmentColumns([]string{"attest_count", "fee_paid", "expected_nonce", "updated_at"}),
		}).Create(i).Error
	})
}
