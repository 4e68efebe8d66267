package indexer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/photon-storage/go-common/log"

	"github.com/peer-mapper/trust-indexer/chain"
	"github.com/peer-mapper/trust-indexer/database/orm"
)

func (l *Listener) processAttested(ctx context.Context, ev *chain.AttestationEvent) (bool, error) {
	if ev.Schema != l.cfg.SchemaUID {
		return false, nil
	}

	record, err := chain.Retry(ctx, l.cfg.Retry, "getAttestation",
		func(ctx context.Context) (*chain.Attestation, error) {
			return l.registry.GetAttestation(ctx, ev.UID)
		})
	if err != nil {
		return false, errors.Wrap(err, "read registry attestation")
	}

	payload, err := DecodePayload(record.Data)
	if err != nil {
		return false, err
	}

	issuer := record.Attester
	if issuer == (common.Address{}) {
		issuer = ev.Attester
	}

	blockTime, err := chain.Retry(ctx, l.cfg.Retry, "eth_getBlockByNumber",
		func(ctx context.Context) (uint64, error) {
			return l.node.BlockTime(ctx, ev.BlockNumber)
		})
	if err != nil {
		return false, errors.Wrap(err, "read block time")
	}

	anchor := l.anchor(ctx, issuer, payload.SubjectID)

	applied, err := l.store.UpsertAttestation(ctx, &orm.Attestation{
		Issuer:     issuer.Hex(),
		SubjectID:  payload.SubjectID,
		TrustLevel: payload.TrustLevel,
		Human:      payload.Human,
		Circle:     payload.Circle[:],
		IssuedAt:   payload.IssuedAt,
		Expiry:     payload.Expiry,
		UID:        ev.UID.Hex(),
		BlockTime:  blockTime,
	}, anchor)
	if err != nil {
		return false, errors.Wrap(err, "upsert attestation")
	}

	log.Debug("processed attestation",
		"uid", ev.UID.Hex(),
		"issuer", issuer.Hex(),
		"subject", payload.SubjectID,
		"applied", applied,
	)

	return applied, nil
}

// anchor returns the fee gate's latest uid for the slot, or "" when no
// anchor applies. Lookup failures degrade to latest-wins ordering.
func (l *Listener) anchor(ctx context.Context, issuer common.Address, subjectID string) string {
	if l.anchors == nil {
		return ""
	}

	uid, err := chain.Retry(ctx, l.cfg.Retry, "lastUID",
		func(ctx context.Context) (common.Hash, error) {
			return l.anchors.LastUID(ctx, issuer, subjectID)
		})
	if err != nil {
		l.anchorFallbacks.Add(1)
		log.Warn("anchor lookup failed, falling back to latest-wins ordering",
			"issuer", issuer.Hex(),
			"subject", subjectID,
			"fallbacks", l.anchorFallbacks.Load(),
			"error", err,
		)
		return ""
	}

	if chain.IsZeroHash(uid) {
		return ""
	}

	return uid.Hex()
}

func (l *Listener) processRevoked(ctx context.Context, ev *chain.AttestationEvent) (bool, error) {
	if ev.Schema != l.cfg.SchemaUID {
		return false, nil
	}

	removed, err := l.store.DeleteByUID(ctx, ev.UID.Hex())
	if err != nil {
		return false, errors.Wrap(err, "delete revoked attestation")
	}

	log.Debug("processed revocation", "uid", ev.UID.Hex(), "removed", removed)
	return removed, nil
}
