// Package handshake implements the QR challenge/response exchange that
// discloses the issuers two parties both trust.
package handshake

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/photon-storage/go-common/log"

	"github.com/peer-mapper/trust-indexer/chain"
	"github.com/peer-mapper/trust-indexer/database/orm"
	"github.com/peer-mapper/trust-indexer/database/store"
	"github.com/peer-mapper/trust-indexer/overlap"
)

const (
	// ChallengePrefix starts every challenge text.
	ChallengePrefix = "peer-mapper:"
	// DefaultChallengeTTL is how long a challenge can be answered.
	DefaultChallengeTTL = 90 * time.Second

	challengeEntropy = 16
)

var (
	ErrChallengeNotFound = errors.New("challenge_not_found")
	ErrChallengeUsed     = errors.New("challenge_used")
	ErrChallengeExpired  = errors.New("challenge_expired")
	ErrChallengeMismatch = errors.New("challenge_mismatch")
	ErrInvalidSignature  = errors.New("invalid_signature")
)

// Store persists challenges.
type Store interface {
	CreateQrChallenge(ctx context.Context, c *orm.QrChallenge) error
	GetQrChallenge(ctx context.Context, id string) (*orm.QrChallenge, error)
	MarkQrChallengeUsed(ctx context.Context, id string) (bool, error)
	DeleteExpiredQrChallenges(ctx context.Context, nowMillis int64) (int64, error)
}

// Overlaps computes overlaps from an explicit reader.
type Overlaps interface {
	ComputeWith(ctx context.Context, reader overlap.Reader, viewer string, target string) ([]overlap.Result, error)
}

// Config tunes challenge lifetime.
type Config struct {
	ChallengeTTL time.Duration `yaml:"challenge_ttl" envconfig:"challenge_ttl"`
	GCInterval   time.Duration `yaml:"gc_interval" envconfig:"gc_interval"`
}

// Challenge is an issued challenge.
type Challenge struct {
	ChallengeID string `json:"challengeId"`
	Challenge   string `json:"challenge"`
	ExpiresAt   int64  `json:"expiresAt"`
	IssuedFor   string `json:"issuedFor"`
}

// Party is one side of a verification: who claims to be subjectID and
// the personal_sign signature of the challenge by address.
type Party struct {
	SubjectID string `json:"subjectId" binding:"required,max=256"`
	Address   string `json:"address" binding:"required,eth_addr"`
	Signature string `json:"signature" binding:"required,eth_sig"`
}

// VerifyRequest answers a challenge.
type VerifyRequest struct {
	ChallengeID string `json:"challengeId" binding:"required"`
	Challenge   string `json:"challenge" binding:"required"`
	Viewer      Party  `json:"viewer" binding:"required"`
	Target      Party  `json:"target" binding:"required"`
}

// VerifyResult is the disclosed overlap of an accepted verification.
type VerifyResult struct {
	ChallengeID string           `json:"challengeId"`
	ExpiresAt   int64            `json:"expiresAt"`
	Overlaps    []overlap.Result `json:"overlaps"`
}

// Handler issues and verifies challenges.
type Handler struct {
	store    Store
	reader   overlap.Reader
	overlaps Overlaps
	ttl      time.Duration
	gc       time.Duration
	now      func() time.Time
}

// New returns a handler. reader is the store handle overlaps are read
// from at verification time.
func New(s Store, reader overlap.Reader, overlaps Overlaps, cfg Config) *Handler {
	ttl := cfg.ChallengeTTL
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}

	return &Handler{
		store:    s,
		reader:   reader,
		overlaps: overlaps,
		ttl:      ttl,
		gc:       cfg.GCInterval,
		now:      time.Now,
	}
}

// Issue creates a challenge for the subject issuedFor.
func (h *Handler) Issue(ctx context.Context, issuedFor string) (*Challenge, error) {
	entropy := make([]byte, challengeEntropy)
	if _, err := rand.Read(entropy); err != nil {
		return nil, errors.Wrap(err, "read challenge entropy")
	}

	c := &orm.QrChallenge{
		ID:        uuid.NewString(),
		IssuedFor: issuedFor,
		Challenge: ChallengePrefix + hex.EncodeToString(entropy),
		ExpiresAt: h.now().Add(h.ttl).UnixMilli(),
	}
	if err := h.store.CreateQrChallenge(ctx, c); err != nil {
		return nil, errors.Wrap(err, "persist challenge")
	}

	return &Challenge{
		ChallengeID: c.ID,
		Challenge:   c.Challenge,
		ExpiresAt:   c.ExpiresAt,
		IssuedFor:   c.IssuedFor,
	}, nil
}

// Verify checks req against the stored challenge, consumes it and
// returns the overlap of viewer and target. Rejections are one of the
// Err* categories.
func (h *Handler) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResult, error) {
	c, err := h.store.GetQrChallenge(ctx, req.ChallengeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(c.Challenge), []byte(req.Challenge)) != 1 {
		return nil, ErrChallengeNotFound
	}

	if c.Used {
		return nil, ErrChallengeUsed
	}

	if h.now().UnixMilli() >= c.ExpiresAt {
		return nil, ErrChallengeExpired
	}

	if c.IssuedFor != req.Target.SubjectID {
		return nil, ErrChallengeMismatch
	}

	if !verifyParty(req.Viewer, c.Challenge) || !verifyParty(req.Target, c.Challenge) {
		return nil, ErrInvalidSignature
	}

	ok, err := h.store.MarkQrChallengeUsed(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrChallengeUsed
	}

	overlaps, err := h.overlaps.ComputeWith(ctx, h.reader, req.Viewer.SubjectID, req.Target.SubjectID)
	if err != nil {
		return nil, errors.Wrap(err, "compute overlap")
	}

	log.Debug("challenge verified",
		"challenge", c.ID,
		"viewer", req.Viewer.SubjectID,
		"target", req.Target.SubjectID,
		"overlaps", len(overlaps),
	)

	return &VerifyResult{
		ChallengeID: c.ID,
		ExpiresAt:   c.ExpiresAt,
		Overlaps:    overlaps,
	}, nil
}

func verifyParty(p Party, challenge string) bool {
	if !common.IsHexAddress(p.Address) {
		return false
	}

	sig, err := chain.DecodeSignature(p.Signature)
	if err != nil {
		return false
	}

	return chain.VerifyPersonalSignature(common.HexToAddress(p.Address), challenge, sig)
}
