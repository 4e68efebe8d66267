// Package relay prepares EIP-712 delegated attestations for issuers to
// sign and submits the signed result through the fee gate.
package relay

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/photon-storage/go-common/log"

	"github.com/peer-mapper/trust-indexer/chain"
)

const (
	DefaultDeadline = 5 * time.Minute

	StatusSuccess  = "success"
	StatusReverted = "reverted"
)

var (
	// ErrSignerMismatch is returned when local verification is enabled
	// and the signature does not recover to the issuer.
	ErrSignerMismatch = errors.New("signature does not match issuer")
	// ErrDeadlinePassed is returned for a message whose deadline is over.
	ErrDeadlinePassed = errors.New("deadline passed")
)

// FeeGate is the contract surface used by the service.
type FeeGate interface {
	Address() common.Address
	IssuerNonce(ctx context.Context, issuer common.Address) (*big.Int, error)
	AttestCount(ctx context.Context, issuer common.Address) (*big.Int, error)
	HasPaidFee(ctx context.Context, issuer common.Address) (bool, error)
	FeeThreshold(ctx context.Context) (*big.Int, error)
	LifetimeFee(ctx context.Context) (*big.Int, error)
	AttestDelegated(
		opts *bind.TransactOpts,
		payload chain.DelegatedPayload,
		issuer common.Address,
		nonce *big.Int,
		deadline uint64,
		sig chain.Signature,
	) (*types.Transaction, error)
}

// Node reads the chain id and waits for receipts.
type Node interface {
	ChainID(ctx context.Context) (*big.Int, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// IssuerRecorder is told about every confirmed submission.
type IssuerRecorder interface {
	RecordIssuerSubmission(ctx context.Context, issuer string, nonce *big.Int, feePaid bool) error
}

// Config tunes the service.
type Config struct {
	Deadline         time.Duration     `yaml:"deadline" envconfig:"deadline"`
	ReceiptTimeout   time.Duration     `yaml:"receipt_timeout" envconfig:"receipt_timeout"`
	VerifySignatures bool              `yaml:"verify_signatures" envconfig:"verify_signatures"`
	Retry            chain.RetryPolicy `yaml:"retry"`
}

// PrepareInput is an attestation to be signed. Nil optional fields take
// their defaults: revocable, never expiring, issued now.
type PrepareInput struct {
	Issuer         common.Address
	Recipient      common.Address
	SubjectID      string
	TrustLevel     uint8
	Human          bool
	Circle         [32]byte
	RefUID         [32]byte
	Revocable      *bool
	ExpirationTime *uint64
	IssuedAt       *uint64
	Expiry         *uint64
}

// Fee describes the lifetime fee due with the next attestation.
type Fee struct {
	Required bool   `json:"required"`
	Amount   string `json:"amount"`
}

// Meta carries the fee gate state the message was built against.
type Meta struct {
	Nonce     string `json:"nonce"`
	NextCount string `json:"nextCount"`
	Fee       Fee    `json:"fee"`
}

// PrepareResult is the typed data to sign plus its metadata.
type PrepareResult struct {
	TypedData *TypedData `json:"typedData"`
	Meta      Meta       `json:"meta"`
}

// RelayInput is a signed message ready for submission.
type RelayInput struct {
	Message   Message
	Signature []byte
	Value     *big.Int
}

// RelayResult reports the mined transaction.
type RelayResult struct {
	TxHash      string `json:"txHash"`
	Status      string `json:"status"`
	BlockNumber string `json:"blockNumber,omitempty"`
	GasUsed     string `json:"gasUsed,omitempty"`
}

// Service prepares and relays delegated attestations.
type Service struct {
	cfg        Config
	node       Node
	gate       FeeGate
	transactor *bind.TransactOpts
	recorder   IssuerRecorder
	now        func() time.Time
}

// New returns a service sending transactions with transactor. recorder
// may be nil.
func New(
	cfg Config,
	node Node,
	gate FeeGate,
	transactor *bind.TransactOpts,
	recorder IssuerRecorder,
) *Service {
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}

	return &Service{
		cfg:        cfg,
		node:       node,
		gate:       gate,
		transactor: transactor,
		recorder:   recorder,
		now:        time.Now,
	}
}

// Prepare reads the issuer's fee gate state and builds the message to
// sign.
func (s *Service) Prepare(ctx context.Context, in *PrepareInput) (*PrepareResult, error) {
	chainID, err := chain.Retry(ctx, s.cfg.Retry, "eth_chainId", s.node.ChainID)
	if err != nil {
		return nil, errors.Wrap(err, "read chain id")
	}
	nonce, err := chain.Retry(ctx, s.cfg.Retry, "issuerNonce",
		func(ctx context.Context) (*big.Int, error) {
			return s.gate.IssuerNonce(ctx, in.Issuer)
		})
	if err != nil {
		return nil, errors.Wrap(err, "read issuer nonce")
	}
	count, err := chain.Retry(ctx, s.cfg.Retry, "attestCount",
		func(ctx context.Context) (*big.Int, error) {
			return s.gate.AttestCount(ctx, in.Issuer)
		})
	if err != nil {
		return nil, errors.Wrap(err, "read attest count")
	}
	paid, err := chain.Retry(ctx, s.cfg.Retry, "hasPaidFee",
		func(ctx context.Context) (bool, error) {
			return s.gate.HasPaidFee(ctx, in.Issuer)
		})
	if err != nil {
		return nil, errors.Wrap(err, "read fee status")
	}
	threshold, err := chain.Retry(ctx, s.cfg.Retry, "FEE_THRESHOLD", s.gate.FeeThreshold)
	if err != nil {
		return nil, errors.Wrap(err, "read fee threshold")
	}
	lifetimeFee, err := chain.Retry(ctx, s.cfg.Retry, "LIFETIME_FEE", s.gate.LifetimeFee)
	if err != nil {
		return nil, errors.Wrap(err, "read lifetime fee")
	}

	now := uint64(s.now().Unix())
	m := &Message{
		Issuer:     in.Issuer,
		Recipient:  in.Recipient,
		RefUID:     in.RefUID,
		Revocable:  true,
		SubjectID:  in.SubjectID,
		TrustLevel: in.TrustLevel,
		Human:      in.Human,
		Circle:     in.Circle,
		IssuedAt:   now,
		Nonce:      nonce,
		Deadline:   now + uint64(s.cfg.Deadline/time.Second),
	}
	if in.Revocable != nil {
		m.Revocable = *in.Revocable
	}
	if in.ExpirationTime != nil {
		m.ExpirationTime = *in.ExpirationTime
	}
	if in.IssuedAt != nil {
		m.IssuedAt = *in.IssuedAt
	}
	if in.Expiry != nil {
		m.Expiry = *in.Expiry
	}

	nextCount := new(big.Int).Add(count, big.NewInt(1))
	fee := Fee{Required: FeeRequired(paid, nextCount, threshold), Amount: "0"}
	if fee.Required {
		fee.Amount = lifetimeFee.String()
	}

	return &PrepareResult{
		TypedData: BuildTypedData(chainID, s.gate.Address(), m),
		Meta: Meta{
			Nonce:     nonce.String(),
			NextCount: nextCount.String(),
			Fee:       fee,
		},
	}, nil
}

// FeeRequired reports whether the attestation numbered nextCount pays
// the lifetime fee.
func FeeRequired(paid bool, nextCount *big.Int, threshold *big.Int) bool {
	return !paid && nextCount.Cmp(threshold) == 0
}

// Relay submits a signed message paying in.Value and waits for its
// receipt.
func (s *Service) Relay(ctx context.Context, in *RelayInput) (*RelayResult, error) {
	m := in.Message
	if m.Nonce == nil {
		return nil, errors.New("missing nonce")
	}
	if uint64(s.now().Unix()) > m.Deadline {
		return nil, ErrDeadlinePassed
	}

	sig, err := chain.SplitSignature(in.Signature)
	if err != nil {
		return nil, err
	}

	if s.cfg.VerifySignatures {
		if err := s.verify(ctx, &m, in.Signature); err != nil {
			return nil, err
		}
	}

	value := in.Value
	if value == nil {
		value = new(big.Int)
	}

	opts := *s.transactor
	opts.Context = ctx
	opts.Value = value
	tx, err := s.gate.AttestDelegated(&opts, m.Payload(), m.Issuer, m.Nonce, m.Deadline, sig)
	if err != nil {
		return nil, err
	}

	log.Info("relayed delegated attestation",
		"tx", tx.Hash().Hex(),
		"issuer", m.Issuer.Hex(),
		"nonce", m.Nonce.String(),
		"value", value.String(),
	)

	waitCtx := ctx
	if s.cfg.ReceiptTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.cfg.ReceiptTimeout)
		defer cancel()
	}
	receipt, err := s.node.WaitMined(waitCtx, tx)
	if err != nil {
		return nil, errors.Wrapf(err, "wait receipt of %s", tx.Hash().Hex())
	}

	res := &RelayResult{
		TxHash:  tx.Hash().Hex(),
		Status:  StatusReverted,
		GasUsed: new(big.Int).SetUint64(receipt.GasUsed).String(),
	}
	if receipt.BlockNumber != nil {
		res.BlockNumber = receipt.BlockNumber.String()
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		res.Status = StatusSuccess
		s.record(ctx, m.Issuer, m.Nonce, value.Sign() > 0)
	}

	return res, nil
}

func (s *Service) verify(ctx context.Context, m *Message, sig []byte) error {
	chainID, err := chain.Retry(ctx, s.cfg.Retry, "eth_chainId", s.node.ChainID)
	if err != nil {
		return errors.Wrap(err, "read chain id")
	}

	digest, err := Digest(BuildTypedData(chainID, s.gate.Address(), m))
	if err != nil {
		return err
	}

	signer, err := chain.RecoverSigner(digest, sig)
	if err != nil {
		return err
	}
	if signer != m.Issuer {
		return ErrSignerMismatch
	}

	return nil
}

func (s *Service) record(ctx context.Context, issuer common.Address, nonce *big.Int, feePaid bool) {
	if s.recorder == nil {
		return
	}

	if err := s.recorder.RecordIssuerSubmission(ctx, issuer.Hex(), nonce, feePaid); err != nil {
		log.Error("record issuer submission failed",
			"issuer", issuer.Hex(),
			"nonce", nonce.String(),
			"error", err,
		)
	}
}
