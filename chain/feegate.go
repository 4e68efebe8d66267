package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// DelegatedPayload is the attestation payload tuple of attestDelegated.
type DelegatedPayload struct {
	Recipient      common.Address
	RefUID         [32]byte
	Revocable      bool
	ExpirationTime uint64
	CubidId        string
	TrustLevel     uint8
	Human          bool
	Circle         [32]byte
	IssuedAt       uint64
	Expiry         uint64
}

// Signature is the split (v, r, s) tuple of attestDelegated.
type Signature struct {
	V uint8
	R [32]byte
	S [32]byte
}

// FeeGate binds the fee-gating contract.
type FeeGate struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewFeeGate binds the fee gate deployed at address.
func NewFeeGate(address common.Address, backend bind.ContractBackend) *FeeGate {
	return &FeeGate{
		address:  address,
		contract: bind.NewBoundContract(address, FeeGateABI, backend, backend, backend),
	}
}

// Address returns the fee gate address, the typed data verifying
// contract.
func (f *FeeGate) Address() common.Address {
	return f.address
}

// IssuerNonce reads the next delegated nonce of issuer.
func (f *FeeGate) IssuerNonce(ctx context.Context, issuer common.Address) (*big.Int, error) {
	return callBig(ctx, f.contract, "issuerNonce", issuer)
}

// AttestCount reads how many attestations issuer relayed so far.
func (f *FeeGate) AttestCount(ctx context.Context, issuer common.Address) (*big.Int, error) {
	return callBig(ctx, f.contract, "attestCount", issuer)
}

// FeeThreshold reads the attestation count at which the lifetime fee
// is due.
func (f *FeeGate) FeeThreshold(ctx context.Context) (*big.Int, error) {
	return callBig(ctx, f.contract, "FEE_THRESHOLD")
}

// LifetimeFee reads the one-off fee in wei.
func (f *FeeGate) LifetimeFee(ctx context.Context) (*big.Int, error) {
	return callBig(ctx, f.contract, "LIFETIME_FEE")
}

// HasPaidFee reads whether issuer already paid the lifetime fee.
func (f *FeeGate) HasPaidFee(ctx context.Context, issuer common.Address) (bool, error) {
	out, err := call(ctx, f.contract, "hasPaidFee", issuer)
	if err != nil {
		return false, err
	}

	paid, ok := abi.ConvertType(out, new(bool)).(*bool)
	if !ok {
		return false, errors.New("hasPaidFee returned an unexpected type")
	}

	return *paid, nil
}

// LastUID reads the uid the fee gate recorded as the latest attestation
// of issuer about subjectID. A zero hash means none.
func (f *FeeGate) LastUID(ctx context.Context, issuer common.Address, subjectID string) (common.Hash, error) {
	out, err := call(ctx, f.contract, "lastUID", issuer, subjectID)
	if err != nil {
		return common.Hash{}, err
	}

	uid, ok := abi.ConvertType(out, new([32]byte)).(*[32]byte)
	if !ok {
		return common.Hash{}, errors.New("lastUID returned an unexpected type")
	}

	return *uid, nil
}

// AttestDelegated submits a signed delegated attestation paying value.
func (f *FeeGate) AttestDelegated(
	opts *bind.TransactOpts,
	payload DelegatedPayload,
	issuer common.Address,
	nonce *big.Int,
	deadline uint64,
	sig Signature,
) (*types.Transaction, error) {
	tx, err := f.contract.Transact(opts, "attestDelegated", payload, issuer, nonce, deadline, sig)
	if err != nil {
		return nil, errors.Wrap(err, "transact attestDelegated")
	}

	return tx, nil
}

func call(
	ctx context.Context,
	contract *bind.BoundContract,
	method string,
	params ...interface{},
) (interface{}, error) {
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, errors.Wrapf(err, "call %s", method)
	}
	if len(out) != 1 {
		return nil, errors.Errorf("%s returned %d values", method, len(out))
	}

	return out[0], nil
}

func callBig(
	ctx context.Context,
	contract *bind.BoundContract,
	method string,
	params ...interface{},
) (*big.Int, error) {
	out, err := call(ctx, contract, method, params...)
	if err != nil {
		return nil, err
	}

	v, ok := abi.ConvertType(out, new(*big.Int)).(**big.Int)
	if !ok || *v == nil {
		return nil, errors.Errorf("%s returned an unexpected type", method)
	}

	return *v, nil
}
