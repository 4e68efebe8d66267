package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// ErrUnexpectedLog is returned for logs that are not a well formed
// Attested or Revoked event.
var ErrUnexpectedLog = errors.New("unexpected attestation log")

// Attestation mirrors the registry's attestation record.
type Attestation struct {
	Uid            [32]byte
	Schema         [32]byte
	Time           uint64
	ExpirationTime uint64
	RevocationTime uint64
	RefUID         [32]byte
	Recipient      common.Address
	Attester       common.Address
	Revocable      bool
	Data           []byte
}

// AttestationEvent is a decoded Attested or Revoked log.
type AttestationEvent struct {
	Revoked     bool
	Recipient   common.Address
	Attester    common.Address
	UID         common.Hash
	Schema      common.Hash
	BlockNumber uint64
}

// EAS is a read binding of the attestation registry.
type EAS struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewEAS binds the registry deployed at address.
func NewEAS(address common.Address, caller bind.ContractCaller) *EAS {
	return &EAS{
		address:  address,
		contract: bind.NewBoundContract(address, EASABI, caller, nil, nil),
	}
}

// Address returns the registry address.
func (e *EAS) Address() common.Address {
	return e.address
}

// GetAttestation reads the registry record of uid.
func (e *EAS) GetAttestation(ctx context.Context, uid common.Hash) (*Attestation, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAttestation", uid); err != nil {
		return nil, errors.Wrap(err, "call getAttestation")
	}
	if len(out) != 1 {
		return nil, errors.Errorf("getAttestation returned %d values", len(out))
	}

	a, ok := abi.ConvertType(out[0], new(Attestation)).(*Attestation)
	if !ok {
		return nil, errors.New("getAttestation returned an unexpected type")
	}

	return a, nil
}

// ParseAttestationEvent decodes an Attested or Revoked log. Topics are
// [signature, recipient, attester, schemaUID] and the data holds uid.
func ParseAttestationEvent(log types.Log) (*AttestationEvent, error) {
	if len(log.Topics) != 4 {
		return nil, errors.Wrapf(ErrUnexpectedLog, "%d topics", len(log.Topics))
	}

	var name string
	switch log.Topics[0] {
	case AttestedTopic:
		name = "Attested"
	case RevokedTopic:
		name = "Revoked"
	default:
		return nil, errors.Wrapf(ErrUnexpectedLog, "topic %s", log.Topics[0].Hex())
	}

	values, err := EASABI.Unpack(name, log.Data)
	if err != nil {
		return nil, errors.Wrap(ErrUnexpectedLog, err.Error())
	}
	if len(values) != 1 {
		return nil, errors.Wrapf(ErrUnexpectedLog, "%d data values", len(values))
	}
	uid, ok := values[0].([32]byte)
	if !ok {
		return nil, errors.Wrap(ErrUnexpectedLog, "uid is not bytes32")
	}

	return &AttestationEvent{
		Revoked:     name == "Revoked",
		Recipient:   common.BytesToAddress(log.Topics[1].Bytes()),
		Attester:    common.BytesToAddress(log.Topics[2].Bytes()),
		UID:         uid,
		Schema:      log.Topics[3],
		BlockNumber: log.BlockNumber,
	}, nil
}
