package indexer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/pkg/errors"
)

// MaxSubjectIDLength bounds the subject id carried by a payload.
const MaxSubjectIDLength = 256

// ErrInvalidPayload is returned for attestation data that does not
// match the tracked schema exactly.
var ErrInvalidPayload = errors.New("invalid attestation payload")

var (
	stringType, _  = abi.NewType("string", "", nil)
	uint8Type, _   = abi.NewType("uint8", "", nil)
	boolType, _    = abi.NewType("bool", "", nil)
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
	uint64Type, _  = abi.NewType("uint64", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)

	payloadArgs = abi.Arguments{
		{Name: "cubidId", Type: stringType},
		{Name: "trustLevel", Type: uint8Type},
		{Name: "human", Type: boolType},
		{Name: "circle", Type: bytes32Type},
		{Name: "issuedAt", Type: uint64Type},
		{Name: "expiry", Type: uint64Type},
		{Name: "nonce", Type: uint256Type},
	}
)

// Payload is the decoded schema data of one attestation.
type Payload struct {
	SubjectID  string
	TrustLevel uint8
	Human      bool
	Circle     [32]byte
	IssuedAt   uint64
	Expiry     uint64
	Nonce      *big.Int
}

// EncodePayload packs p with the schema layout.
func EncodePayload(p *Payload) ([]byte, error) {
	nonce := p.Nonce
	if nonce == nil {
		nonce = new(big.Int)
	}

	return payloadArgs.Pack(p.SubjectID, p.TrustLevel, p.Human, p.Circle, p.IssuedAt, p.Expiry, nonce)
}

// DecodePayload unpacks schema data, failing on any count or type
// mismatch and on an empty or oversized subject id.
func DecodePayload(data []byte) (*Payload, error) {
	unpacked, err := payloadArgs.Unpack(data)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPayload, "abi decode: %v", err)
	}

	if len(unpacked) != len(payloadArgs) {
		return nil, errors.Wrapf(ErrInvalidPayload, "expected %d fields, got %d", len(payloadArgs), len(unpacked))
	}

	subjectID, ok := unpacked[0].(string)
	if !ok {
		return nil, errors.Wrap(ErrInvalidPayload, "invalid cubidId type")
	}
	trustLevel, ok := unpacked[1].(uint8)
	if !ok {
		return nil, errors.Wrap(ErrInvalidPayload, "invalid trustLevel type")
	}
	human, ok := unpacked[2].(bool)
	if !ok {
		return nil, errors.Wrap(ErrInvalidPayload, "invalid human type")
	}
	circle, ok := unpacked[3].([32]byte)
	if !ok {
		return nil, errors.Wrap(ErrInvalidPayload, "invalid circle type")
	}
	issuedAt, ok := unpacked[4].(uint64)
	if !ok {
		return nil, errors.Wrap(ErrInvalidPayload, "invalid issuedAt type")
	}
	expiry, ok := unpacked[5].(uint64)
	if !ok {
		return nil, errors.Wrap(ErrInvalidPayload, "invalid expiry type")
	}
	nonce, ok := unpacked[6].(*big.Int)
	if !ok {
		return nil, errors.Wrap(ErrInvalidPayload, "invalid nonce type")
	}

	if subjectID == "" || len(subjectID) > MaxSubjectIDLength {
		return nil, errors.Wrapf(ErrInvalidPayload, "subject id length %d", len(subjectID))
	}

	return &Payload{
		SubjectID:  subjectID,
		TrustLevel: trustLevel,
		Human:      human,
		Circle:     circle,
		IssuedAt:   issuedAt,
		Expiry:     expiry,
		Nonce:      nonce,
	}, nil
}
