package relay

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"

	"github.com/peer-mapper/trust-indexer/chain"
)

const (
	DomainName    = "FeeGate"
	DomainVersion = "1"
	PrimaryType   = "Attestation"
)

// ErrInvalidBytes32 is returned for refUID or circle values that are not
// 32 bytes of hex.
var ErrInvalidBytes32 = errors.New("invalid bytes32 value")

var typedDataTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	PrimaryType: {
		{Name: "issuer", Type: "address"},
		{Name: "recipient", Type: "address"},
		{Name: "refUID", Type: "bytes32"},
		{Name: "revocable", Type: "bool"},
		{Name: "expirationTime", Type: "uint64"},
		{Name: "cubidId", Type: "string"},
		{Name: "trustLevel", Type: "uint8"},
		{Name: "human", Type: "bool"},
		{Name: "circle", Type: "bytes32"},
		{Name: "issuedAt", Type: "uint64"},
		{Name: "expiry", Type: "uint64"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint64"},
	},
}

// Message is the signed delegated attestation.
type Message struct {
	Issuer         common.Address
	Recipient      common.Address
	RefUID         [32]byte
	Revocable      bool
	ExpirationTime uint64
	SubjectID      string
	TrustLevel     uint8
	Human          bool
	Circle         [32]byte
	IssuedAt       uint64
	Expiry         uint64
	Nonce          *big.Int
	Deadline       uint64
}

// Domain is the EIP-712 domain with the chain id as a decimal string.
type Domain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           string `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// TypedData is the JSON form handed to wallets for signing. Every
// number is a decimal string.
type TypedData struct {
	Domain      Domain                    `json:"domain"`
	Types       apitypes.Types            `json:"types"`
	PrimaryType string                    `json:"primaryType"`
	Message     apitypes.TypedDataMessage `json:"message"`
}

// BuildTypedData returns the typed data of m for the fee gate at
// verifyingContract on chainID.
func BuildTypedData(chainID *big.Int, verifyingContract common.Address, m *Message) *TypedData {
	nonce := m.Nonce
	if nonce == nil {
		nonce = new(big.Int)
	}

	return &TypedData{
		Domain: Domain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainID:           chainID.String(),
			VerifyingContract: verifyingContract.Hex(),
		},
		Types:       typedDataTypes,
		PrimaryType: PrimaryType,
		Message: apitypes.TypedDataMessage{
			"issuer":         m.Issuer.Hex(),
			"recipient":      m.Recipient.Hex(),
			"refUID":         hexutil.Encode(m.RefUID[:]),
			"revocable":      m.Revocable,
			"expirationTime": strconv.FormatUint(m.ExpirationTime, 10),
			"cubidId":        m.SubjectID,
			"trustLevel":     strconv.FormatUint(uint64(m.TrustLevel), 10),
			"human":          m.Human,
			"circle":         hexutil.Encode(m.Circle[:]),
			"issuedAt":       strconv.FormatUint(m.IssuedAt, 10),
			"expiry":         strconv.FormatUint(m.Expiry, 10),
			"nonce":          nonce.String(),
			"deadline":       strconv.FormatUint(m.Deadline, 10),
		},
	}
}

// Digest returns the EIP-712 hash a wallet signs for td.
func Digest(td *TypedData) ([]byte, error) {
	chainID, ok := math.ParseBig256(td.Domain.ChainID)
	if !ok {
		return nil, errors.Errorf("invalid chain id %q", td.Domain.ChainID)
	}

	hash, _, err := apitypes.TypedDataAndHash(apitypes.TypedData{
		Types:       td.Types,
		PrimaryType: td.PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              td.Domain.Name,
			Version:           td.Domain.Version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: td.Domain.VerifyingContract,
		},
		Message: td.Message,
	})
	if err != nil {
		return nil, errors.Wrap(err, "hash typed data")
	}

	return hash, nil
}

// Payload converts m to the contract payload tuple.
func (m *Message) Payload() chain.DelegatedPayload {
	return chain.DelegatedPayload{
		Recipient:      m.Recipient,
		RefUID:         m.RefUID,
		Revocable:      m.Revocable,
		ExpirationTime: m.ExpirationTime,
		CubidId:        m.SubjectID,
		TrustLevel:     m.TrustLevel,
		Human:          m.Human,
		Circle:         m.Circle,
		IssuedAt:       m.IssuedAt,
		Expiry:         m.Expiry,
	}
}

// ParseBytes32 decodes an optional bytes32 field. Empty, "0x" and all
// zero values yield the zero sentinel.
func ParseBytes32(v string) ([32]byte, error) {
	var out [32]byte

	v = strings.TrimSpace(v)
	if v == "" || strings.Trim(strings.TrimPrefix(strings.ToLower(v), "0x"), "0") == "" {
		return out, nil
	}

	raw, err := hexutil.Decode(v)
	if err != nil {
		return out, errors.Wrap(ErrInvalidBytes32, err.Error())
	}
	if len(raw) != len(out) {
		return out, errors.Wrapf(ErrInvalidBytes32, "expected 32 bytes, got %d", len(raw))
	}

	copy(out[:], raw)
	return out, nil
}
