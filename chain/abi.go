package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const easABIJSON = `[
  {"type":"event","name":"Attested","anonymous":false,"inputs":[
    {"name":"recipient","type":"address","indexed":true},
    {"name":"attester","type":"address","indexed":true},
    {"name":"uid","type":"bytes32","indexed":false},
    {"name":"schemaUID","type":"bytes32","indexed":true}]},
  {"type":"event","name":"Revoked","anonymous":false,"inputs":[
    {"name":"recipient","type":"address","indexed":true},
    {"name":"attester","type":"address","indexed":true},
    {"name":"uid","type":"bytes32","indexed":false},
    {"name":"schemaUID","type":"bytes32","indexed":true}]},
  {"type":"function","name":"getAttestation","stateMutability":"view",
    "inputs":[{"name":"uid","type":"bytes32"}],
    "outputs":[{"name":"attestation","type":"tuple","components":[
      {"name":"uid","type":"bytes32"},
      {"name":"schema","type":"bytes32"},
      {"name":"time","type":"uint64"},
      {"name":"expirationTime","type":"uint64"},
      {"name":"revocationTime","type":"uint64"},
      {"name":"refUID","type":"bytes32"},
      {"name":"recipient","type":"address"},
      {"name":"attester","type":"address"},
      {"name":"revocable","type":"bool"},
      {"name":"data","type":"bytes"}]}]}
]`

const feeGateABIJSON = `[
  {"type":"function","name":"issuerNonce","stateMutability":"view",
    "inputs":[{"name":"issuer","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"attestCount","stateMutability":"view",
    "inputs":[{"name":"issuer","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"hasPaidFee","stateMutability":"view",
    "inputs":[{"name":"issuer","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"FEE_THRESHOLD","stateMutability":"view",
    "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"LIFETIME_FEE","stateMutability":"view",
    "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"lastUID","stateMutability":"view",
    "inputs":[{"name":"issuer","type":"address"},{"name":"cubidId","type":"string"}],
    "outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"attestDelegated","stateMutability":"payable",
    "inputs":[
      {"name":"payload","type":"tuple","components":[
        {"name":"recipient","type":"address"},
        {"name":"refUID","type":"bytes32"},
        {"name":"revocable","type":"bool"},
        {"name":"expirationTime","type":"uint64"},
        {"name":"cubidId","type":"string"},
        {"name":"trustLevel","type":"uint8"},
        {"name":"human","type":"bool"},
        {"name":"circle","type":"bytes32"},
        {"name":"issuedAt","type":"uint64"},
        {"name":"expiry","type":"uint64"}]},
      {"name":"issuer","type":"address"},
      {"name":"nonce","type":"uint256"},
      {"name":"deadline","type":"uint64"},
      {"name":"signature","type":"tuple","components":[
        {"name":"v","type":"uint8"},
        {"name":"r","type":"bytes32"},
        {"name":"s","type":"bytes32"}]}],
    "outputs":[{"name":"","type":"bytes32"}]}
]`

var (
	// EASABI is the subset of the attestation registry interface the
	// listener relies on.
	EASABI = mustParseABI(easABIJSON)
	// FeeGateABI is the fee-gating contract interface.
	FeeGateABI = mustParseABI(feeGateABIJSON)

	// AttestedTopic and RevokedTopic are the event signature topics.
	AttestedTopic = EASABI.Events["Attested"].ID
	RevokedTopic  = EASABI.Events["Revoked"].ID
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}

	return parsed
}

// IsZeroHash reports whether h carries no meaningful value.
func IsZeroHash(h common.Hash) bool {
	return h == (common.Hash{})
}
