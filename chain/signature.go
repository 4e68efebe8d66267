package chain

import (
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// SignatureLength is the length of an ECDSA signature (r||s||v).
const SignatureLength = 65

// ErrInvalidSignature is returned when a signature is malformed or does
// not recover to the expected signer.
var ErrInvalidSignature = errors.New("invalid signature")

// DecodeSignature parses a 0x hex signature and checks its length.
func DecodeSignature(sig string) ([]byte, error) {
	raw, err := hexutil.Decode(sig)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidSignature, err.Error())
	}
	if len(raw) != SignatureLength {
		return nil, errors.Wrapf(ErrInvalidSignature, "expected %d bytes, got %d", SignatureLength, len(raw))
	}

	return raw, nil
}

// RecoverSigner returns the address that produced sig over digest. The
// recovery id may be given as 0/1 or 27/28.
func RecoverSigner(digest []byte, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, errors.Wrapf(ErrInvalidSignature, "expected %d bytes, got %d", SignatureLength, len(sig))
	}

	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, errors.Wrap(ErrInvalidSignature, err.Error())
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyPersonalSignature reports whether sig is expected's
// personal_sign signature of message.
func VerifyPersonalSignature(expected common.Address, message string, sig []byte) bool {
	signer, err := RecoverSigner(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return false
	}

	return signer == expected
}

// SplitSignature splits sig into the (v, r, s) tuple expected by
// contracts, with v in 27/28.
func SplitSignature(sig []byte) (Signature, error) {
	if len(sig) != SignatureLength {
		return Signature{}, errors.Wrapf(ErrInvalidSignature, "expected %d bytes, got %d", SignatureLength, len(sig))
	}

	var s Signature
	copy(s.R[:], sig[:32])
	copy(s.S[:], sig[32:64])
	s.V = sig[64]
	if s.V < 27 {
		s.V += 27
	}

	return s, nil
}
