package util

import "regexp"

var (
	bytes32Regex   = regexp.MustCompile(`^0x([0-9a-fA-F]{64})?$`)
	signatureRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{130}$`)
)

// IsBytes32 reports whether s is "0x" or 32 bytes of 0x-prefixed hex.
func IsBytes32(s string) bool {
	return bytes32Regex.MatchString(s)
}

// IsSignature reports whether s is a 65 byte 0x-prefixed hex signature.
func IsSignature(s string) bool {
	return signatureRegex.MatchString(s)
}
