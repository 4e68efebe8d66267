package store

// Version identifies one write of an (issuer, subject) attestation slot
// in the latest-wins order.
type Version struct {
	BlockTime uint64
	UID       string
}

// Supersedes reports whether incoming replaces existing. A newer block
// time always wins. Within the same block the lexicographically greater
// uid wins, which totally orders same-block writes without needing the
// log index. Uids are compared normalized.
func Supersedes(existing, incoming Version) bool {
	if existing.BlockTime != incoming.BlockTime {
		return incoming.BlockTime > existing.BlockTime
	}

	return NormalizeHex(incoming.UID) > NormalizeHex(existing.UID)
}
