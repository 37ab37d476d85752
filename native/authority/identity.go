package authority

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
)

// MaxIdentityLength bounds opaque identities such as user ids.
const MaxIdentityLength = 128

// NormalizeIdentity canonicalizes a participant or principal identity.
// Hex-encoded 20-byte addresses are rewritten in EIP-55 checksum form so that
// the same wallet always maps to the same ledger account regardless of casing.
// Any other identity is treated as an opaque stable id.
func NormalizeIdentity(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidIdentity)
	}
	if common.IsHexAddress(id) {
		return common.HexToAddress(id).Hex(), nil
	}
	if len(id) > MaxIdentityLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidIdentity, MaxIdentityLength)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return "", fmt.Errorf("%w: contains whitespace or control characters", ErrInvalidIdentity)
		}
	}
	return id, nil
}
