package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is a participant's wallet address in EIP-55 checksum form.
type Identity string

// ParseIdentity validates and normalises a hex address.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: malformed identity %q", ErrInvalidInput, s)
	}
	return Identity(common.HexToAddress(s).Hex()), nil
}

// String implements fmt.Stringer.
func (id Identity) String() string { return string(id) }
