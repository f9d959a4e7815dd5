package tvmcell

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/xssnick/tonutils-go/address"
)

// ParseAddress accepts both raw "wid:hex" and user-friendly base64 addresses.
func ParseAddress(s string) (*address.Address, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ":") {
		addr, err := address.ParseRawAddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid raw address %q: %w", s, err)
		}
		return addr, nil
	}
	addr, err := address.ParseAddr(s)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return addr, nil
}

// Raw formats an address as lowercase "wid:hex".
func Raw(addr *address.Address) string {
	return fmt.Sprintf("%d:%x", addr.Workchain(), addr.Data())
}

// Normalize parses s and returns its raw form.
func Normalize(s string) (string, error) {
	addr, err := ParseAddress(s)
	if err != nil {
		return "", err
	}
	return Raw(addr), nil
}

// SplitAddress returns the workchain and the account id as a number, the shape
// EVM contracts use for TVM addresses.
func SplitAddress(s string) (int8, *big.Int, error) {
	addr, err := ParseAddress(s)
	if err != nil {
		return 0, nil, err
	}
	return int8(addr.Workchain()), new(big.Int).SetBytes(addr.Data()), nil
}

// JoinAddress is the inverse of SplitAddress.
func JoinAddress(wid int8, account *big.Int) string {
	buf := make([]byte, 32)
	account.FillBytes(buf)
	return fmt.Sprintf("%d:%x", wid, buf)
}
