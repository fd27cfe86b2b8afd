package model

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress validates a hex account address and returns its EIP-55
// checksummed form so that equal accounts compare equal as strings.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("invalid address %q", addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

// NormalizeTxHash lowercases a 0x-prefixed 32-byte transaction hash.
func NormalizeTxHash(hash string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(hash))
	if !strings.HasPrefix(h, "0x") || len(h) != 66 {
		return "", fmt.Errorf("invalid transaction hash %q", hash)
	}
	for _, c := range h[2:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("invalid transaction hash %q", hash)
		}
	}
	return h, nil
}
