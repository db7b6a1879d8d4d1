package node

import (
	"fmt"

	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// resolveCoinbase parses the configured coinbase address string. Mining
// requires an explicit address: unlike a validator key, there is no other
// source a coinbase destination could be derived from.
func resolveCoinbase(addrHex string) (types.Address, error) {
	if addrHex == "" {
		return types.Address{}, fmt.Errorf("mining.enabled requires mining.coinbase to be set")
	}
	addr, err := types.ParseAddress(addrHex)
	if err != nil {
		return types.Address{}, fmt.Errorf("invalid coinbase address: %w", err)
	}
	return addr, nil
}

// formatDifficulty renders a 32-byte target as a short hex prefix for logs.
func formatDifficulty(target [32]byte) string {
	return fmt.Sprintf("%x...", target[:4])
}
