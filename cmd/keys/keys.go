package keys

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

type Generated struct {
	LedgerKey      string
	LedgerAddress  string
	OperatorAPIKey string
}

// Generate creates a ledger signing key and an operator API key.
func Generate(cfg Config) (*Generated, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate ledger key: %w", err)
	}

	n := cfg.OperatorKeyBytes
	if n < 16 {
		n = 16
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate operator key: %w", err)
	}

	return &Generated{
		LedgerKey:      hex.EncodeToString(crypto.FromECDSA(key)),
		LedgerAddress:  crypto.PubkeyToAddress(key.PublicKey).Hex(),
		OperatorAPIKey: hex.EncodeToString(buf),
	}, nil
}
