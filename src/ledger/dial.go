package ledger

import (
	"context"
	"fmt"
	"strings"

	logger "github.com/sirupsen/logrus"
)

const memoryScheme = "memory://"

// Dial builds one backend per configured URL, shares the signing keys between
// them, and returns a client bound to the first endpoint that answers. A URL
// that cannot be dialed is skipped; Dial fails only when none is left.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	var operator, custodian *Signer
	var err error

	if cfg.OperatorKey != "" {
		if operator, err = NewSigner(cfg.OperatorKey); err != nil {
			return nil, fmt.Errorf("operator key: %w", err)
		}
	}
	if cfg.CustodianKey != "" {
		if custodian, err = NewSigner(cfg.CustodianKey); err != nil {
			return nil, fmt.Errorf("custodian key: %w", err)
		}
		if cfg.CustodianAddress == "" {
			cfg.CustodianAddress = custodian.Address.Hex()
		}
	}

	backends := make([]Backend, 0, len(cfg.RPCURLs))
	for _, raw := range cfg.RPCURLs {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}
		if strings.HasPrefix(url, memoryScheme) {
			backends = append(backends, NewMemoryBackend(url, cfg.CustodianAddress))
			continue
		}

		b, err := NewEthBackend(ctx, url, cfg.ChainID, operator, custodian)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"component": "ledger",
				"endpoint":  url,
			}).WithError(err).Warn("Skipping ledger endpoint")
			continue
		}
		backends = append(backends, b)
	}

	client, err := NewClient(ctx, cfg, backends)
	if err != nil {
		for _, b := range backends {
			b.Close()
		}
		return nil, err
	}
	return client, nil
}
