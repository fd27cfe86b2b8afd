package ledger

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Endpoint candidates in probe order. "memory://" selects the in-process ledger.
	RPCURLs      []string      `envconfig:"LEDGER_RPC_URLS" default:"http://localhost:8545"`
	ProbeTimeout time.Duration `envconfig:"LEDGER_PROBE_TIMEOUT" default:"3s"`
	ChainID      int64         `envconfig:"LEDGER_CHAIN_ID" default:"31337"`

	OperatorKey      string `envconfig:"LEDGER_OPERATOR_KEY"`
	CustodianKey     string `envconfig:"LEDGER_CUSTODIAN_KEY"`
	CustodianAddress string `envconfig:"LEDGER_CUSTODIAN_ADDRESS"` // derived from the key when empty

	ReceiptPoll time.Duration `envconfig:"LEDGER_RECEIPT_POLL" default:"2s"`

	BreakerMaxFailures uint32        `envconfig:"LEDGER_BREAKER_MAX_FAILURES" default:"3"`
	BreakerInterval    time.Duration `envconfig:"LEDGER_BREAKER_INTERVAL" default:"60s"`
	BreakerTimeout     time.Duration `envconfig:"LEDGER_BREAKER_TIMEOUT" default:"30s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
