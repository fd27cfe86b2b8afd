package reconcile

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Ledger reads kept in flight per pass.
	Concurrency int `envconfig:"RECONCILE_CONCURRENCY" default:"8"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
