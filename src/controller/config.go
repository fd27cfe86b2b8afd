package controller

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// How long a cancel waits for its ledger receipt.
	ConfirmTimeout time.Duration `envconfig:"ORDER_CONFIRM_TIMEOUT" default:"2m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
