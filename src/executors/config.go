package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LoopPeriod time.Duration `envconfig:"LOOP_PERIOD" default:"30s"`
	// Reconciliation runs on every Nth tick.
	ReconcileEvery int `envconfig:"RECONCILE_EVERY" default:"4"`
	// ExecuteMatches submits fills when true; otherwise the loop only reconciles.
	ExecuteMatches bool `envconfig:"LOOP_EXECUTE_MATCHES" default:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
