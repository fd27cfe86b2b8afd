package keys

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Bytes of entropy in a generated operator API key.
	OperatorKeyBytes int `envconfig:"OPERATOR_KEY_BYTES" default:"32"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
