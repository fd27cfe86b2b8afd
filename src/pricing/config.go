package pricing

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	OracleURL     string        `envconfig:"PRICE_ORACLE_URL" default:"http://localhost:8090"`
	OracleTimeout time.Duration `envconfig:"PRICE_ORACLE_TIMEOUT" default:"10s"`
	RetryCount    int           `envconfig:"PRICE_ORACLE_RETRIES" default:"3"`

	// Empty disables the cache.
	RedisURL string        `envconfig:"REDIS_URL"`
	CacheTTL time.Duration `envconfig:"PRICE_CACHE_TTL" default:"15s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
