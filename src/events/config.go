package events

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Empty disables the Kafka publisher.
	Brokers     []string `envconfig:"KAFKA_BROKERS"`
	TradesTopic string   `envconfig:"KAFKA_TRADES_TOPIC" default:"exchange.trades.recorded"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
