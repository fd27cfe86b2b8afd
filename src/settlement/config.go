package settlement

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Spread taken in the fallback wallet's favour, 0.02 = 2%.
	Discount decimal.Decimal `envconfig:"FALLBACK_DISCOUNT" default:"0.02"`
	// Fee on the currency leg, retained by the fallback wallet.
	ProtocolFee    decimal.Decimal `envconfig:"FALLBACK_PROTOCOL_FEE" default:"0.005"`
	ConfirmTimeout time.Duration   `envconfig:"FALLBACK_CONFIRM_TIMEOUT" default:"2m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
