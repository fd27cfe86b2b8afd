package matching

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Candidates executed per ExecuteMatches call.
	TopN           int           `envconfig:"MATCH_TOP_N" default:"5"`
	ConfirmTimeout time.Duration `envconfig:"MATCH_CONFIRM_TIMEOUT" default:"2m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Apply copies non-zero settings onto the service.
func (c Config) Apply(s *Service) *Service {
	if c.TopN > 0 {
		s.TopN = c.TopN
	}
	if c.ConfirmTimeout > 0 {
		s.ConfirmTimeout = c.ConfirmTimeout
	}
	return s
}
