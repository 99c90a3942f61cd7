package cmd

import (
	"fmt"

	"github.com/AdguardTeam/golibs/netutil/urlutil"
	"github.com/caarlos0/env/v7"
)

// environments represents the configuration that is kept in the environment.
type environments struct {
	BaseURL *urlutil.URL `env:"GSB_BASE_URL"`

	APIKey    string `env:"GGLSBL3_API_KEY"`
	ConfPath  string `env:"GSB_CONFIG_PATH"`
	DBFile    string `env:"GSB_DB_FILE" envDefault:"./gsb_v3.db"`
	DebugAddr string `env:"GSB_DEBUG_ADDR"`
}

// readEnvs reads the configuration.
func readEnvs() (envs *environments, err error) {
	envs = &environments{}
	err = env.Parse(envs)
	if err != nil {
		return nil, fmt.Errorf("parsing environments: %w", err)
	}

	return envs, nil
}
