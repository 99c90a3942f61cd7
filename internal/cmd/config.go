package cmd

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/AdguardTeam/AdGuardGSB/internal/gsb"
	"github.com/AdguardTeam/golibs/timeutil"
	"gopkg.in/yaml.v2"
)

// defaultHTTPTimeout is the HTTP timeout used when the configuration file
// sets none.
const defaultHTTPTimeout = 30 * time.Second

// fileConfig is the optional on-disk configuration.
type fileConfig struct {
	// BaseURL overrides the base URL of the Safe Browsing API.
	BaseURL string `yaml:"base_url"`

	// UserAgent overrides the User-Agent header of all requests.
	UserAgent string `yaml:"user_agent"`

	// Lists are the names of the subscribed lists.
	Lists []string `yaml:"lists"`

	// HTTPTimeout is the timeout of all HTTP requests.
	HTTPTimeout timeutil.Duration `yaml:"http_timeout"`
}

// readFileConfig reads the configuration file at path and fills in the
// defaults.  An empty path yields the default configuration.
func readFileConfig(path string) (conf *fileConfig, err error) {
	conf = &fileConfig{}
	if path != "" {
		var raw []byte
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}

		err = yaml.Unmarshal(raw, conf)
		if err != nil {
			return nil, fmt.Errorf("parsing config %q: %w", path, err)
		}
	}

	if len(conf.Lists) == 0 {
		conf.Lists = gsb.DefaultLists()
	}

	if conf.HTTPTimeout.Duration <= 0 {
		conf.HTTPTimeout = timeutil.Duration{Duration: defaultHTTPTimeout}
	}

	return conf, nil
}

// clientConfig is the fully resolved configuration of the client.
type clientConfig struct {
	baseURL *url.URL

	apiKey    string
	dbPath    string
	userAgent string

	subscribedLists []string

	httpTimeout time.Duration

	discardFairUse bool
}
