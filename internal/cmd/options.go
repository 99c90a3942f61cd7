package cmd

import (
	"flag"
	"io"
	"log/slog"
	"net/url"
	"os"

	"github.com/AdguardTeam/AdGuardGSB/internal/gsb"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// errUsage is returned by [parseOptions] when the usage has already been
// printed.
const errUsage errors.Error = "usage printed"

// options are the resolved command-line options.  Environment values serve
// as flag defaults, so flags win.
type options struct {
	envs *environments

	apiKey    string
	confPath  string
	dbFile    string
	debugAddr string
	logLevel  string

	noFairUse bool
	silent    bool
	yes       bool
}

// parseOptions parses the global flags and splits off the command name and
// its arguments.
func parseOptions(
	envs *environments,
	args []string,
) (opts *options, cmdName string, cmdArgs []string, err error) {
	opts = &options{
		envs: envs,
	}

	fs := flag.NewFlagSet("adguardgsb", flag.ContinueOnError)
	fs.Usage = usage

	fs.StringVar(&opts.apiKey, "api-key", envs.APIKey, "Safe Browsing v3 API key")
	fs.StringVar(&opts.confPath, "config", envs.ConfPath, "path to the optional YAML configuration")
	fs.StringVar(&opts.dbFile, "db-file", envs.DBFile, "path to the database file")
	fs.StringVar(&opts.debugAddr, "debug-addr", envs.DebugAddr,
		"address of the debug HTTP API; empty disables it")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log verbosity: debug or trace enables debug messages, any other value logs at info level")
	fs.BoolVar(&opts.noFairUse, "no-fair-use", false,
		"compute but do not sleep the fair-use delays")
	fs.BoolVar(&opts.silent, "silent", false, "suppress all log output")
	fs.BoolVar(&opts.yes, "yes", false, "assume yes on confirmation prompts")

	err = fs.Parse(args)
	if err != nil {
		return nil, "", nil, errUsage
	}

	rest := fs.Args()
	if len(rest) == 0 {
		usage()

		return nil, "", nil, errUsage
	}

	return opts, rest[0], rest[1:], nil
}

// newLogger builds the logger the whole application uses.
func (opts *options) newLogger() (l *slog.Logger) {
	output := io.Writer(os.Stdout)
	if opts.silent {
		output = io.Discard
	}

	return slogutil.New(&slogutil.Config{
		Output:       output,
		Format:       slogutil.FormatAdGuardLegacy,
		AddTimestamp: true,
		Verbose:      opts.logLevel == "debug" || opts.logLevel == "trace",
	})
}

// clientConfig resolves the full client configuration from the flags, the
// environment, and the optional configuration file.
func (opts *options) clientConfig() (conf *clientConfig, err error) {
	fileConf, err := readFileConfig(opts.confPath)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	conf = &clientConfig{
		apiKey:          opts.apiKey,
		dbPath:          opts.dbFile,
		discardFairUse:  opts.noFairUse,
		subscribedLists: fileConf.Lists,
		httpTimeout:     fileConf.HTTPTimeout.Duration,
		userAgent:       fileConf.UserAgent,
	}

	switch {
	case fileConf.BaseURL != "":
		conf.baseURL, err = url.Parse(fileConf.BaseURL)
		if err != nil {
			return nil, err
		}
	case opts.envs.BaseURL != nil:
		conf.baseURL = &opts.envs.BaseURL.URL
	default:
		conf.baseURL, err = url.Parse(gsb.DefaultBaseURL)
		if err != nil {
			// Must not happen, the default is a constant.
			panic(err)
		}
	}

	return conf, nil
}
