// Package cmd is the AdGuardGSB entry point.  It contains the command-line
// and environment configuration as well as the command implementations.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"golang.org/x/sys/unix"
)

// Exit status constants.
const (
	statusSuccess = 0
	statusError   = 1

	// statusNoMetadata is the exit status of a lookup hit whose matches
	// carry no metadata.
	statusNoMetadata = 3

	// statusInterrupt is the exit status of a user-interrupted sync.
	statusInterrupt = 5
)

// Command names.
const (
	cmdSync   = "sync"
	cmdUpdate = "update"
	cmdLookup = "lookup"
	cmdPurge  = "purge"
	cmdStats  = "stats"
)

// Main is the entry point of application.
func Main() {
	ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, os.Args[1:]))
}

// run executes the selected command and returns the process exit status.
func run(ctx context.Context, args []string) (status int) {
	envs, err := readEnvs()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "reading environment: %s\n", err)

		return statusError
	}

	opts, cmdName, cmdArgs, err := parseOptions(envs, args)
	if err != nil {
		if errors.Is(err, errUsage) {
			return statusError
		}

		_, _ = fmt.Fprintf(os.Stderr, "%s\n", err)

		return statusError
	}

	logger := opts.newLogger()

	conf, err := opts.clientConfig()
	if err != nil {
		logger.Error("configuring client", slogutil.KeyError, err)

		return statusError
	}

	switch cmdName {
	case cmdSync:
		return runSync(ctx, logger, opts, conf, true)
	case cmdUpdate:
		return runSync(ctx, logger, opts, conf, false)
	case cmdLookup:
		return runLookup(ctx, logger, opts, conf, cmdArgs)
	case cmdPurge:
		return runPurge(logger, conf, opts.yes)
	case cmdStats:
		return runStats(ctx, logger, conf)
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command %q\n", cmdName)
		usage()

		return statusError
	}
}

// usage prints the command summary.
func usage() {
	const text = `Usage: adguardgsb [options] command [arguments]

Commands:
  sync          keep syncing until the local cache is in sync
  update        run a single sync pass
  lookup URL    look a URL up in the local cache
  purge         delete the local database
  stats         print cache statistics
`

	_, _ = fmt.Fprint(os.Stderr, text)
}
