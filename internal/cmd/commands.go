package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/AdguardTeam/AdGuardGSB/internal/cachedb"
	"github.com/AdguardTeam/AdGuardGSB/internal/debugsvc"
	"github.com/AdguardTeam/AdGuardGSB/internal/gsb"
	"github.com/AdguardTeam/AdGuardGSB/internal/gsbhttp"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
)

// networkRetryIvl is how long the sync loop waits after a network failure
// before retrying.
const networkRetryIvl = 5 * time.Second

// runSync implements the sync and update commands.  When loop is true, sync
// passes repeat until one of them applies no changes; network errors are
// retried.
func runSync(
	ctx context.Context,
	logger *slog.Logger,
	opts *options,
	conf *clientConfig,
	loop bool,
) (status int) {
	l, err := newSafeBrowsingList(logger, conf)
	if err != nil {
		logger.Error("initializing client", slogutil.KeyError, err)

		return statusError
	}
	defer func() { slogutil.CloseAndLog(ctx, logger, l, slog.LevelError) }()

	if loop && opts.debugAddr != "" {
		dbgSvc := debugsvc.New(&debugsvc.Config{
			Logger: logger.With(slogutil.KeyPrefix, "debugsvc"),
			Addr:   opts.debugAddr,
		})

		err = dbgSvc.Start(ctx)
		if err != nil {
			logger.Error("starting debug api", slogutil.KeyError, err)

			return statusError
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			err = dbgSvc.Shutdown(shutdownCtx)
			if err != nil {
				logger.Warn("shutting down debug api", slogutil.KeyError, err)
			}
		}()
	}

	for {
		changed, err := l.Sync(ctx)
		switch {
		case err == nil:
			if !loop || !changed {
				logger.InfoContext(ctx, "in sync")

				return statusSuccess
			}
		case isCancellation(err):
			logger.WarnContext(ctx, "aborted by user")

			return statusInterrupt
		case loop && isNetworkError(err):
			logger.WarnContext(ctx, "network failure", slogutil.KeyError, err)

			if !sleepCtx(ctx, networkRetryIvl) {
				return statusInterrupt
			}
		default:
			logger.ErrorContext(ctx, "sync failed", slogutil.KeyError, err)

			return statusError
		}
	}
}

// runLookup implements the lookup command.
func runLookup(
	ctx context.Context,
	logger *slog.Logger,
	_ *options,
	conf *clientConfig,
	args []string,
) (status int) {
	if len(args) != 1 {
		usage()

		return statusError
	}

	l, err := newSafeBrowsingList(logger, conf)
	if err != nil {
		logger.Error("initializing client", slogutil.KeyError, err)

		return statusError
	}
	defer func() { slogutil.CloseAndLog(ctx, logger, l, slog.LevelError) }()

	matches, err := l.Lookup(ctx, args[0])
	if err != nil {
		logger.ErrorContext(ctx, "lookup failed", slogutil.KeyError, err)

		return statusError
	}

	if len(matches) == 0 {
		fmt.Printf("%s is not blacklisted\n", args[0])

		return statusSuccess
	}

	for _, m := range matches {
		fmt.Printf("%s is blacklisted in %s (pattern type %d)\n", args[0], m.ListName, m.PatternType)
	}

	return lookupStatus(matches)
}

// lookupStatus maps lookup matches to an exit status: the minimum non-zero
// pattern type, or [statusNoMetadata] when no match carries one.
func lookupStatus(matches []gsb.ListMatch) (status int) {
	for _, m := range matches {
		if m.PatternType > 0 && (status == 0 || m.PatternType < status) {
			status = m.PatternType
		}
	}

	if status == 0 {
		return statusNoMetadata
	}

	return status
}

// runPurge implements the purge command: it deletes the database file after
// a confirmation.
func runPurge(logger *slog.Logger, conf *clientConfig, yes bool) (status int) {
	if !yes && !confirm(fmt.Sprintf("Delete %q?", conf.dbPath)) {
		logger.Info("purge cancelled")

		return statusSuccess
	}

	// Remove the SQLite side files as well.
	for _, path := range []string{conf.dbPath, conf.dbPath + "-wal", conf.dbPath + "-shm"} {
		err := os.Remove(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Error("removing database", "path", path, slogutil.KeyError, err)

			return statusError
		}
	}

	logger.Info("database removed", "path", conf.dbPath)

	return statusSuccess
}

// confirm asks the user for a yes/no confirmation on standard input.
func confirm(prompt string) (ok bool) {
	fmt.Printf("%s [y/N]: ", prompt)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// runStats implements the stats command.
func runStats(ctx context.Context, logger *slog.Logger, conf *clientConfig) (status int) {
	storage, err := cachedb.New(&cachedb.Config{
		Logger: logger.With(slogutil.KeyPrefix, "cachedb"),
		Clock:  timeutil.SystemClock{},
		Path:   conf.dbPath,
	})
	if err != nil {
		logger.Error("opening storage", slogutil.KeyError, err)

		return statusError
	}
	defer func() { slogutil.CloseAndLog(ctx, logger, storage, slog.LevelError) }()

	st, err := storage.Stats(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "reading stats", slogutil.KeyError, err)

		return statusError
	}

	fmt.Printf("chunks:        %d\n", st.Chunks)
	fmt.Printf("hash prefixes: %d\n", st.HashPrefixes)
	fmt.Printf("full hashes:   %d\n", st.FullHashes)

	return statusSuccess
}

// isCancellation reports whether err is the result of a user interrupt.
func isCancellation(err error) (ok bool) {
	return errors.Is(err, context.Canceled)
}

// isNetworkError reports whether err is a transport failure or an unexpected
// HTTP status, both of which are worth retrying.
func isNetworkError(err error) (ok bool) {
	var statusErr *gsbhttp.StatusError
	if errors.As(err, &statusErr) {
		return true
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// sleepCtx sleeps for dur unless ctx is cancelled first.  It returns false
// on cancellation.
func sleepCtx(ctx context.Context, dur time.Duration) (ok bool) {
	timer := time.NewTimer(dur)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
