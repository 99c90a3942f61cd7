package cmd

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/AdguardTeam/AdGuardGSB/internal/cachedb"
	"github.com/AdguardTeam/AdGuardGSB/internal/gsbhttp"
	"github.com/AdguardTeam/AdGuardGSB/internal/metrics"
	"github.com/AdguardTeam/AdGuardGSB/internal/protocol"
	"github.com/AdguardTeam/AdGuardGSB/internal/sblist"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/prometheus/client_golang/prometheus"
)

// newSafeBrowsingList assembles the full client from conf.
func newSafeBrowsingList(
	logger *slog.Logger,
	conf *clientConfig,
) (l *sblist.SafeBrowsingList, err error) {
	if conf.apiKey == "" {
		return nil, fmt.Errorf("api key must be set, see the -api-key option")
	}

	protoMtrc, err := metrics.NewProtocol(metrics.Namespace(), prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("registering protocol metrics: %w", err)
	}

	listMtrc, err := metrics.NewSafeBrowsingList(metrics.Namespace(), prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("registering sync metrics: %w", err)
	}

	storage, err := cachedb.New(&cachedb.Config{
		Logger: logger.With(slogutil.KeyPrefix, "cachedb"),
		Clock:  timeutil.SystemClock{},
		Path:   conf.dbPath,
	})
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	httpCli := gsbhttp.NewClient(&gsbhttp.ClientConfig{
		UserAgent: conf.userAgent,
		Timeout:   conf.httpTimeout,
	})

	// #nosec G404 -- The fair-use delays only need statistical spread, not
	// cryptographic randomness.
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	clock := timeutil.SystemClock{}

	return sblist.New(&sblist.Config{
		Logger:  logger.With(slogutil.KeyPrefix, "sblist"),
		Storage: storage,
		PrefixList: protocol.NewPrefixList(&protocol.PrefixListConfig{
			Logger:  logger.With(slogutil.KeyPrefix, "prefixlist"),
			HTTP:    httpCli,
			BaseURL: conf.baseURL,
			Delay: protocol.NewDelayController(&protocol.DelayControllerConfig{
				Logger:  logger.With(slogutil.KeyPrefix, "prefixlist_delay"),
				Clock:   clock,
				Rand:    rng,
				Policy:  protocol.PolicyPrefixList,
				Discard: conf.discardFairUse,
			}),
			Metrics: protoMtrc,
			APIKey:  conf.apiKey,
			Lists:   conf.subscribedLists,
		}),
		FullHashes: protocol.NewFullHash(&protocol.FullHashConfig{
			Logger:  logger.With(slogutil.KeyPrefix, "fullhash"),
			HTTP:    httpCli,
			BaseURL: conf.baseURL,
			Delay: protocol.NewDelayController(&protocol.DelayControllerConfig{
				Logger:  logger.With(slogutil.KeyPrefix, "fullhash_delay"),
				Clock:   clock,
				Rand:    rng,
				Policy:  protocol.PolicyFullHash,
				Discard: conf.discardFairUse,
			}),
			Metrics: protoMtrc,
			APIKey:  conf.apiKey,
		}),
		Metrics: listMtrc,
	}), nil
}
