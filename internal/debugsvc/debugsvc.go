// Package debugsvc contains the debug HTTP API of AdGuardGSB: Prometheus
// metrics, pprof, and a health check, for the long-running sync mode.
package debugsvc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/netutil/httputil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service is the debug HTTP service of AdGuardGSB.
type Service struct {
	logger *slog.Logger
	http   *http.Server
}

// Config is the debug HTTP service configuration structure.
type Config struct {
	// Logger is used for logging the service operation.  It must not be
	// nil.
	Logger *slog.Logger

	// Addr is the address the service listens on.  It must not be empty.
	Addr string
}

// readTimeout is the read timeout of the debug server.
const readTimeout = 10 * time.Second

// New returns a new properly initialized *Service.  c must not be nil.
func New(c *Config) (svc *Service) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health-check", handleHealthCheck)
	httputil.RoutePprof(mux)

	return &Service{
		logger: c.Logger,
		http: &http.Server{
			Addr:        c.Addr,
			Handler:     mux,
			ReadTimeout: readTimeout,
		},
	}
}

// handleHealthCheck is the handler of the health-check endpoint.
func handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set(httphdr.ContentType, "text/plain")
	_, _ = io.WriteString(w, "OK\n")
}

// type check
var _ service.Interface = (*Service)(nil)

// Start implements the [service.Interface] interface for *Service.  It does
// not wait for the server to start listening.
func (svc *Service) Start(ctx context.Context) (err error) {
	go func() {
		defer slogutil.RecoverAndLog(ctx, svc.logger)

		svc.logger.InfoContext(ctx, "listening", "addr", svc.http.Addr)

		srvErr := svc.http.ListenAndServe()
		if srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
			svc.logger.ErrorContext(ctx, "serving debug api", slogutil.KeyError, srvErr)
		}
	}()

	return nil
}

// Shutdown implements the [service.Interface] interface for *Service.
func (svc *Service) Shutdown(ctx context.Context) (err error) {
	err = svc.http.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutting down debug api: %w", err)
	}

	return nil
}
