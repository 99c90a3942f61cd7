package metrics

import (
	"context"

	"github.com/AdguardTeam/AdGuardGSB/internal/sblist"
	"github.com/prometheus/client_golang/prometheus"
)

// SafeBrowsingList is the Prometheus-based implementation of the
// [sblist.Metrics] interface.
type SafeBrowsingList struct {
	// syncs is a counter of the finished sync passes per result.
	syncs *prometheus.CounterVec

	// lookups is a counter of the finished lookups per result.
	lookups *prometheus.CounterVec
}

// NewSafeBrowsingList registers the façade metrics in reg and returns a
// properly initialized *SafeBrowsingList.
func NewSafeBrowsingList(
	namespace string,
	reg prometheus.Registerer,
) (m *SafeBrowsingList, err error) {
	const (
		syncsTotal   = "passes_total"
		lookupsTotal = "total"
	)

	m = &SafeBrowsingList{
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      syncsTotal,
			Namespace: namespace,
			Subsystem: subsystemSync,
			Help:      "Total number of sync passes by result.",
		}, []string{"success", "changed"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      lookupsTotal,
			Namespace: namespace,
			Subsystem: subsystemLookup,
			Help:      "Total number of URL lookups by result.",
		}, []string{"matched"}),
	}

	err = registerAll(reg, map[string]prometheus.Collector{
		syncsTotal:   m.syncs,
		lookupsTotal: m.lookups,
	})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// type check
var _ sblist.Metrics = (*SafeBrowsingList)(nil)

// HandleSync implements the [sblist.Metrics] interface for
// *SafeBrowsingList.
func (m *SafeBrowsingList) HandleSync(_ context.Context, changed bool, err error) {
	m.syncs.WithLabelValues(boolStr(err == nil), boolStr(changed)).Inc()
}

// HandleLookup implements the [sblist.Metrics] interface for
// *SafeBrowsingList.
func (m *SafeBrowsingList) HandleLookup(_ context.Context, matched bool) {
	m.lookups.WithLabelValues(boolStr(matched)).Inc()
}
