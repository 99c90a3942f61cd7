// Package metrics contains the Prometheus implementations of the Metrics
// interfaces of the other AdGuardGSB packages.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// namespace is the namespace of all AdGuardGSB metrics.
const namespace = "gsb"

// Subsystem names.
const (
	subsystemProtocol = "protocol"
	subsystemSync     = "sync"
	subsystemLookup   = "lookup"
)

// Namespace returns the namespace of the AdGuardGSB metrics.
func Namespace() (ns string) {
	return namespace
}

// registerAll registers every collector in collectors with reg, annotating
// errors with the corresponding name.
func registerAll(reg prometheus.Registerer, collectors map[string]prometheus.Collector) (err error) {
	for name, coll := range collectors {
		err = reg.Register(coll)
		if err != nil {
			return fmt.Errorf("registering metric %q: %w", name, err)
		}
	}

	return nil
}
