package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the environment run by Run().
type Option func(o *opts)

type opts struct {
	gatherer      prometheus.Gatherer
	debugHandlers map[string]http.Handler
}

// WithGatherer configures the Prometheus gatherer served on /metrics.
// Defaults to the default Prometheus registry.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(o *opts) {
		o.gatherer = gatherer
	}
}

// WithDebugHandler installs an additional handler on the debug HTTP server.
func WithDebugHandler(pattern string, handler http.Handler) Option {
	return func(o *opts) {
		o.debugHandlers[pattern] = handler
	}
}
