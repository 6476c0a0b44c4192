package engine

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/corekit/internal/config"
	"github.com/xraph/corekit/internal/di"
	"github.com/xraph/corekit/internal/discovery"
	"github.com/xraph/corekit/internal/logger"
	"github.com/xraph/corekit/internal/metrics"
)

// options stores everything an Option can set before the engine is built.
type options struct {
	logger             logger.Logger
	metrics            *metrics.Collector
	config             *config.Config
	catalog            *discovery.Catalog
	finderOptions      []discovery.FinderOption
	duplicatePolicy    di.DuplicatePolicy
	tracerProvider     trace.TracerProvider
	tolerateDuplicates bool
	discovery          bool
}

func defaultOptions() options {
	return options{
		duplicatePolicy: di.ReplaceExisting,
		discovery:       true,
	}
}

type Option func(*options)

func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the collector; by default each engine gets its own.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithConfig sets the configuration; by default the engine starts empty.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithCatalog scans catalog instead of discovery.DefaultCatalog.
func WithCatalog(c *discovery.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithFinderOptions passes options through to the discovery finder.
func WithFinderOptions(opts ...discovery.FinderOption) Option {
	return func(o *options) { o.finderOptions = append(o.finderOptions, opts...) }
}

// WithDuplicatePolicy sets how the registry treats re-registration.
func WithDuplicatePolicy(p di.DuplicatePolicy) Option {
	return func(o *options) { o.duplicatePolicy = p }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithTaskDuplicateTolerance ignores a second startup task with a name
// already in use instead of failing.
func WithTaskDuplicateTolerance() Option {
	return func(o *options) { o.tolerateDuplicates = true }
}

// WithoutDiscovery disables catalog scanning; only tasks and services
// added explicitly are used.
func WithoutDiscovery() Option {
	return func(o *options) { o.discovery = false }
}
