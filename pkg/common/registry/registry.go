// Package registry is a small type-keyed singleton holder for the
// engine's optional collaborators — currently a Logger and a
// MetricsSink. A pool snapshots the registry's contents into its own
// Context at construction time, so registering a collaborator after a
// pool has started has no effect on that pool; this keeps a running
// pool's view of its dependencies immutable without requiring a lock on
// every job execution.
package registry

import (
	"sync"

	"github.com/TheEntropyCollective/taskengine/pkg/common/telemetry"
)

// Registry holds the default collaborators for the pools built from it.
// Each New call returns an independent Registry.
type Registry struct {
	mu      sync.RWMutex
	logger  telemetry.Logger
	metrics telemetry.MetricsSink
}

// New returns a Registry defaulting every collaborator to its no-op
// implementation.
func New() *Registry {
	return &Registry{
		logger:  telemetry.Nop,
		metrics: telemetry.NopMetrics,
	}
}

// SetLogger replaces the registered Logger. Passing nil resets it to
// telemetry.Nop.
func (r *Registry) SetLogger(l telemetry.Logger) {
	if l == nil {
		l = telemetry.Nop
	}
	r.mu.Lock()
	r.logger = l
	r.mu.Unlock()
}

// Logger returns the currently registered Logger.
func (r *Registry) Logger() telemetry.Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logger
}

// SetMetrics replaces the registered MetricsSink. Passing nil resets it
// to telemetry.NopMetrics.
func (r *Registry) SetMetrics(m telemetry.MetricsSink) {
	if m == nil {
		m = telemetry.NopMetrics
	}
	r.mu.Lock()
	r.metrics = m
	r.mu.Unlock()
}

// Metrics returns the currently registered MetricsSink.
func (r *Registry) Metrics() telemetry.MetricsSink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics
}

// Context is an immutable snapshot of a Registry's collaborators, taken
// once and handed to a pool at construction.
type Context struct {
	Logger  telemetry.Logger
	Metrics telemetry.MetricsSink
}

// Snapshot captures r's current collaborators into a Context.
func (r *Registry) Snapshot() Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Context{Logger: r.logger, Metrics: r.metrics}
}
