package graph

import "time"

// Options collects engine configuration. The zero value gives sensible
// defaults: no step ceiling beyond DefaultMaxSteps, no per-node timeout, a
// single attempt per wave, and no metrics.
type Options struct {
	// MaxSteps bounds the number of execution steps per run. Zero means
	// DefaultMaxSteps. The round-counter loop guard is the primary loop
	// bound; MaxSteps is the backstop behind it.
	MaxSteps int

	// NodeTimeout is the maximum execution time for a single node. Zero
	// disables the timeout.
	NodeTimeout time.Duration

	// Retry controls wave retry behavior. Nil means a single attempt.
	Retry *RetryPolicy

	// Metrics receives execution metrics. Nil disables collection.
	Metrics *Metrics
}

// DefaultMaxSteps is the step ceiling applied when Options.MaxSteps is zero.
const DefaultMaxSteps = 1000

// Option configures an Engine at construction time.
//
// Example:
//
//	eng := graph.NewEngine(g, store, emitter,
//	    graph.WithMaxSteps(50),
//	    graph.WithNodeTimeout(10*time.Second),
//	    graph.WithRetryPolicy(&graph.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}),
//	)
type Option func(*Options) error

// WithMaxSteps limits a run to n execution steps. A run that reaches the
// limit fails with ErrMaxSteps; its last checkpoint remains loadable.
func WithMaxSteps(n int) Option {
	return func(o *Options) error {
		o.MaxSteps = n
		return nil
	}
}

// WithNodeTimeout sets the per-node execution deadline. Nodes receive a
// context carrying the deadline and are abandoned once it passes.
func WithNodeTimeout(d time.Duration) Option {
	return func(o *Options) error {
		o.NodeTimeout = d
		return nil
	}
}

// WithRetryPolicy sets the wave retry policy. The policy is validated
// eagerly so a bad configuration fails at construction rather than during
// the first failed wave.
func WithRetryPolicy(rp *RetryPolicy) Option {
	return func(o *Options) error {
		if rp != nil {
			if err := rp.Validate(); err != nil {
				return err
			}
		}
		o.Retry = rp
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
//
//	registry := prometheus.NewRegistry()
//	eng := graph.NewEngine(g, store, emitter, graph.WithMetrics(graph.NewMetrics(registry)))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func WithMetrics(m *Metrics) Option {
	return func(o *Options) error {
		o.Metrics = m
		return nil
	}
}
