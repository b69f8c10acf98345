package graph

import (
	"errors"
	"time"

	"github.com/dshills/questforge/graph/emit"
)

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine, err := graph.New(reducer, st, router,
//	    graph.WithMaxSteps(25),
//	    graph.WithInterruptAfter("planner"),
//	    graph.WithDefaultNodeTimeout(90*time.Second),
//	)
type Option func(*engineConfig) error

// DefaultMaxSteps bounds a turn when WithMaxSteps is not given.
const DefaultMaxSteps = 25

type engineConfig struct {
	maxSteps           int
	defaultNodeTimeout time.Duration
	interruptAfter     map[string]bool
	emitter            emit.Emitter
	metrics            *PrometheusMetrics
	costTracker        *CostTracker
	eventBuffer        int
}

func defaultConfig() engineConfig {
	return engineConfig{
		maxSteps:       DefaultMaxSteps,
		interruptAfter: make(map[string]bool),
		emitter:        emit.NewNullEmitter(),
		eventBuffer:    16,
	}
}

// WithMaxSteps bounds the number of steps a single turn may run. A turn that
// reaches the bound ends with a MAX_STEPS_EXCEEDED error event; every step
// before it stays persisted.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 1 {
			return errors.New("max steps must be positive")
		}
		cfg.maxSteps = n
		return nil
	}
}

// WithInterruptAfter marks nodes as interrupt points. After such a node's
// checkpoint is persisted the turn pauses and waits for a resume.
func WithInterruptAfter(nodeIDs ...string) Option {
	return func(cfg *engineConfig) error {
		for _, id := range nodeIDs {
			if id == "" {
				return errors.New("interrupt node ID cannot be empty")
			}
			cfg.interruptAfter[id] = true
		}
		return nil
	}
}

// WithDefaultNodeTimeout bounds every node without its own policy timeout.
// Zero means unlimited.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return errors.New("default node timeout cannot be negative")
		}
		cfg.defaultNodeTimeout = d
		return nil
	}
}

// WithEmitter routes observability events to emitter.
func WithEmitter(emitter emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		if emitter != nil {
			cfg.emitter = emitter
		}
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = metrics
		return nil
	}
}

// WithCostTracker attaches a tracker that nodes can reach with
// CostTrackerFrom(ctx).
func WithCostTracker(tracker *CostTracker) Option {
	return func(cfg *engineConfig) error {
		cfg.costTracker = tracker
		return nil
	}
}

// WithEventBuffer sets the capacity of the channel returned by Stream.
func WithEventBuffer(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return errors.New("event buffer cannot be negative")
		}
		cfg.eventBuffer = n
		return nil
	}
}
