// Package fallback runs retrieval and fusion for a question and, when the
// fused confidence is too low, retries once with the comprehensive strategy.
//
// The controller is a two-state machine: an initial pass, then at most one
// fallback pass. It never runs more than two fusion passes per question.
package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/retrieval"
	"github.com/poiesic/medfuse/strategy"
)

const (
	// DefaultThreshold is the combined confidence below which fallback runs.
	DefaultThreshold = 0.5
	// DefaultQueryDeadline bounds a question when the caller set no deadline.
	DefaultQueryDeadline = 30 * time.Second
)

// Collector gathers evidence for a strategy.
type Collector interface {
	Collect(ctx context.Context, query *core.ProcessedQuery, s core.RetrievalStrategy) ([]*core.Evidence, error)
}

// Fuser combines evidence into one ranked set.
type Fuser interface {
	Fuse(evidences []*core.Evidence) *core.FusedEvidence
}

// Controller executes the initial pass and the optional fallback pass.
type Controller struct {
	collector Collector
	fuser     Fuser
	threshold float64
	deadline  time.Duration
	monitor   retrieval.Monitor
	logger    *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller) error

// WithThreshold sets the fallback threshold.
func WithThreshold(t float64) Option {
	return func(c *Controller) error {
		if !core.ValidConfidence(t) {
			return fmt.Errorf("%w: %v", ErrInvalidThreshold, t)
		}
		c.threshold = t
		return nil
	}
}

// WithQueryDeadline sets the budget applied to contexts without a deadline.
// Zero disables it.
func WithQueryDeadline(d time.Duration) Option {
	return func(c *Controller) error {
		if d < 0 {
			return fmt.Errorf("query deadline must not be negative, got %s", d)
		}
		c.deadline = d
		return nil
	}
}

// WithMonitor sets the retrieval monitor.
func WithMonitor(m retrieval.Monitor) Option {
	return func(c *Controller) error {
		if m == nil {
			m = retrieval.NoopMonitor()
		}
		c.monitor = m
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "fallback")
		return nil
	}
}

// NewController creates a controller.
func NewController(collector Collector, fuser Fuser, opts ...Option) (*Controller, error) {
	if collector == nil {
		return nil, ErrCollectorRequired
	}
	if fuser == nil {
		return nil, ErrFuserRequired
	}
	c := &Controller{
		collector: collector,
		fuser:     fuser,
		threshold: DefaultThreshold,
		deadline:  DefaultQueryDeadline,
		monitor:   retrieval.NoopMonitor(),
		logger:    slog.Default().With("component", "fallback"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Threshold returns the configured fallback threshold.
func (c *Controller) Threshold() float64 {
	return c.threshold
}

// Execute retrieves and fuses evidence for query.
//
// The strategy is query.SuggestedStrategy, or strategy.Decide(query) when
// none was suggested. If the fused confidence is below the threshold and the
// strategy is not comprehensive, one comprehensive pass replaces the result
// and its Provenance records the fallback. The same query is reused for the
// second pass.
//
// Low confidence and missing evidence are not errors. Errors are returned
// only for a query that fails core.ValidateProcessedQuery or an unknown
// strategy.
func (c *Controller) Execute(ctx context.Context, query *core.ProcessedQuery) (*core.FusedEvidence, error) {
	if err := core.ValidateProcessedQuery(query); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok && c.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.deadline)
		defer cancel()
	}

	initial := query.SuggestedStrategy
	if initial == "" {
		initial = strategy.Decide(query)
	}
	if !initial.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownStrategy, initial)
	}
	c.monitor.StrategyDecided(query, initial)
	logger := c.logger.With("query_id", query.ID, "strategy", initial)

	start := time.Now()
	first, err := c.pass(ctx, query, initial)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	if first.CombinedConfidence >= c.threshold {
		logger.Debug("confidence accepted", "combined_confidence", first.CombinedConfidence)
		return first, nil
	}

	if initial.IsMaximal() {
		logger.Warn("confidence below threshold at comprehensive strategy",
			"combined_confidence", first.CombinedConfidence, "threshold", c.threshold)
		c.monitor.FallbackExhausted(first)
		return first, nil
	}

	if reason, skip := c.budgetExhausted(ctx, elapsed); skip {
		logger.Warn("skipping fallback", "reason", reason,
			"combined_confidence", first.CombinedConfidence)
		c.monitor.FallbackSkipped(reason)
		return first, nil
	}

	fallbackStrategy := strategy.Maximal()
	logger.Info("low confidence, falling back",
		"combined_confidence", first.CombinedConfidence,
		"threshold", c.threshold,
		"fallback_strategy", fallbackStrategy)

	second, err := c.pass(ctx, query, fallbackStrategy)
	if err != nil {
		return nil, err
	}
	second.Provenance = core.Provenance{
		FallbackApplied:       true,
		OriginalStrategy:      initial,
		FallbackStrategy:      fallbackStrategy,
		PreFallbackConfidence: first.CombinedConfidence,
	}
	c.monitor.FallbackApplied(second.Provenance)

	if second.CombinedConfidence < c.threshold {
		logger.Warn("confidence still below threshold after fallback",
			"combined_confidence", second.CombinedConfidence,
			"pre_fallback_confidence", first.CombinedConfidence)
		c.monitor.FallbackExhausted(second)
	}
	return second, nil
}

func (c *Controller) pass(ctx context.Context, query *core.ProcessedQuery, s core.RetrievalStrategy) (*core.FusedEvidence, error) {
	evidences, err := c.collector.Collect(ctx, query, s)
	if err != nil {
		return nil, err
	}
	fused := c.fuser.Fuse(evidences)
	fused.Strategy = s
	c.monitor.Fused(s, fused)
	return fused, nil
}

// budgetExhausted reports whether a second pass would likely overrun the
// query deadline, estimating its cost as the duration of the first pass.
func (c *Controller) budgetExhausted(ctx context.Context, firstPass time.Duration) (string, bool) {
	if err := ctx.Err(); err != nil {
		return err.Error(), true
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return "", false
	}
	if remaining := time.Until(deadline); remaining < firstPass {
		return fmt.Sprintf("remaining budget %s shorter than initial pass %s",
			remaining.Round(time.Millisecond), firstPass.Round(time.Millisecond)), true
	}
	return "", false
}
