// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/provider"
	"github.com/poiesic/medfuse/strategy"
)

const (
	// DefaultProviderTimeout bounds a single provider call.
	DefaultProviderTimeout = 10 * time.Second
	// DefaultPoolSize is the number of provider calls that may run at once
	// across all in-flight queries.
	DefaultPoolSize = 64

	// joinGrace is how long Collect waits past the provider timeout for
	// calls that do not watch their context.
	joinGrace = 100 * time.Millisecond
)

// Orchestrator queries the providers of a strategy concurrently and
// concatenates what they return.
type Orchestrator struct {
	providers *provider.Set
	pool      *ants.Pool
	timeout   time.Duration
	monitor   Monitor
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithPoolSize sets the worker pool size.
func WithPoolSize(size int) Option {
	return func(o *Orchestrator) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if o.pool != nil {
			o.pool.Release()
		}
		o.pool = pool
		return nil
	}
}

// WithProviderTimeout bounds each provider call.
func WithProviderTimeout(d time.Duration) Option {
	return func(o *Orchestrator) error {
		if d <= 0 {
			return fmt.Errorf("provider timeout must be positive, got %s", d)
		}
		o.timeout = d
		return nil
	}
}

// WithMonitor sets the retrieval monitor.
func WithMonitor(m Monitor) Option {
	return func(o *Orchestrator) error {
		if m == nil {
			m = NoopMonitor()
		}
		o.monitor = m
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger.With("component", "orchestrator")
		return nil
	}
}

// NewOrchestrator creates an orchestrator over the given providers.
// Call Release when done to stop the worker pool.
func NewOrchestrator(providers *provider.Set, opts ...Option) (*Orchestrator, error) {
	if providers == nil {
		return nil, ErrProviderSetRequired
	}
	o := &Orchestrator{
		providers: providers,
		timeout:   DefaultProviderTimeout,
		monitor:   NoopMonitor(),
		logger:    slog.Default().With("component", "orchestrator"),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			o.Release()
			return nil, err
		}
	}
	if o.pool == nil {
		pool, err := ants.NewPool(DefaultPoolSize)
		if err != nil {
			return nil, err
		}
		o.pool = pool
	}
	return o, nil
}

// Release stops the worker pool.
func (o *Orchestrator) Release() {
	if o.pool != nil {
		o.pool.Release()
	}
}

type outcome struct {
	evidences []*core.Evidence
	err       error
	done      bool
}

// Collect calls every provider the strategy needs, each under its own
// timeout, and returns their evidence concatenated in the strategy's
// provider order. Failed, timed-out or missing providers are logged and
// contribute nothing. Collect never waits much longer than the provider
// timeout, even for providers that ignore their context. If ctx ends first,
// the evidence that already arrived is returned.
//
// The only error is core.ErrUnknownStrategy. All providers failing yields an
// empty slice.
func (o *Orchestrator) Collect(ctx context.Context, query *core.ProcessedQuery, s core.RetrievalStrategy) ([]*core.Evidence, error) {
	sources, err := strategy.Providers(s)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With("strategy", s)
	if query != nil {
		logger = logger.With("query_id", query.ID)
	}

	var (
		mu       sync.Mutex
		outcomes = make([]outcome, len(sources))
		wg       sync.WaitGroup
	)
	record := func(i int, evs []*core.Evidence, err error) {
		mu.Lock()
		outcomes[i] = outcome{evidences: evs, err: err, done: true}
		mu.Unlock()
	}

	for i, src := range sources {
		handle, ok := o.providers.Lookup(src)
		if !ok {
			record(i, nil, &ProviderError{Source: src, Err: ErrProviderMissing})
			continue
		}
		wg.Add(1)
		task := func() {
			defer wg.Done()
			evs, err := o.call(ctx, handle, query)
			record(i, evs, err)
		}
		if err := o.pool.Submit(task); err != nil {
			wg.Done()
			record(i, nil, &ProviderError{Source: src, Err: err})
		}
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	barrier := time.NewTimer(o.timeout + joinGrace)
	defer barrier.Stop()
	pending := ctx.Err
	select {
	case <-finished:
	case <-barrier.C:
		logger.Warn("providers still running past their timeout", "timeout", o.timeout)
		pending = func() error { return context.DeadlineExceeded }
	case <-ctx.Done():
		logger.Warn("query deadline reached before all providers finished", "err", ctx.Err())
	}

	mu.Lock()
	snapshot := append([]outcome(nil), outcomes...)
	mu.Unlock()

	evidences := []*core.Evidence{}
	for i, out := range snapshot {
		switch {
		case !out.done:
			o.fail(logger, &ProviderError{Source: sources[i], Err: pending()})
		case out.err != nil:
			var pe *ProviderError
			if !errors.As(out.err, &pe) {
				pe = &ProviderError{Source: sources[i], Err: out.err}
			}
			o.fail(logger, pe)
		default:
			evidences = append(evidences, out.evidences...)
		}
	}

	logger.Debug("collected evidence", "providers", len(sources), "evidences", len(evidences))
	o.monitor.Collected(s, evidences)
	return evidences, nil
}

// call runs one provider, turning panics and timeouts into errors.
func (o *Orchestrator) call(ctx context.Context, handle provider.Handle, query *core.ProcessedQuery) (evs []*core.Evidence, err error) {
	src := handle.Provider.Source()
	defer func() {
		if r := recover(); r != nil {
			evs = nil
			err = &ProviderError{Source: src, Err: fmt.Errorf("%w: %v", ErrProviderPanic, r)}
		}
	}()

	pctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	evs, err = handle.Provider.Retrieve(pctx, query, handle.TopK)
	if err == nil && pctx.Err() != nil {
		// Results that arrive after the timeout are discarded.
		err = pctx.Err()
	}
	if err != nil {
		return nil, &ProviderError{Source: src, Err: err}
	}
	o.monitor.ProviderSucceeded(src, len(evs), time.Since(start))
	return evs, nil
}

func (o *Orchestrator) fail(logger *slog.Logger, pe *ProviderError) {
	logger.Warn("provider unavailable", "source", pe.Source, "err", pe.Err)
	o.monitor.ProviderFailed(pe)
}
