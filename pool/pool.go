// Package pool fans a unit of work out over a set of nodes, one dedicated
// connection per source, and joins on all of them.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"simfleet/executor"
	"simfleet/logging"
	"simfleet/model"
)

// ErrTerminated is returned for sources whose connection was opened after the
// pool had been terminated.
var ErrTerminated = errors.New("connection pool terminated")

// Source is one unit of fan-out: the node to connect to, the payload handed
// to the work function and the log recording the connection's commands.
type Source[T any] struct {
	Node    model.Node
	Payload T
	Log     *logging.CommandLog
}

// NodeSources builds payload-less sources, one per node, each with its own
// command log named after the operation.
func NodeSources(operation string, nodes []model.Node) []Source[struct{}] {
	sources := make([]Source[struct{}], 0, len(nodes))
	for _, node := range nodes {
		sources = append(sources, Source[struct{}]{
			Node: node,
			Log:  logging.NewCommandLog(operation, node.Address),
		})
	}
	return sources
}

// DialFunc opens a connection for node.
type DialFunc func(ctx context.Context, node model.Node, log *logging.CommandLog) (executor.Executor, error)

// Func is the work run once per source over its own connection.
type Func[T any] func(ctx context.Context, e executor.Executor, source Source[T]) error

// Option configures a Pool.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	maxDials int64
}

// WithLogger sets the logger used for connection lifecycle messages.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMaxConcurrentDials bounds how many connections are being established at
// once. Work itself is never bounded.
func WithMaxConcurrentDials(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxDials = int64(n)
		}
	}
}

// Pool runs work concurrently over one fresh connection per source.
type Pool[T any] struct {
	sources []Source[T]
	dial    DialFunc
	logger  *zap.Logger
	dials   *semaphore.Weighted

	mu         sync.Mutex
	open       map[executor.Executor]struct{}
	terminated bool
}

// New creates a pool over sources.
func New[T any](sources []Source[T], dial DialFunc, opts ...Option) *Pool[T] {
	o := options{logger: zap.NewNop(), maxDials: 16}
	for _, opt := range opts {
		opt(&o)
	}
	return &Pool[T]{
		sources: sources,
		dial:    dial,
		logger:  o.logger.Named("pool"),
		dials:   semaphore.NewWeighted(o.maxDials),
		open:    make(map[executor.Executor]struct{}),
	}
}

// Execute runs fn once per source and blocks until every invocation has
// returned. Failures are combined in source order; nil is returned only if
// every source succeeded. Cancelling ctx terminates every open connection.
func (p *Pool[T]) Execute(ctx context.Context, fn Func[T]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			p.logger.Warn("operation cancelled, terminating connections")
			p.Terminate()
		case <-finished:
		}
	}()

	errs := make([]error, len(p.sources))
	var wg sync.WaitGroup
	for i, source := range p.sources {
		wg.Add(1)
		go func(i int, source Source[T]) {
			defer wg.Done()
			errs[i] = p.run(ctx, fn, source)
		}(i, source)
	}
	wg.Wait()

	return multierr.Combine(errs...)
}

func (p *Pool[T]) run(ctx context.Context, fn Func[T], source Source[T]) error {
	logger := p.logger.With(zap.String("node", source.Node.Address))

	if err := p.dials.Acquire(ctx, 1); err != nil {
		return err
	}
	e, err := p.dial(ctx, source.Node, source.Log)
	p.dials.Release(1)
	if err != nil {
		logger.Error("failed to connect", zap.Error(err))
		return fmt.Errorf("failed to connect to %s: %w", source.Node.Address, err)
	}

	if !p.register(e) {
		e.Terminate()
		return ErrTerminated
	}
	defer p.release(e)

	logger.Debug("connected")
	if err := fn(ctx, e, source); err != nil {
		logger.Debug("source failed", zap.Error(err))
		return err
	}
	return nil
}

func (p *Pool[T]) register(e executor.Executor) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated {
		return false
	}
	p.open[e] = struct{}{}
	return true
}

func (p *Pool[T]) release(e executor.Executor) {
	p.mu.Lock()
	_, ok := p.open[e]
	delete(p.open, e)
	p.mu.Unlock()
	if ok {
		e.Terminate()
	}
}

// Terminate closes every connection opened so far and refuses new ones.
// In-flight commands on those connections are aborted.
func (p *Pool[T]) Terminate() {
	p.mu.Lock()
	p.terminated = true
	open := make([]executor.Executor, 0, len(p.open))
	for e := range p.open {
		open = append(open, e)
	}
	p.mu.Unlock()

	for _, e := range open {
		e.Terminate()
	}
}
