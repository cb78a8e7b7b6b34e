// Package flight is a per-key single-flight controller for outbound
// generation calls. At most one operation is in progress per key: starting a
// new one always supersedes (cancels) any predecessor for the same key.
// Operations on different keys are fully independent.
//
// Retries are bounded and error-driven: an operation failing with a
// retryable error (artcache.IsRetryable) is attempted once more after an
// exponential backoff; any other failure is terminal. Cancellation is
// cooperative - the marker is checked before each attempt and immediately
// after waking from backoff, and the operation's context is cancelled so
// in-flight network calls can abort. Timeouts are the collaborator's job;
// the orchestrator only reacts to the result it receives.
package flight

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/artcache"
)

const (
	defaultMaxAttempts = 2
	defaultBaseDelay   = time.Second
)

// Result is the discriminated outcome of Execute. Execute never panics or
// returns an error across its boundary - failures and cancellations are
// carried here.
type Result[T any] struct {
	Success   bool
	Data      T
	Err       error
	Cancelled bool
	Attempts  int
}

// marker is the in-flight record for one key. Its presence in the active map
// means "single request outstanding for this key"; its context is the
// cancellation signal threaded into the operation.
type marker struct {
	ctx    context.Context
	cancel context.CancelFunc
}

type Options struct {
	MaxAttempts int             // total attempts per Execute; 0 => 2
	BaseDelay   time.Duration   // backoff base; delay = BaseDelay * 2^attempt; 0 => 1s
	Logger      artcache.Logger // nil => NopLogger
}

// Orchestrator holds the per-key marker map. Safe for concurrent use.
type Orchestrator struct {
	mu     sync.Mutex
	active map[string]*marker

	maxAttempts int
	baseDelay   time.Duration
	log         artcache.Logger
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		active:      make(map[string]*marker),
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		log:         opts.Logger,
	}
	if o.maxAttempts <= 0 {
		o.maxAttempts = defaultMaxAttempts
	}
	if o.baseDelay <= 0 {
		o.baseDelay = defaultBaseDelay
	}
	if o.log == nil {
		o.log = artcache.NopLogger{}
	}
	return o
}

// Execute runs op under single-flight for key. Any marker already registered
// for the key is cancelled and replaced before the first attempt. op must be
// idempotent: it may run up to MaxAttempts times.
//
// The returned Result is Cancelled when the marker was removed externally
// (Cancel/CancelAll), superseded by a newer Execute for the same key, or the
// caller's ctx ended.
func Execute[T any](ctx context.Context, o *Orchestrator, key string, op func(context.Context) (T, error)) Result[T] {
	m := o.begin(ctx, key)
	defer o.finish(key, m)

	var lastErr error
	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		if !o.isCurrent(key, m) || m.ctx.Err() != nil {
			return Result[T]{Cancelled: true, Attempts: attempt}
		}

		data, err := run(m.ctx, op)
		if m.ctx.Err() != nil {
			return Result[T]{Cancelled: true, Attempts: attempt + 1}
		}
		if err == nil {
			return Result[T]{Success: true, Data: data, Attempts: attempt + 1}
		}
		lastErr = err

		if !artcache.IsRetryable(err) || attempt == o.maxAttempts-1 {
			return Result[T]{Err: err, Attempts: attempt + 1}
		}

		delay := o.baseDelay * (1 << attempt)
		o.log.Debug("retrying after backoff", artcache.Fields{"key": key, "attempt": attempt, "delay": delay.String(), "err": err})

		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return Result[T]{Cancelled: true, Attempts: attempt + 1}
		case <-timer.C:
			// marker re-checked at the top of the loop
		}
	}

	return Result[T]{Err: lastErr, Attempts: o.maxAttempts}
}

// run invokes op, converting a panic into a failure error so nothing escapes
// the orchestrator boundary.
func run[T any](ctx context.Context, op func(context.Context) (T, error)) (data T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(ctx)
}

// Cancel removes key's marker and cancels its context, reporting whether one
// was active. The running Execute observes it at its next suspension point.
func (o *Orchestrator) Cancel(key string) bool {
	o.mu.Lock()
	m, ok := o.active[key]
	if ok {
		delete(o.active, key)
	}
	o.mu.Unlock()

	if ok {
		m.cancel()
	}
	return ok
}

// CancelAll cancels every active marker and returns how many there were.
// ActiveCount is 0 immediately after.
func (o *Orchestrator) CancelAll() int {
	o.mu.Lock()
	ms := make([]*marker, 0, len(o.active))
	for _, m := range o.active {
		ms = append(ms, m)
	}
	o.active = make(map[string]*marker)
	o.mu.Unlock()

	for _, m := range ms {
		m.cancel()
	}
	return len(ms)
}

// HasActive reports whether a marker is registered for key.
func (o *Orchestrator) HasActive(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[key]
	return ok
}

// ActiveCount returns the number of keys with an outstanding request.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// begin supersedes any existing marker for key and registers a fresh one.
func (o *Orchestrator) begin(ctx context.Context, key string) *marker {
	opCtx, cancel := context.WithCancel(ctx)
	m := &marker{ctx: opCtx, cancel: cancel}

	o.mu.Lock()
	prev := o.active[key]
	o.active[key] = m
	o.mu.Unlock()

	if prev != nil {
		prev.cancel()
		o.log.Debug("superseded in-flight request", artcache.Fields{"key": key})
	}
	return m
}

// finish deregisters m if it is still the current marker for key and releases
// its context. A marker replaced by a newer Execute is left alone.
func (o *Orchestrator) finish(key string, m *marker) {
	o.mu.Lock()
	if o.active[key] == m {
		delete(o.active, key)
	}
	o.mu.Unlock()
	m.cancel()
}

// isCurrent reports whether m is still the registered marker for key.
func (o *Orchestrator) isCurrent(key string, m *marker) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[key] == m
}
