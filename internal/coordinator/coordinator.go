package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default tuning values applied when Options leaves them zero.
const (
	// DefaultTimeout bounds a single fetch when Options.Timeout is zero.
	DefaultTimeout = 10 * time.Second

	// DefaultFailureThreshold is the consecutive-failure count at which
	// a single escalated error is logged.
	DefaultFailureThreshold = 5
)

// Snapshot is the opaque payload produced by a fetch. The coordinator
// never inspects it; consumers assert the concrete type they stored.
type Snapshot = any

// FetchFunc retrieves a fresh snapshot from the underlying source.
// The context carries the per-fetch timeout and must be honoured for
// cancellation to take effect promptly.
type FetchFunc func(ctx context.Context) (Snapshot, error)

// Logger is the minimal logging interface the coordinator needs.
// It is satisfied by logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Coordinator.
type Options struct {
	// Name identifies the coordinator in logs and the API. Required.
	Name string

	// Fetch retrieves a fresh snapshot. Required.
	Fetch FetchFunc

	// Interval is the fixed polling cadence for Start. Zero means the
	// coordinator is refresh-on-demand only; negative is invalid.
	Interval time.Duration

	// Timeout bounds each individual fetch. Defaults to DefaultTimeout.
	Timeout time.Duration

	// FailureThreshold is the consecutive-failure count at which one
	// escalated error is logged. Defaults to DefaultFailureThreshold.
	FailureThreshold int

	// Logger receives lifecycle and failure logs. Optional.
	Logger Logger
}

// Coordinator fetches data from a single source on a fixed cadence,
// coalesces concurrent refresh requests into one in-flight fetch, and
// fans the outcome of every attempt out to registered listeners.
//
// All methods are safe for concurrent use.
type Coordinator struct {
	id               string
	name             string
	fetch            FetchFunc
	timeout          time.Duration
	failureThreshold int
	logger           Logger

	mu                  sync.Mutex
	interval            time.Duration
	data                Snapshot
	hasData             bool
	lastSuccess         bool
	lastErr             error
	lastUpdated         time.Time
	consecutiveFailures int
	attempted           bool
	inflight            *attempt
	listeners           map[int]func()
	nextListenerID      int
	pollRunning         bool
	stopped             bool
	stopCh              chan struct{}
}

// attempt tracks one in-flight fetch so concurrent callers can share
// its outcome instead of issuing their own.
type attempt struct {
	done chan struct{}
	err  error
}

// New creates a Coordinator from the given options.
func New(opts Options) (*Coordinator, error) {
	if opts.Fetch == nil {
		return nil, ErrNilFetch
	}
	if opts.Name == "" {
		return nil, ErrMissingName
	}
	if opts.Interval < 0 {
		return nil, ErrInvalidInterval
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	threshold := opts.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Coordinator{
		id:               uuid.NewString(),
		name:             opts.Name,
		fetch:            opts.Fetch,
		timeout:          timeout,
		failureThreshold: threshold,
		logger:           logger,
		interval:         opts.Interval,
		listeners:        make(map[int]func()),
		stopCh:           make(chan struct{}),
	}, nil
}

// ID returns the coordinator's unique instance identifier.
func (c *Coordinator) ID() string {
	return c.id
}

// Name returns the coordinator's configured name.
func (c *Coordinator) Name() string {
	return c.name
}

// Interval returns the current polling interval.
func (c *Coordinator) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// SetInterval changes the polling cadence. The new interval takes
// effect after the next scheduled fetch completes.
func (c *Coordinator) SetInterval(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidInterval
	}
	c.mu.Lock()
	c.interval = d
	c.mu.Unlock()
	return nil
}

// Data returns the most recent successful snapshot, or nil if no fetch
// has ever succeeded. A failed fetch never clears previously good data.
func (c *Coordinator) Data() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

// HasData reports whether at least one fetch has ever succeeded.
func (c *Coordinator) HasData() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasData
}

// LastUpdateSuccess reports whether the most recent completed fetch
// succeeded. It is false until the first attempt completes.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccess
}

// LastError returns the error from the most recent failed fetch, or
// nil if the last fetch succeeded.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LastUpdated returns when the last successful fetch completed, or the
// zero time if none has.
func (c *Coordinator) LastUpdated() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdated
}

// ConsecutiveFailures returns the current run of failed fetches.
func (c *Coordinator) ConsecutiveFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveFailures
}

// AddListener registers a callback invoked after every completed fetch
// attempt, successful or not. The callback runs on the fetching
// goroutine and must not block.
//
// The returned remove function unregisters the listener. Calling it
// more than once is harmless.
func (c *Coordinator) AddListener(fn func()) (remove func()) {
	c.mu.Lock()
	id := c.nextListenerID
	c.nextListenerID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Refresh fetches a fresh snapshot, or joins an already in-flight
// fetch and shares its outcome. It returns nil on success, the fetch
// error on failure, or ctx.Err() if the caller's context expires while
// waiting on a fetch another caller started.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrShutDown
	}
	if att := c.inflight; att != nil {
		c.mu.Unlock()
		select {
		case <-att.done:
			return att.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	att := &attempt{done: make(chan struct{})}
	c.inflight = att
	c.mu.Unlock()

	att.err = c.executeFetch(ctx)

	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()
	close(att.done)

	return att.err
}

// FirstRefresh performs the initial fetch during setup. A failure on
// the very first attempt is wrapped in *StartupError so callers can
// treat "never worked" differently from a transient failure later.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	c.mu.Lock()
	first := !c.attempted
	c.mu.Unlock()

	err := c.Refresh(ctx)
	if err != nil && first && !errors.Is(err, ErrShutDown) {
		return &StartupError{Name: c.name, Err: err}
	}
	return err
}

// Start launches the periodic polling loop. It returns
// ErrInvalidInterval if the coordinator was created without a polling
// interval, and is a no-op if polling is already running.
//
// The loop stops when ctx is cancelled or Shutdown is called. The
// cadence is fixed: failures do not trigger backoff or early retries.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrShutDown
	}
	if c.interval <= 0 {
		c.mu.Unlock()
		return ErrInvalidInterval
	}
	if c.pollRunning {
		c.mu.Unlock()
		return nil
	}
	c.pollRunning = true
	stop := c.stopCh
	c.mu.Unlock()

	go c.pollLoop(ctx, stop)
	return nil
}

// pollLoop refreshes at the configured cadence until stopped.
func (c *Coordinator) pollLoop(ctx context.Context, stop <-chan struct{}) {
	c.logger.Debug("coordinator polling started",
		"coordinator", c.name,
		"interval", c.Interval().String())

	timer := time.NewTimer(c.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-timer.C:
		}

		// Errors are recorded in coordinator state and logged by
		// executeFetch; the loop itself never stops on failure.
		_ = c.Refresh(ctx) //nolint:errcheck

		timer.Reset(c.Interval())
	}
}

// Shutdown stops polling and prevents further state changes. Any fetch
// still in flight runs to completion but its result is discarded and
// listeners are not notified. Shutdown is idempotent.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	c.logger.Debug("coordinator shut down", "coordinator", c.name)
}

// executeFetch runs one fetch attempt, records the outcome, and
// notifies listeners. It returns the attempt's error, if any.
func (c *Coordinator) executeFetch(ctx context.Context) error {
	fctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()

	type fetchResult struct {
		data Snapshot
		err  error
	}
	resCh := make(chan fetchResult, 1)
	go func() {
		data, err := c.fetch(fctx)
		resCh <- fetchResult{data: data, err: err}
	}()

	var data Snapshot
	var err error
	select {
	case res := <-resCh:
		data, err = res.data, res.err
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %v", ErrFetchTimeout, c.timeout)
		}
	case <-fctx.Done():
		// The fetch did not return before its context expired. Abandon
		// it rather than wait on a function that ignores cancellation.
		if errors.Is(fctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %v", ErrFetchTimeout, c.timeout)
		} else {
			err = fctx.Err()
		}
	}

	elapsed := time.Since(start)

	c.mu.Lock()
	if c.stopped {
		// Shutdown raced the fetch. Discard the result so state stays
		// frozen and listeners are not re-notified.
		c.mu.Unlock()
		return err
	}

	c.attempted = true
	if err == nil {
		c.recordSuccess(data, elapsed)
	} else {
		c.recordFailure(err, elapsed)
	}

	listeners := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}

	return err
}

// recordSuccess updates state after a successful fetch. Caller holds mu.
func (c *Coordinator) recordSuccess(data Snapshot, elapsed time.Duration) {
	recovered := c.consecutiveFailures > 0

	c.data = data
	c.hasData = true
	c.lastSuccess = true
	c.lastErr = nil
	c.lastUpdated = time.Now()
	c.consecutiveFailures = 0

	if recovered {
		c.logger.Info("fetch recovered",
			"coordinator", c.name,
			"elapsed", elapsed.String())
	} else {
		c.logger.Debug("fetch completed",
			"coordinator", c.name,
			"elapsed", elapsed.String())
	}
}

// recordFailure updates state after a failed fetch and applies the
// escalation policy: first failure at warning, repeats of the same
// error at debug, a new error message back at warning, and exactly one
// error-level entry when the run reaches the failure threshold. Caller
// holds mu.
func (c *Coordinator) recordFailure(err error, elapsed time.Duration) {
	sameAsLast := c.lastErr != nil && c.lastErr.Error() == err.Error()

	c.lastSuccess = false
	c.lastErr = err
	c.consecutiveFailures++

	args := []any{
		"coordinator", c.name,
		"error", err,
		"consecutive_failures", c.consecutiveFailures,
		"elapsed", elapsed.String(),
	}

	switch {
	case c.consecutiveFailures == c.failureThreshold:
		c.logger.Error("fetch failing repeatedly", args...)
	case sameAsLast:
		c.logger.Debug("fetch failed", args...)
	default:
		c.logger.Warn("fetch failed", args...)
	}
}
