package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// staticFetch returns a fetch function that always yields the given
// snapshot and error.
func staticFetch(data Snapshot, err error) FetchFunc {
	return func(ctx context.Context) (Snapshot, error) {
		return data, err
	}
}

// captureLogger records the level of every fetch outcome log entry.
type captureLogger struct {
	mu     sync.Mutex
	levels []string
}

func (l *captureLogger) record(level, msg string) {
	// Ignore lifecycle chatter; only fetch outcomes matter here.
	if !strings.HasPrefix(msg, "fetch") {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levels = append(l.levels, level)
}

func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg) }

func (l *captureLogger) recorded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.levels...)
}

// TestNew verifies option validation.
func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr error
	}{
		{
			name: "valid",
			opts: Options{Name: "weather", Fetch: staticFetch(nil, nil)},
		},
		{
			name:    "missing fetch",
			opts:    Options{Name: "weather"},
			wantErr: ErrNilFetch,
		},
		{
			name:    "missing name",
			opts:    Options{Fetch: staticFetch(nil, nil)},
			wantErr: ErrMissingName,
		},
		{
			name:    "negative interval",
			opts:    Options{Name: "weather", Fetch: staticFetch(nil, nil), Interval: -time.Second},
			wantErr: ErrInvalidInterval,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.opts)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil {
				if c == nil {
					t.Fatal("New() returned nil coordinator")
				}
				if c.ID() == "" {
					t.Error("ID() is empty")
				}
				if c.Name() != tt.opts.Name {
					t.Errorf("Name() = %q, want %q", c.Name(), tt.opts.Name)
				}
			}
		})
	}
}

// TestRefresh_Success verifies state after a successful fetch.
func TestRefresh_Success(t *testing.T) {
	c, err := New(Options{
		Name:  "weather",
		Fetch: staticFetch(map[string]float64{"temp": 21}, nil),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Shutdown()

	if c.LastUpdateSuccess() {
		t.Error("LastUpdateSuccess() = true before first fetch")
	}
	if c.Data() != nil {
		t.Error("Data() non-nil before first fetch")
	}

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	data, ok := c.Data().(map[string]float64)
	if !ok || data["temp"] != 21 {
		t.Errorf("Data() = %v, want temp=21", c.Data())
	}
	if !c.LastUpdateSuccess() {
		t.Error("LastUpdateSuccess() = false after success")
	}
	if c.LastError() != nil {
		t.Errorf("LastError() = %v, want nil", c.LastError())
	}
	if c.ConsecutiveFailures() != 0 {
		t.Errorf("ConsecutiveFailures() = %d, want 0", c.ConsecutiveFailures())
	}
	if c.LastUpdated().IsZero() {
		t.Error("LastUpdated() is zero after success")
	}
	if !c.HasData() {
		t.Error("HasData() = false after success")
	}
}

// TestRefresh_FailureKeepsStaleData verifies the last good snapshot
// survives a failed fetch.
func TestRefresh_FailureKeepsStaleData(t *testing.T) {
	fetchErr := errors.New("connection refused")
	var fail atomic.Bool

	c, err := New(Options{
		Name: "weather",
		Fetch: func(ctx context.Context) (Snapshot, error) {
			if fail.Load() {
				return nil, fetchErr
			}
			return map[string]float64{"temp": 21}, nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Shutdown()

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh() error = %v", err)
	}

	fail.Store(true)
	if err := c.Refresh(context.Background()); !errors.Is(err, fetchErr) {
		t.Fatalf("second Refresh() error = %v, want %v", err, fetchErr)
	}

	data, ok := c.Data().(map[string]float64)
	if !ok || data["temp"] != 21 {
		t.Errorf("Data() = %v, want stale temp=21", c.Data())
	}
	if c.LastUpdateSuccess() {
		t.Error("LastUpdateSuccess() = true after failure")
	}
	if !errors.Is(c.LastError(), fetchErr) {
		t.Errorf("LastError() = %v, want %v", c.LastError(), fetchErr)
	}
	if c.ConsecutiveFailures() != 1 {
		t.Errorf("ConsecutiveFailures() = %d, want 1", c.ConsecutiveFailures())
	}
}

// TestRefresh_ConsecutiveFailuresReset verifies the failure counter
// resets on recovery.
func TestRefresh_ConsecutiveFailuresReset(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	c, err := New(Options{
		Name: "weather",
		Fetch: func(ctx context.Context) (Snapshot, error) {
			if fail.Load() {
				return nil, errors.New("unreachable")
			}
			return "ok", nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Shutdown()

	for i := 0; i < 3; i++ {
		if err := c.Refresh(context.Background()); err == nil {
			t.Fatal("Refresh() succeeded, want failure")
		}
	}
	if c.ConsecutiveFailures() != 3 {
		t.Fatalf("ConsecutiveFailures() = %d, want 3", c.ConsecutiveFailures())
	}

	fail.Store(false)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if c.ConsecutiveFailures() != 0 {
		t.Errorf("ConsecutiveFailures() = %d, want 0", c.ConsecutiveFailures())
	}
}

// TestRefresh_LogEscalation verifies failure log severity: first
// failure warns, identical repeats drop to debug, the threshold run
// logs one error entry, and recovery logs at info.
func TestRefresh_LogEscalation(t *testing.T) {
	t.Run("repeat failures then recovery", func(t *testing.T) {
		log := &captureLogger{}
		var fail atomic.Bool
		fail.Store(true)

		c, err := New(Options{
			Name:             "flaky",
			FailureThreshold: 3,
			Logger:           log,
			Fetch: func(ctx context.Context) (Snapshot, error) {
				if fail.Load() {
					return nil, errors.New("connection refused")
				}
				return "ok", nil
			},
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer c.Shutdown()

		for i := 0; i < 3; i++ {
			if err := c.Refresh(context.Background()); err == nil {
				t.Fatal("Refresh() succeeded, want failure")
			}
		}
		fail.Store(false)
		if err := c.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}

		want := []string{"warn", "debug", "error", "info"}
		got := log.recorded()
		if len(got) != len(want) {
			t.Fatalf("log levels = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("log levels = %v, want %v", got, want)
			}
		}
	})

	t.Run("new error returns to warning", func(t *testing.T) {
		log := &captureLogger{}
		var errMsg atomic.Value
		errMsg.Store("connection refused")

		c, err := New(Options{
			Name:             "flaky",
			FailureThreshold: 10,
			Logger:           log,
			Fetch: func(ctx context.Context) (Snapshot, error) {
				return nil, errors.New(errMsg.Load().(string))
			},
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer c.Shutdown()

		for i := 0; i < 2; i++ {
			if err := c.Refresh(context.Background()); err == nil {
				t.Fatal("Refresh() succeeded, want failure")
			}
		}
		errMsg.Store("host unreachable")
		if err := c.Refresh(context.Background()); err == nil {
			t.Fatal("Refresh() succeeded, want failure")
		}

		want := []string{"warn", "debug", "warn"}
		got := log.recorded()
		if len(got) != len(want) {
			t.Fatalf("log levels = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("log levels = %v, want %v", got, want)
			}
		}
	})
}

// TestRefresh_Timeout verifies a slow fetch is reported as a timeout.
func TestRefresh_Timeout(t *testing.T) {
	c, err := New(Options{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Fetch: func(ctx context.Context) (Snapshot, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Shutdown()

	if err := c.Refresh(context.Background()); !errors.Is(err, ErrFetchTimeout) {
		t.Errorf("Refresh() error = %v, want ErrFetchTimeout", err)
	}
	if !errors.Is(c.LastError(), ErrFetchTimeout) {
		t.Errorf("LastError() = %v, want ErrFetchTimeout", c.LastError())
	}
}

// TestRefresh_TimeoutAbandonsStuckFetch verifies a fetch that ignores
// its context does not block the refresh.
func TestRefresh_TimeoutAbandonsStuckFetch(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	c, err := New(Options{
		Name:    "stuck",
		Timeout: 20 * time.Millisecond,
		Fetch: func(ctx context.Context) (Snapshot, error) {
			<-release
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Shutdown()

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrFetchTimeout) {
			t.Errorf("Refresh() error = %v, want ErrFetchTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Refresh() did not return after timeout")
	}
}

// TestRefresh_Coalescing verifies concurrent refreshes share one fetch.
func TestRefresh_Coalescing(t *testing.T) {
	var fetches atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})

	c, err := New(Options{
		Name: "shared",
		Fetch: func(ctx context.Context) (Snapshot, error) {
			fetches.Add(1)
			close(entered)
			<-release
			return "payload", nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Shutdown()

	// First caller starts the fetch and blocks inside it.
	results := make(chan error, 6)
	go func() { results <- c.Refresh(context.Background()) }()
	<-entered

	// Five more callers must join the in-flight fetch.
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.Refresh(context.Background())
		}()
	}

	// Give the joiners a moment to park on the in-flight attempt.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < 6; i++ {
		if err := <-results; err != nil {
			t.Errorf("Refresh() error = %v", err)
		}
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("fetch ran %d times, want 1", got)
	}
}

// TestRefresh_CoalescedCallerContext verifies a waiting caller can bail
// out on its own context without affecting the in-flight fetch.
func TestRefresh_CoalescedCallerContext(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	c, err := New(Options{
		Name: "shared",
		Fetch: func(ctx context.Context) (Snapshot, error) {
			close(entered)
			<-release
			return "payload", nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Shutdown()

	first := make(chan error, 1)
	go func() { first <- c.Refresh(context.Background()) }()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	second := make(chan error, 1)
	go func() { second <- c.Refresh(ctx) }()

	cancel()
	select {
	case err := <-second:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("waiting Refresh() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiting Refresh() did not return after cancel")
	}

	close(release)
	if err := <-first; err != nil {
		t.Errorf("original Refresh() error = %v", err)
	}
}

// TestFirstRefresh verifies startup failures are wrapped distinctly.
func TestFirstRefresh(t *testing.T) {
	t.Run("first failure wrapped", func(t *testing.T) {
		c, err := New(Options{
			Name:  "weather",
			Fetch: staticFetch(nil, errors.New("boom")),
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer c.Shutdown()

		err = c.FirstRefresh(context.Background())
		var startupErr *StartupError
		if !errors.As(err, &startupErr) {
			t.Fatalf("FirstRefresh() error = %v, want *StartupError", err)
		}
		if startupErr.Name != "weather" {
			t.Errorf("StartupError.Name = %q, want %q", startupErr.Name, "weather")
		}
	})

	t.Run("later failure not wrapped", func(t *testing.T) {
		var fail atomic.Bool

		c, err := New(Options{
			Name: "weather",
			Fetch: func(ctx context.Context) (Snapshot, error) {
				if fail.Load() {
					return nil, errors.New("boom")
				}
				return "ok", nil
			},
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer c.Shutdown()

		if err := c.FirstRefresh(context.Background()); err != nil {
			t.Fatalf("FirstRefresh() error = %v", err)
		}

		fail.Store(true)
		err = c.Refresh(context.Background())
		var startupErr *StartupError
		if errors.As(err, &startupErr) {
			t.Errorf("Refresh() after first success returned *StartupError: %v", err)
		}
	})
}

// TestAddListener verifies listener fan-out and removal.
func TestAddListener(t *testing.T) {
	var fail atomic.Bool

	c, err := New(Options{
		Name: "weather",
		Fetch: func(ctx context.Context) (Snapshot, error) {
			if fail.Load() {
				return nil, errors.New("boom")
			}
			return "ok", nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Shutdown()

	var calls atomic.Int32
	remove := c.AddListener(func() { calls.Add(1) })

	// Listeners fire on success and on failure.
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	fail.Store(true)
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() succeeded, want failure")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("listener called %d times, want 2", got)
	}

	// Removal stops notifications; removing twice is harmless.
	remove()
	remove()
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() succeeded, want failure")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("listener called %d times after removal, want 2", got)
	}
}

// TestShutdown verifies shutdown semantics.
func TestShutdown(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		c, err := New(Options{Name: "weather", Fetch: staticFetch("ok", nil)})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		c.Shutdown()
		c.Shutdown()
	})

	t.Run("refresh after shutdown", func(t *testing.T) {
		c, err := New(Options{Name: "weather", Fetch: staticFetch("ok", nil)})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		c.Shutdown()

		if err := c.Refresh(context.Background()); !errors.Is(err, ErrShutDown) {
			t.Errorf("Refresh() error = %v, want ErrShutDown", err)
		}
	})

	t.Run("in-flight result discarded", func(t *testing.T) {
		entered := make(chan struct{})
		release := make(chan struct{})

		c, err := New(Options{
			Name: "weather",
			Fetch: func(ctx context.Context) (Snapshot, error) {
				close(entered)
				<-release
				return "late", nil
			},
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}

		var notified atomic.Int32
		c.AddListener(func() { notified.Add(1) })

		done := make(chan error, 1)
		go func() { done <- c.Refresh(context.Background()) }()
		<-entered

		c.Shutdown()
		close(release)
		<-done

		if c.Data() != nil {
			t.Errorf("Data() = %v after shutdown, want nil", c.Data())
		}
		if c.LastUpdateSuccess() {
			t.Error("LastUpdateSuccess() = true for discarded result")
		}
		if got := notified.Load(); got != 0 {
			t.Errorf("listener called %d times after shutdown, want 0", got)
		}
	})
}

// TestStart verifies the periodic polling loop.
func TestStart(t *testing.T) {
	t.Run("requires interval", func(t *testing.T) {
		c, err := New(Options{Name: "weather", Fetch: staticFetch("ok", nil)})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer c.Shutdown()

		if err := c.Start(context.Background()); !errors.Is(err, ErrInvalidInterval) {
			t.Errorf("Start() error = %v, want ErrInvalidInterval", err)
		}
	})

	t.Run("polls on cadence", func(t *testing.T) {
		var fetches atomic.Int32

		c, err := New(Options{
			Name:     "weather",
			Interval: 10 * time.Millisecond,
			Fetch: func(ctx context.Context) (Snapshot, error) {
				fetches.Add(1)
				return "ok", nil
			},
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer c.Shutdown()

		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		// Starting again is a no-op, not a second loop.
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("second Start() error = %v", err)
		}

		deadline := time.After(2 * time.Second)
		for fetches.Load() < 2 {
			select {
			case <-deadline:
				t.Fatalf("only %d fetches before deadline, want >= 2", fetches.Load())
			case <-time.After(5 * time.Millisecond):
			}
		}
	})

	t.Run("stops on shutdown", func(t *testing.T) {
		var fetches atomic.Int32

		c, err := New(Options{
			Name:     "weather",
			Interval: 10 * time.Millisecond,
			Fetch: func(ctx context.Context) (Snapshot, error) {
				fetches.Add(1)
				return "ok", nil
			},
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}

		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}

		deadline := time.After(2 * time.Second)
		for fetches.Load() < 1 {
			select {
			case <-deadline:
				t.Fatal("no fetches before deadline")
			case <-time.After(5 * time.Millisecond):
			}
		}

		c.Shutdown()
		settled := fetches.Load()
		time.Sleep(50 * time.Millisecond)
		if got := fetches.Load(); got > settled+1 {
			t.Errorf("fetches continued after shutdown: %d -> %d", settled, got)
		}
	})
}

// TestSetInterval verifies interval mutation.
func TestSetInterval(t *testing.T) {
	c, err := New(Options{
		Name:     "weather",
		Interval: time.Minute,
		Fetch:    staticFetch("ok", nil),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Shutdown()

	if err := c.SetInterval(0); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("SetInterval(0) error = %v, want ErrInvalidInterval", err)
	}
	if err := c.SetInterval(30 * time.Second); err != nil {
		t.Fatalf("SetInterval() error = %v", err)
	}
	if got := c.Interval(); got != 30*time.Second {
		t.Errorf("Interval() = %v, want 30s", got)
	}
}

// TestStartupError verifies error wrapping.
func TestStartupError(t *testing.T) {
	inner := errors.New("dns failure")
	err := &StartupError{Name: "weather", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("errors.Is() does not match wrapped error")
	}
	if err.Error() == "" {
		t.Error("Error() is empty")
	}
}
