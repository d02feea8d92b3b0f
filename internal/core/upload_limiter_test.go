package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestUploadLimiter_AcquireRelease(t *testing.T) {
	l := NewUploadLimiter(2, time.Second)
	ctx := context.Background()

	steps := []struct {
		name          string
		op            func() error
		wantActive    int
		wantAvailable int
	}{
		{"initial", func() error { return nil }, 0, 2},
		{"first acquire", func() error { return l.Acquire(ctx) }, 1, 1},
		{"second acquire", func() error { return l.Acquire(ctx) }, 2, 0},
		{"release", func() error { l.Release(); return nil }, 1, 1},
		{"release last", func() error { l.Release(); return nil }, 0, 2},
	}
	for _, s := range steps {
		if err := s.op(); err != nil {
			t.Fatalf("%s: error = %v", s.name, err)
		}
		if got := l.ActiveCount(); got != s.wantActive {
			t.Errorf("%s: ActiveCount() = %d, want %d", s.name, got, s.wantActive)
		}
		if got := l.Available(); got != s.wantAvailable {
			t.Errorf("%s: Available() = %d, want %d", s.name, got, s.wantAvailable)
		}
	}
}

func TestUploadLimiter_FullLimiterTimesOut(t *testing.T) {
	l := NewUploadLimiter(1, 50*time.Millisecond)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer l.Release()

	start := time.Now()
	err := l.Acquire(ctx)
	if !errors.Is(err, ErrTooManyUploads) {
		t.Errorf("Acquire() on full limiter error = %v, want ErrTooManyUploads", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Acquire() gave up after %v, want about the max wait", elapsed)
	}

	if l.TryAcquire() {
		t.Error("TryAcquire() on full limiter = true, want false")
		l.Release()
	}
}

func TestUploadLimiter_NeverExceedsLimit(t *testing.T) {
	const limit = 3
	l := NewUploadLimiter(limit, 5*time.Second)

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			defer l.Release()

			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if peak > limit {
		t.Errorf("peak concurrency = %d, want <= %d", peak, limit)
	}
	if l.ActiveCount() != 0 {
		t.Errorf("ActiveCount() after all done = %d, want 0", l.ActiveCount())
	}
}

func TestUploadLimiter_ContextCancelled(t *testing.T) {
	l := NewUploadLimiter(1, 5*time.Second)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Acquire(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Acquire() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire() did not return after cancellation")
	}
}

func TestUploadLimiter_WaitForDrain(t *testing.T) {
	l := NewUploadLimiter(2, time.Second)
	ctx := context.Background()
	_ = l.Acquire(ctx)
	_ = l.Acquire(ctx)

	done := make(chan error, 1)
	go func() { done <- l.WaitForDrain(context.Background()) }()

	l.Release()
	select {
	case <-done:
		t.Fatal("WaitForDrain() returned with a slot still in use")
	case <-time.After(150 * time.Millisecond):
	}

	l.Release()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForDrain() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForDrain() did not return after the last release")
	}

	// a cancelled wait gives up
	_ = l.Acquire(ctx)
	defer l.Release()
	cctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.WaitForDrain(cctx); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitForDrain(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestUploadLimiter_Defaults(t *testing.T) {
	l := NewUploadLimiter(0, 0)
	if got := l.MaxConcurrent(); got != DefaultMaxConcurrentUploads {
		t.Errorf("MaxConcurrent() = %d, want %d", got, DefaultMaxConcurrentUploads)
	}
	st := l.Status()
	if st.MaxConcurrent != DefaultMaxConcurrentUploads || st.Available != DefaultMaxConcurrentUploads || st.Active != 0 {
		t.Errorf("Status() = %+v", st)
	}
}

func TestService_UploadLimiterGuardsIndexBuilds(t *testing.T) {
	svc := newTestService(seededStore())
	svc.limiter = NewUploadLimiter(1, 20*time.Millisecond)

	if !svc.limiter.TryAcquire() {
		t.Fatal("TryAcquire() = false on idle limiter")
	}
	_, err := svc.Prepare(context.Background(), PrepareRequest{InstitutionCodes: []string{"JKKN"}})
	if !errors.Is(err, ErrTooManyUploads) {
		t.Errorf("Prepare() while busy error = %v, want ErrTooManyUploads", err)
	}
	if st := svc.UploadLimiterStatus(); st.Active != 1 {
		t.Errorf("UploadLimiterStatus().Active = %d, want 1", st.Active)
	}
	svc.limiter.Release()

	if err := svc.WaitForUploads(context.Background()); err != nil {
		t.Errorf("WaitForUploads() error = %v", err)
	}
}
