package infra

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"story-gateway/story/domain"
)

func TestWindowGovernor_25thAdmitted26thRejected(t *testing.T) {
	clk := newFakeClock()
	g := NewWindowGovernor(25, time.Hour, WithWindowClock(clk.Now))
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		dec := g.Admit(ctx, domain.GlobalScope)
		if !dec.Allowed {
			t.Fatalf("expected call %d to be admitted", i)
		}
		if dec.Remaining != 25-i {
			t.Fatalf("call %d: expected remaining %d, got %d", i, 25-i, dec.Remaining)
		}
	}

	dec := g.Admit(ctx, domain.GlobalScope)
	if dec.Allowed {
		t.Fatalf("expected call 26 to be rejected")
	}
	if dec.RetryAfter != time.Hour {
		t.Fatalf("expected RetryAfter=1h, got %s", dec.RetryAfter)
	}

	w, ok := g.Snapshot(domain.GlobalScope)
	if !ok {
		t.Fatalf("expected window to exist")
	}
	if w.Count != 25 || w.Rejected != 1 {
		t.Fatalf("expected count=25 rejected=1, got count=%d rejected=%d", w.Count, w.Rejected)
	}
}

func TestWindowGovernor_ResetsAfterWindow(t *testing.T) {
	clk := newFakeClock()
	g := NewWindowGovernor(2, time.Hour, WithWindowClock(clk.Now))
	ctx := context.Background()

	g.Admit(ctx, "")
	g.Admit(ctx, "")
	if g.Admit(ctx, "").Allowed {
		t.Fatalf("expected third call to be rejected")
	}

	clk.Advance(30 * time.Minute)
	dec := g.Admit(ctx, "")
	if dec.Allowed {
		t.Fatalf("expected still rejected mid-window")
	}
	if dec.RetryAfter != 30*time.Minute {
		t.Fatalf("expected RetryAfter=30m, got %s", dec.RetryAfter)
	}

	clk.Advance(30 * time.Minute)
	if !g.Admit(ctx, "").Allowed {
		t.Fatalf("expected admission after window elapsed")
	}
	w, _ := g.Snapshot(domain.GlobalScope)
	if w.Count != 1 || w.Rejected != 0 {
		t.Fatalf("expected fresh window, got count=%d rejected=%d", w.Count, w.Rejected)
	}
}

func TestWindowGovernor_ScopesAreIndependent(t *testing.T) {
	g := NewWindowGovernor(1, time.Hour)
	ctx := context.Background()

	if !g.Admit(ctx, "a").Allowed {
		t.Fatalf("expected a admitted")
	}
	if !g.Admit(ctx, "b").Allowed {
		t.Fatalf("expected b admitted")
	}
	if g.Admit(ctx, "a").Allowed {
		t.Fatalf("expected a rejected")
	}
}

func TestWindowGovernor_ConcurrentAdmitsNeverExceedLimit(t *testing.T) {
	g := NewWindowGovernor(25, time.Hour)
	ctx := context.Background()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Admit(ctx, domain.GlobalScope).Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 25 {
		t.Fatalf("expected exactly 25 admissions, got %d", admitted.Load())
	}
	w, _ := g.Snapshot(domain.GlobalScope)
	if w.Count+w.Rejected != 200 {
		t.Fatalf("expected every call counted once, got %d", w.Count+w.Rejected)
	}
}

func TestWindowGovernor_CleanupDropsElapsedWindows(t *testing.T) {
	clk := newFakeClock()
	g := NewWindowGovernor(5, time.Minute, WithWindowClock(clk.Now))
	ctx := context.Background()

	g.Admit(ctx, "a")
	clk.Advance(2 * time.Minute)
	g.Cleanup()

	if _, ok := g.Snapshot("a"); ok {
		t.Fatalf("expected elapsed window to be removed")
	}
}
