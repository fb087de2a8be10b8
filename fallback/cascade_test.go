package fallback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

var (
	errTransport = errors.New("connection refused")
	errDomain    = errors.New("not found")
)

func isTransport(err error) bool { return errors.Is(err, errTransport) }

func openValue(v string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return v, nil }
}

func TestCurrentSkipsUnconfiguredAndFailingTiers(t *testing.T) {
	var opened []string
	c := New(
		Tier[string]{Name: "redis", Configured: false, Open: openValue("redis")},
		Tier[string]{Name: "postgres", Configured: true, Open: func(context.Context) (string, error) {
			opened = append(opened, "postgres")
			return "", errors.New("bad dsn")
		}},
		Tier[string]{Name: "file", Configured: true, Open: openValue("file")},
		Tier[string]{Name: "memory", Configured: true, Open: openValue("memory")},
	)

	if _, ok := c.Active(); ok {
		t.Fatal("cascade must not resolve before first use")
	}
	h, err := c.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if h.Tier != "file" || h.Value != "file" {
		t.Errorf("expected file tier, got %q", h.Tier)
	}
	if len(opened) != 1 {
		t.Errorf("expected postgres open attempt, got %v", opened)
	}

	again, _ := c.Current(context.Background())
	if again.Tier != "file" {
		t.Errorf("resolution must be stable, got %q", again.Tier)
	}
}

func TestNoTierAvailable(t *testing.T) {
	c := New(Tier[string]{Name: "redis"})
	if _, err := c.Current(context.Background()); !errors.Is(err, ErrNoTier) {
		t.Fatalf("expected ErrNoTier, got %v", err)
	}
}

func TestDemoteIsSticky(t *testing.T) {
	c := New(
		Tier[string]{Name: "redis", Configured: true, Open: openValue("redis")},
		Tier[string]{Name: "memory", Configured: true, Open: openValue("memory")},
	)
	ctx := context.Background()
	h, _ := c.Current(ctx)

	next, err := c.Demote(ctx, h, errTransport)
	if err != nil {
		t.Fatalf("Demote: %v", err)
	}
	if next.Tier != "memory" {
		t.Fatalf("expected memory, got %q", next.Tier)
	}
	if cur, _ := c.Current(ctx); cur.Tier != "memory" {
		t.Errorf("demotion must stick, got %q", cur.Tier)
	}

	// A stale handle cannot demote the replacement.
	again, err := c.Demote(ctx, h, errTransport)
	if err != nil || again.Tier != "memory" {
		t.Errorf("stale demotion changed tier: %q %v", again.Tier, err)
	}

	// Demoting past the last tier fails and keeps the current one.
	if _, err := c.Demote(ctx, next, errTransport); !errors.Is(err, ErrNoTier) {
		t.Errorf("expected ErrNoTier, got %v", err)
	}
	if cur, _ := c.Current(ctx); cur.Tier != "memory" {
		t.Errorf("expected memory to remain active, got %q", cur.Tier)
	}
}

func TestResetReturnsToFirstTier(t *testing.T) {
	c := New(
		Tier[string]{Name: "redis", Configured: true, Open: openValue("redis")},
		Tier[string]{Name: "memory", Configured: true, Open: openValue("memory")},
	)
	ctx := context.Background()
	h, _ := c.Current(ctx)
	if _, err := c.Demote(ctx, h, errTransport); err != nil {
		t.Fatalf("Demote: %v", err)
	}
	c.Reset()
	if cur, _ := c.Current(ctx); cur.Tier != "redis" {
		t.Errorf("expected redis after reset, got %q", cur.Tier)
	}
}

func TestDoRetriesOnceAfterTransportFailure(t *testing.T) {
	c := New(
		Tier[string]{Name: "redis", Configured: true, Open: openValue("redis")},
		Tier[string]{Name: "memory", Configured: true, Open: openValue("memory")},
	)
	var calls []string
	got, err := Do(context.Background(), c, isTransport, func(_ context.Context, v string) (string, error) {
		calls = append(calls, v)
		if v == "redis" {
			return "", errTransport
		}
		return "ok:" + v, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "ok:memory" {
		t.Errorf("unexpected result %q", got)
	}
	if len(calls) != 2 || calls[0] != "redis" || calls[1] != "memory" {
		t.Errorf("unexpected calls %v", calls)
	}
}

func TestDoReturnsDomainErrorsWithoutDemotion(t *testing.T) {
	c := New(
		Tier[string]{Name: "redis", Configured: true, Open: openValue("redis")},
		Tier[string]{Name: "memory", Configured: true, Open: openValue("memory")},
	)
	var demotions int
	c.OnDemote(func(string, string, error) { demotions++ })

	_, err := Do(context.Background(), c, isTransport, func(context.Context, string) (int, error) {
		return 0, errDomain
	})
	if !errors.Is(err, errDomain) {
		t.Fatalf("expected domain error, got %v", err)
	}
	if demotions != 0 {
		t.Errorf("expected no demotion, got %d", demotions)
	}
	if name, _ := c.Active(); name != "redis" {
		t.Errorf("expected redis to stay active, got %q", name)
	}
}

func TestDoSkipsDemotionWhenContextDone(t *testing.T) {
	c := New(
		Tier[string]{Name: "redis", Configured: true, Open: openValue("redis")},
		Tier[string]{Name: "memory", Configured: true, Open: openValue("memory")},
	)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := Do(ctx, c, isTransport, func(context.Context, string) (int, error) {
		cancel()
		return 0, errTransport
	})
	if !errors.Is(err, errTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if name, _ := c.Active(); name != "redis" {
		t.Errorf("cancelled call must not demote, active %q", name)
	}
}

func TestConcurrentFailuresDemoteOnce(t *testing.T) {
	c := New(
		Tier[string]{Name: "redis", Configured: true, Open: openValue("redis")},
		Tier[string]{Name: "postgres", Configured: true, Open: openValue("postgres")},
		Tier[string]{Name: "memory", Configured: true, Open: openValue("memory")},
	)
	var demotions atomic.Int32
	c.OnDemote(func(string, string, error) { demotions.Add(1) })

	ctx := context.Background()
	h, err := c.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Demote(ctx, h, errTransport); err != nil {
				t.Errorf("Demote: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := demotions.Load(); n != 1 {
		t.Errorf("expected exactly one demotion, got %d", n)
	}
	if name, _ := c.Active(); name != "postgres" {
		t.Errorf("expected postgres, got %q", name)
	}
}

type closer struct{ closed *atomic.Int32 }

func (c closer) Close() error { c.closed.Add(1); return nil }

func TestCloseClosesOpenedValues(t *testing.T) {
	var closed atomic.Int32
	open := func(context.Context) (closer, error) { return closer{&closed}, nil }
	c := New(
		Tier[closer]{Name: "a", Configured: true, Open: open},
		Tier[closer]{Name: "b", Configured: true, Open: open},
	)
	ctx := context.Background()
	h, _ := c.Current(ctx)
	if _, err := c.Demote(ctx, h, errTransport); err != nil {
		t.Fatalf("Demote: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := closed.Load(); n != 2 {
		t.Errorf("expected 2 closes, got %d", n)
	}
}
