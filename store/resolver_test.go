package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoCodeAlone/contentflow/fallback"
	"github.com/GoCodeAlone/contentflow/pipeline"
	"golang.org/x/sync/errgroup"
)

// unreachableRepository fails every call as if its server were down.
type unreachableRepository struct {
	calls atomic.Int32
}

func (u *unreachableRepository) fail(op string) error {
	u.calls.Add(1)
	return fmt.Errorf("redis %s: %w", op, ErrUnavailable)
}

func (u *unreachableRepository) Kind() Kind { return KindRedis }
func (u *unreachableRepository) List(context.Context) ([]pipeline.Summary, error) {
	return nil, u.fail("list")
}
func (u *unreachableRepository) Get(context.Context, string) (*pipeline.Definition, error) {
	return nil, u.fail("get")
}
func (u *unreachableRepository) FindByWebhookSecret(context.Context, string) (*pipeline.Definition, error) {
	return nil, u.fail("find")
}
func (u *unreachableRepository) Create(context.Context, pipeline.CreateInput) (*pipeline.Definition, error) {
	return nil, u.fail("create")
}
func (u *unreachableRepository) Update(context.Context, string, pipeline.Patch) (*pipeline.Definition, error) {
	return nil, u.fail("update")
}
func (u *unreachableRepository) Delete(context.Context, string) error { return u.fail("delete") }
func (u *unreachableRepository) RecordRun(context.Context, string, time.Time) error {
	return u.fail("record run")
}

func staticTier(kind Kind, repo Repository) fallback.Tier[Repository] {
	return fallback.Tier[Repository]{
		Name:       string(kind),
		Configured: true,
		Open:       func(context.Context) (Repository, error) { return repo, nil },
	}
}

func TestResolverFallsBackOnTransportFailure(t *testing.T) {
	ctx := context.Background()
	down := &unreachableRepository{}
	mem := NewMemoryRepository()
	r := NewResolver(nil, staticTier(KindRedis, down), staticTier(KindMemory, mem))

	if got := r.Backend(); got != "" {
		t.Fatalf("backend must be unresolved before first use, got %q", got)
	}

	def, err := r.Create(ctx, sampleCreateInput("fallback"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := r.Backend(); got != KindMemory {
		t.Errorf("expected memory backend, got %q", got)
	}
	if n := down.calls.Load(); n != 1 {
		t.Errorf("expected one call against the failed tier, got %d", n)
	}

	got, err := mem.Get(ctx, def.ID)
	if err != nil || got.Name != "fallback" {
		t.Errorf("pipeline not persisted in memory tier: %v", err)
	}

	// Demotion is sticky: later calls go straight to memory.
	if _, err := r.List(ctx); err != nil {
		t.Fatalf("List: %v", err)
	}
	if n := down.calls.Load(); n != 1 {
		t.Errorf("failed tier called again after demotion: %d", n)
	}
}

func TestResolverDoesNotDemoteOnDomainErrors(t *testing.T) {
	ctx := context.Background()
	first := NewMemoryRepository()
	second := NewMemoryRepository()
	r := NewResolver(nil, staticTier(KindFile, first), staticTier(KindMemory, second))

	_, err := r.Get(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	in := sampleCreateInput("bad")
	in.Steps = nil
	if _, err := r.Create(ctx, in); !pipeline.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := r.Backend(); got != KindFile {
		t.Errorf("domain errors must not demote, backend %q", got)
	}
}

func TestResolverConcurrentFailuresDemoteOnce(t *testing.T) {
	ctx := context.Background()
	down := &unreachableRepository{}
	r := NewResolver(nil, staticTier(KindRedis, down), staticTier(KindMemory, NewMemoryRepository()))

	var demotions atomic.Int32
	r.OnDemote(func(from, to string, _ error) {
		demotions.Add(1)
		if from != string(KindRedis) || to != string(KindMemory) {
			t.Errorf("unexpected demotion %s -> %s", from, to)
		}
	})
	if _, err := r.Resolve(ctx); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			_, err := r.List(ctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent List: %v", err)
	}

	if n := demotions.Load(); n != 1 {
		t.Errorf("expected exactly one demotion, got %d", n)
	}
	if got := r.Backend(); got != KindMemory {
		t.Errorf("expected memory backend, got %q", got)
	}
}

func TestResolverResetStartsFromFirstTier(t *testing.T) {
	ctx := context.Background()
	down := &unreachableRepository{}
	r := NewResolver(nil, staticTier(KindRedis, down), staticTier(KindMemory, NewMemoryRepository()))

	if _, err := r.List(ctx); err != nil {
		t.Fatalf("List: %v", err)
	}
	r.Reset()
	if got := r.Backend(); got != "" {
		t.Errorf("expected no backend after reset, got %q", got)
	}
	if _, err := r.List(ctx); err != nil {
		t.Fatalf("List after reset: %v", err)
	}
	if n := down.calls.Load(); n != 2 {
		t.Errorf("expected the first tier to be retried after reset, got %d calls", n)
	}
}

func TestTiersFromConfig(t *testing.T) {
	tiers := Tiers(Config{File: FileConfig{Path: t.TempDir() + "/pipelines.json"}})
	configured := map[string]bool{}
	for _, tier := range tiers {
		configured[tier.Name] = tier.Configured
	}
	if configured["redis"] || configured["postgres"] {
		t.Error("remote tiers must be unconfigured without settings")
	}
	if !configured["file"] || !configured["memory"] {
		t.Error("file and memory tiers must be configured")
	}

	r := NewResolver(nil, tiers...)
	kind, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if kind != KindFile {
		t.Errorf("expected file backend, got %q", kind)
	}
}
