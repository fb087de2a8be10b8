package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/GoCodeAlone/contentflow/fallback"
	"github.com/GoCodeAlone/contentflow/pipeline"
)

// Config selects the storage tiers. Redis and Postgres are used when their
// address is set, the file tier when a path is set; memory is always
// available.
type Config struct {
	Redis    RedisConfig `yaml:"redis" env:",prefix=REDIS_"`
	Postgres PGConfig    `yaml:"postgres" env:",prefix=POSTGRES_"`
	File     FileConfig  `yaml:"file" env:",prefix=FILE_"`
}

// Tiers returns the storage cascade for cfg in preference order.
func Tiers(cfg Config) []fallback.Tier[Repository] {
	return []fallback.Tier[Repository]{
		{
			Name:       string(KindRedis),
			Configured: cfg.Redis.Addr != "",
			Open: func(context.Context) (Repository, error) {
				return NewRedisRepository(cfg.Redis), nil
			},
		},
		{
			Name:       string(KindPostgres),
			Configured: cfg.Postgres.URL != "",
			Open: func(ctx context.Context) (Repository, error) {
				return OpenPostgres(ctx, cfg.Postgres)
			},
		},
		{
			Name:       string(KindFile),
			Configured: cfg.File.Path != "",
			Open: func(context.Context) (Repository, error) {
				return NewFileRepository(cfg.File.Path)
			},
		},
		{
			Name:       string(KindMemory),
			Configured: true,
			Open: func(context.Context) (Repository, error) {
				return NewMemoryRepository(), nil
			},
		},
	}
}

// Resolver is a Repository that forwards every call to the active tier of a
// cascade. A transport failure demotes the tier and the call is retried once
// on the next one.
type Resolver struct {
	cascade *fallback.Cascade[Repository]
}

// NewResolver creates a Resolver over tiers.
func NewResolver(logger *slog.Logger, tiers ...fallback.Tier[Repository]) *Resolver {
	c := fallback.New(tiers...)
	c.SetLogger(logger)
	return &Resolver{cascade: c}
}

// OnDemote registers a callback for tier demotions.
func (r *Resolver) OnDemote(fn func(from, to string, cause error)) {
	r.cascade.OnDemote(fn)
}

// Kind returns the active backend.
func (r *Resolver) Kind() Kind { return r.Backend() }

// Backend returns the active backend, or "" before the first call.
func (r *Resolver) Backend() Kind {
	name, _ := r.cascade.Active()
	return Kind(name)
}

// Resolve selects the active backend if none is selected yet.
func (r *Resolver) Resolve(ctx context.Context) (Kind, error) {
	h, err := r.cascade.Current(ctx)
	if err != nil {
		return "", err
	}
	return h.Value.Kind(), nil
}

// Reset forgets the active backend so the next call starts from the first
// tier again.
func (r *Resolver) Reset() { r.cascade.Reset() }

// Close closes every backend opened so far.
func (r *Resolver) Close() error { return r.cascade.Close() }

func (r *Resolver) List(ctx context.Context) ([]pipeline.Summary, error) {
	return fallback.Do(ctx, r.cascade, IsTransport, func(ctx context.Context, repo Repository) ([]pipeline.Summary, error) {
		return repo.List(ctx)
	})
}

func (r *Resolver) Get(ctx context.Context, id string) (*pipeline.Definition, error) {
	return fallback.Do(ctx, r.cascade, IsTransport, func(ctx context.Context, repo Repository) (*pipeline.Definition, error) {
		return repo.Get(ctx, id)
	})
}

func (r *Resolver) FindByWebhookSecret(ctx context.Context, secret string) (*pipeline.Definition, error) {
	return fallback.Do(ctx, r.cascade, IsTransport, func(ctx context.Context, repo Repository) (*pipeline.Definition, error) {
		return repo.FindByWebhookSecret(ctx, secret)
	})
}

func (r *Resolver) Create(ctx context.Context, in pipeline.CreateInput) (*pipeline.Definition, error) {
	return fallback.Do(ctx, r.cascade, IsTransport, func(ctx context.Context, repo Repository) (*pipeline.Definition, error) {
		return repo.Create(ctx, in)
	})
}

func (r *Resolver) Update(ctx context.Context, id string, p pipeline.Patch) (*pipeline.Definition, error) {
	return fallback.Do(ctx, r.cascade, IsTransport, func(ctx context.Context, repo Repository) (*pipeline.Definition, error) {
		return repo.Update(ctx, id, p)
	})
}

func (r *Resolver) Delete(ctx context.Context, id string) error {
	_, err := fallback.Do(ctx, r.cascade, IsTransport, func(ctx context.Context, repo Repository) (struct{}, error) {
		return struct{}{}, repo.Delete(ctx, id)
	})
	return err
}

func (r *Resolver) RecordRun(ctx context.Context, id string, completedAt time.Time) error {
	_, err := fallback.Do(ctx, r.cascade, IsTransport, func(ctx context.Context, repo Repository) (struct{}, error) {
		return struct{}{}, repo.RecordRun(ctx, id, completedAt)
	})
	return err
}
