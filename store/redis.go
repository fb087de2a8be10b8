package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/GoCodeAlone/contentflow/pipeline"
	"github.com/redis/go-redis/v9"
)

const maxWatchRetries = 5

// RedisClient is the subset of go-redis client methods used by
// RedisRepository. Keeping it as an interface enables substituting clients
// in tests.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error
	Close() error
}

// RedisConfig configures the remote Redis tier.
type RedisConfig struct {
	Addr        string        `yaml:"addr" env:"ADDR"`
	Password    string        `yaml:"password" env:"PASSWORD"`
	DB          int           `yaml:"db" env:"DB"`
	Prefix      string        `yaml:"prefix" env:"PREFIX"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
}

// RedisRepository stores each pipeline as a JSON value under
// "<prefix>pipeline:<id>" and tracks ids in the set "<prefix>pipelines".
type RedisRepository struct {
	client RedisClient
	prefix string
	now    func() time.Time
}

// NewRedisRepository creates a RedisRepository for cfg. The connection is
// established lazily by the first command.
func NewRedisRepository(cfg RedisConfig) *RedisRepository {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	return NewRedisRepositoryWithClient(redis.NewClient(opts), cfg.Prefix)
}

// NewRedisRepositoryWithClient creates a RedisRepository backed by a
// pre-built client.
func NewRedisRepositoryWithClient(client RedisClient, prefix string) *RedisRepository {
	return &RedisRepository{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisRepository) Kind() Kind { return KindRedis }

// Close closes the underlying client.
func (r *RedisRepository) Close() error { return r.client.Close() }

func (r *RedisRepository) key(id string) string { return r.prefix + "pipeline:" + id }
func (r *RedisRepository) setKey() string       { return r.prefix + "pipelines" }

func (r *RedisRepository) List(ctx context.Context) ([]pipeline.Summary, error) {
	defs, err := r.all(ctx)
	if err != nil {
		return nil, err
	}
	return summarize(defs), nil
}

func (r *RedisRepository) Get(ctx context.Context, id string) (*pipeline.Definition, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get pipeline %s: %w", id, err)
	}
	return decodeDefinition(id, data)
}

func (r *RedisRepository) FindByWebhookSecret(ctx context.Context, secret string) (*pipeline.Definition, error) {
	defs, err := r.all(ctx)
	if err != nil {
		return nil, err
	}
	return matchSecret(defs, secret)
}

func (r *RedisRepository) Create(ctx context.Context, in pipeline.CreateInput) (*pipeline.Definition, error) {
	def, err := pipeline.NewDefinition(in, r.now())
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("encode pipeline %s: %w", def.ID, err)
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.key(def.ID), data, 0)
		p.SAdd(ctx, r.setKey(), def.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis create pipeline %s: %w", def.ID, err)
	}
	return def, nil
}

func (r *RedisRepository) Update(ctx context.Context, id string, p pipeline.Patch) (*pipeline.Definition, error) {
	return r.mutate(ctx, id, func(d *pipeline.Definition) error {
		return d.Apply(p, r.now())
	})
}

func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.key(id))
		p.SRem(ctx, r.setKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete pipeline %s: %w", id, err)
	}
	return nil
}

func (r *RedisRepository) RecordRun(ctx context.Context, id string, completedAt time.Time) error {
	_, err := r.mutate(ctx, id, func(d *pipeline.Definition) error {
		d.MarkRun(completedAt)
		return nil
	})
	return err
}

// mutate applies fn to the stored pipeline under WATCH, retrying when a
// concurrent writer touches the key first.
func (r *RedisRepository) mutate(ctx context.Context, id string, fn func(*pipeline.Definition) error) (*pipeline.Definition, error) {
	key := r.key(id)
	var out *pipeline.Definition

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("redis get pipeline %s: %w", id, err)
		}
		def, err := decodeDefinition(id, data)
		if err != nil {
			return err
		}
		if err := fn(def); err != nil {
			return err
		}
		enc, err := json.Marshal(def)
		if err != nil {
			return fmt.Errorf("encode pipeline %s: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, enc, 0)
			return nil
		})
		if err != nil {
			return err
		}
		out = def
		return nil
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("redis update pipeline %s: %w", id, ErrConflict)
}

func (r *RedisRepository) all(ctx context.Context) ([]*pipeline.Definition, error) {
	ids, err := r.client.SMembers(ctx, r.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list pipelines: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load pipelines: %w", err)
	}

	defs := make([]*pipeline.Definition, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// Set member without a value; the record was deleted mid-scan.
			continue
		}
		def, err := decodeDefinition(ids[i], []byte(s))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func decodeDefinition(id string, data []byte) (*pipeline.Definition, error) {
	var def pipeline.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: pipeline %s: %v", ErrCorrupt, id, err)
	}
	return &def, nil
}
