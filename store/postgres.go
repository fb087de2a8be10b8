package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GoCodeAlone/contentflow/pipeline"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGConfig holds PostgreSQL connection configuration.
type PGConfig struct {
	URL      string `yaml:"url" env:"URL"`
	MaxConns int32  `yaml:"max_conns" env:"MAX_CONNS"`
	MinConns int32  `yaml:"min_conns" env:"MIN_CONNS"`
}

// PostgresRepository stores pipelines in a single table with JSONB columns
// for steps, schedule and default source.
type PostgresRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time

	schemaMu sync.Mutex
	migrated bool
}

// OpenPostgres creates a pool for cfg without connecting. The schema is
// migrated on the first operation.
func OpenPostgres(ctx context.Context, cfg PGConfig) (*PostgresRepository, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	return NewPostgresRepository(pool), nil
}

// NewPostgresRepository wraps an existing pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, now: time.Now}
}

func (r *PostgresRepository) Kind() Kind { return KindPostgres }

// Close closes the connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) ensureSchema(ctx context.Context) error {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()
	if r.migrated {
		return nil
	}
	if err := NewMigrator(r.pool).Migrate(ctx); err != nil {
		return fmt.Errorf("migrate pipelines schema: %w", err)
	}
	r.migrated = true
	return nil
}

const pipelineColumns = `id, name, description, steps, schedule, default_source,
	webhook_secret, last_run_at, created_at, updated_at`

func (r *PostgresRepository) List(ctx context.Context) ([]pipeline.Summary, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+pipelineColumns+` FROM pipelines ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Summary
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipelines: %w", err)
	}
	if out == nil {
		out = []pipeline.Summary{}
	}
	return out, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*pipeline.Definition, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return r.queryOne(ctx, r.pool, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = $1`, id)
}

func (r *PostgresRepository) FindByWebhookSecret(ctx context.Context, secret string) (*pipeline.Definition, error) {
	if secret == "" {
		return nil, ErrNotFound
	}
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return r.queryOne(ctx, r.pool, `SELECT `+pipelineColumns+` FROM pipelines WHERE webhook_secret = $1`, secret)
}

func (r *PostgresRepository) Create(ctx context.Context, in pipeline.CreateInput) (*pipeline.Definition, error) {
	def, err := pipeline.NewDefinition(in, r.now())
	if err != nil {
		return nil, err
	}
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	cols, err := encodeColumns(def)
	if err != nil {
		return nil, err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO pipelines (`+pipelineColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		def.ID, def.Name, def.Description, cols.steps, cols.schedule, cols.defaultSource,
		def.WebhookSecret, def.LastRunAt, def.CreatedAt, def.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert pipeline: %w", err)
	}
	return def, nil
}

func (r *PostgresRepository) Update(ctx context.Context, id string, p pipeline.Patch) (*pipeline.Definition, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	def, err := r.queryOne(ctx, tx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	if err := def.Apply(p, r.now()); err != nil {
		return nil, err
	}
	cols, err := encodeColumns(def)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE pipelines SET name=$2, description=$3, steps=$4, schedule=$5,
			default_source=$6, webhook_secret=$7, updated_at=$8
		WHERE id=$1`,
		def.ID, def.Name, def.Description, cols.steps, cols.schedule, cols.defaultSource,
		def.WebhookSecret, def.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update pipeline: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit pipeline update: %w", err)
	}
	return def, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM pipelines WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RecordRun(ctx context.Context, id string, completedAt time.Time) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	ts := completedAt.UTC().Truncate(time.Millisecond)
	tag, err := r.pool.Exec(ctx, `UPDATE pipelines SET last_run_at = $2 WHERE id = $1`, id, ts)
	if err != nil {
		return fmt.Errorf("record pipeline run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PostgresRepository) queryOne(ctx context.Context, q querier, sql string, args ...any) (*pipeline.Definition, error) {
	def, err := scanDefinition(q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return def, err
}

type jsonColumns struct {
	steps         []byte
	schedule      []byte
	defaultSource []byte
}

func encodeColumns(def *pipeline.Definition) (jsonColumns, error) {
	var cols jsonColumns
	var err error
	if cols.steps, err = json.Marshal(def.Steps); err != nil {
		return cols, fmt.Errorf("encode steps: %w", err)
	}
	if def.Schedule != nil {
		if cols.schedule, err = json.Marshal(def.Schedule); err != nil {
			return cols, fmt.Errorf("encode schedule: %w", err)
		}
	}
	if def.DefaultSource != nil {
		if cols.defaultSource, err = json.Marshal(def.DefaultSource); err != nil {
			return cols, fmt.Errorf("encode default source: %w", err)
		}
	}
	return cols, nil
}

func scanDefinition(row pgx.Row) (*pipeline.Definition, error) {
	var (
		def                      pipeline.Definition
		steps, sched, defaultSrc []byte
		lastRun                  *time.Time
	)
	err := row.Scan(&def.ID, &def.Name, &def.Description, &steps, &sched, &defaultSrc,
		&def.WebhookSecret, &lastRun, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan pipeline: %w", err)
	}
	if err := json.Unmarshal(steps, &def.Steps); err != nil {
		return nil, fmt.Errorf("%w: pipeline %s steps: %v", ErrCorrupt, def.ID, err)
	}
	if len(sched) > 0 {
		def.Schedule = &pipeline.Schedule{}
		if err := json.Unmarshal(sched, def.Schedule); err != nil {
			return nil, fmt.Errorf("%w: pipeline %s schedule: %v", ErrCorrupt, def.ID, err)
		}
	}
	if len(defaultSrc) > 0 {
		def.DefaultSource = &pipeline.DefaultSource{}
		if err := json.Unmarshal(defaultSrc, def.DefaultSource); err != nil {
			return nil, fmt.Errorf("%w: pipeline %s default source: %v", ErrCorrupt, def.ID, err)
		}
	}
	if lastRun != nil {
		t := lastRun.UTC()
		def.LastRunAt = &t
	}
	def.CreatedAt = def.CreatedAt.UTC()
	def.UpdatedAt = def.UpdatedAt.UTC()
	return &def, nil
}
