package store

import (
	"context"
	"crypto/subtle"
	"sort"
	"time"

	"github.com/GoCodeAlone/contentflow/pipeline"
)

// Kind names a repository backend.
type Kind string

const (
	KindRedis    Kind = "redis"
	KindPostgres Kind = "postgres"
	KindFile     Kind = "file"
	KindMemory   Kind = "memory"
)

// Repository persists pipeline definitions. Implementations return copies,
// never shared references, and report missing records with ErrNotFound.
type Repository interface {
	Kind() Kind
	// List returns summaries ordered by creation time, then id.
	List(ctx context.Context) ([]pipeline.Summary, error)
	Get(ctx context.Context, id string) (*pipeline.Definition, error)
	FindByWebhookSecret(ctx context.Context, secret string) (*pipeline.Definition, error)
	Create(ctx context.Context, in pipeline.CreateInput) (*pipeline.Definition, error)
	Update(ctx context.Context, id string, p pipeline.Patch) (*pipeline.Definition, error)
	// Delete removes the pipeline. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	// RecordRun sets the pipeline's last successful run time.
	RecordRun(ctx context.Context, id string, completedAt time.Time) error
}

func summarize(defs []*pipeline.Definition) []pipeline.Summary {
	sort.Slice(defs, func(i, j int) bool {
		if !defs[i].CreatedAt.Equal(defs[j].CreatedAt) {
			return defs[i].CreatedAt.Before(defs[j].CreatedAt)
		}
		return defs[i].ID < defs[j].ID
	})
	out := make([]pipeline.Summary, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.Summary())
	}
	return out
}

// matchSecret scans defs for the pipeline owning secret.
func matchSecret(defs []*pipeline.Definition, secret string) (*pipeline.Definition, error) {
	if secret == "" {
		return nil, ErrNotFound
	}
	for _, d := range defs {
		if len(d.WebhookSecret) == len(secret) &&
			subtle.ConstantTimeCompare([]byte(d.WebhookSecret), []byte(secret)) == 1 {
			return d, nil
		}
	}
	return nil, ErrNotFound
}
