package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GoCodeAlone/contentflow/pipeline"
	"github.com/gofrs/flock"
)

const fileLockRetry = 25 * time.Millisecond

// FileConfig configures the local file tier.
type FileConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// FileRepository keeps every pipeline in a single JSON document. Each
// mutation rewrites the whole document through a temporary file and rename,
// under an in-process mutex and an advisory file lock shared with other
// processes using the same path.
type FileRepository struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
	now  func() time.Time
}

type fileDocument struct {
	Pipelines []*pipeline.Definition `json:"pipelines"`
}

// NewFileRepository creates a FileRepository at path. The parent directory
// is created if needed; the document itself is created on first write.
func NewFileRepository(path string) (*FileRepository, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileRepository{
		path: abs,
		lock: flock.New(abs + ".lock"),
		now:  time.Now,
	}, nil
}

func (r *FileRepository) Kind() Kind { return KindFile }

// Path returns the absolute path of the JSON document.
func (r *FileRepository) Path() string { return r.path }

func (r *FileRepository) List(ctx context.Context) ([]pipeline.Summary, error) {
	var out []pipeline.Summary
	err := r.read(ctx, func(doc *fileDocument) error {
		out = summarize(doc.Pipelines)
		return nil
	})
	return out, err
}

func (r *FileRepository) Get(ctx context.Context, id string) (*pipeline.Definition, error) {
	var out *pipeline.Definition
	err := r.read(ctx, func(doc *fileDocument) error {
		d := doc.find(id)
		if d == nil {
			return ErrNotFound
		}
		out = d
		return nil
	})
	return out, err
}

func (r *FileRepository) FindByWebhookSecret(ctx context.Context, secret string) (*pipeline.Definition, error) {
	var out *pipeline.Definition
	err := r.read(ctx, func(doc *fileDocument) error {
		d, err := matchSecret(doc.Pipelines, secret)
		out = d
		return err
	})
	return out, err
}

func (r *FileRepository) Create(ctx context.Context, in pipeline.CreateInput) (*pipeline.Definition, error) {
	def, err := pipeline.NewDefinition(in, r.now())
	if err != nil {
		return nil, err
	}
	err = r.write(ctx, func(doc *fileDocument) error {
		doc.Pipelines = append(doc.Pipelines, def.Clone())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return def, nil
}

func (r *FileRepository) Update(ctx context.Context, id string, p pipeline.Patch) (*pipeline.Definition, error) {
	var out *pipeline.Definition
	err := r.write(ctx, func(doc *fileDocument) error {
		d := doc.find(id)
		if d == nil {
			return ErrNotFound
		}
		if err := d.Apply(p, r.now()); err != nil {
			return err
		}
		out = d.Clone()
		return nil
	})
	return out, err
}

func (r *FileRepository) Delete(ctx context.Context, id string) error {
	return r.write(ctx, func(doc *fileDocument) error {
		for i, d := range doc.Pipelines {
			if d.ID == id {
				doc.Pipelines = append(doc.Pipelines[:i], doc.Pipelines[i+1:]...)
				return nil
			}
		}
		return errSkipWrite
	})
}

func (r *FileRepository) RecordRun(ctx context.Context, id string, completedAt time.Time) error {
	return r.write(ctx, func(doc *fileDocument) error {
		d := doc.find(id)
		if d == nil {
			return ErrNotFound
		}
		d.MarkRun(completedAt)
		return nil
	})
}

func (doc *fileDocument) find(id string) *pipeline.Definition {
	for _, d := range doc.Pipelines {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// errSkipWrite lets a write callback finish without rewriting the document.
var errSkipWrite = errors.New("skip write")

func (r *FileRepository) read(ctx context.Context, fn func(*fileDocument) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ok, err := r.lock.TryRLockContext(ctx, fileLockRetry)
	if err != nil || !ok {
		return fmt.Errorf("lock %s: %w", r.lock.Path(), lockError(err))
	}
	defer r.lock.Unlock() //nolint:errcheck

	doc, err := r.load()
	if err != nil {
		return err
	}
	return fn(doc)
}

func (r *FileRepository) write(ctx context.Context, fn func(*fileDocument) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ok, err := r.lock.TryLockContext(ctx, fileLockRetry)
	if err != nil || !ok {
		return fmt.Errorf("lock %s: %w", r.lock.Path(), lockError(err))
	}
	defer r.lock.Unlock() //nolint:errcheck

	doc, err := r.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		if errors.Is(err, errSkipWrite) {
			return nil
		}
		return err
	}
	return r.save(doc)
}

func lockError(err error) error {
	if err != nil {
		return err
	}
	return errors.New("lock not acquired")
}

func (r *FileRepository) load() (*fileDocument, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &fileDocument{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}
	doc := &fileDocument{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrCorrupt, r.path, err)
	}
	return doc, nil
}

func (r *FileRepository) save(doc *fileDocument) error {
	if doc.Pipelines == nil {
		doc.Pipelines = []*pipeline.Definition{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replace %s: %w", r.path, err)
	}
	return nil
}
