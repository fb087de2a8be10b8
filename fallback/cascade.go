// Package fallback resolves a value from an ordered list of tiers and demotes
// to the next tier when the active one fails at the transport level.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ErrNoTier is returned when no remaining tier is configured and opens.
var ErrNoTier = errors.New("fallback: no tier available")

// Tier is one candidate in a cascade. Configured reports whether the tier has
// the settings it needs; Open constructs the value and should not contact the
// remote side, so that reachability failures surface through Demote.
type Tier[T any] struct {
	Name       string
	Configured bool
	Open       func(ctx context.Context) (T, error)
}

// Handle is the value of the active tier at the time it was obtained. The
// handle's generation lets Demote detect that another caller already moved
// past the tier.
type Handle[T any] struct {
	Value T
	Tier  string
	gen   uint64
}

// Cascade lazily selects the first usable tier and demotes stickily.
type Cascade[T any] struct {
	tiers []Tier[T]

	mu       sync.Mutex
	resolved bool
	index    int
	gen      uint64
	current  Handle[T]
	retired  []T
	logger   *slog.Logger
	onDemote func(from, to string, cause error)
}

// New creates a cascade over tiers in preference order.
func New[T any](tiers ...Tier[T]) *Cascade[T] {
	return &Cascade[T]{
		tiers:  tiers,
		logger: slog.Default(),
	}
}

// SetLogger replaces the logger used for tier selection messages.
func (c *Cascade[T]) SetLogger(logger *slog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if logger != nil {
		c.logger = logger
	}
}

// OnDemote registers a callback invoked after each successful demotion. The
// callback runs with the cascade's lock held and must not call back into it.
func (c *Cascade[T]) OnDemote(fn func(from, to string, cause error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDemote = fn
}

// Current returns the active tier, resolving it on first use.
func (c *Cascade[T]) Current(ctx context.Context) (Handle[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.resolved {
		if err := c.resolveFrom(ctx, 0); err != nil {
			return Handle[T]{}, err
		}
	}
	return c.current, nil
}

// Active returns the name of the active tier without resolving one.
func (c *Cascade[T]) Active() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Tier, c.resolved
}

// Demote moves past the tier h was obtained from. If another caller already
// demoted that tier, the current handle is returned unchanged, so concurrent
// failures against one tier produce a single demotion.
func (c *Cascade[T]) Demote(ctx context.Context, h Handle[T], cause error) (Handle[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.resolved {
		if err := c.resolveFrom(ctx, 0); err != nil {
			return Handle[T]{}, err
		}
		return c.current, nil
	}
	if h.gen != c.gen {
		return c.current, nil
	}

	from := c.current
	if err := c.resolveFrom(ctx, c.index+1); err != nil {
		return Handle[T]{}, err
	}
	c.retired = append(c.retired, from.Value)
	c.logger.Warn("Storage tier demoted", "from", from.Tier, "to", c.current.Tier, "cause", cause)
	if c.onDemote != nil {
		c.onDemote(from.Tier, c.current.Tier, cause)
	}
	return c.current, nil
}

// Reset forgets the active tier so the next call resolves from the top.
// Handles obtained before Reset can no longer demote.
func (c *Cascade[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved {
		c.retired = append(c.retired, c.current.Value)
	}
	c.resolved = false
	c.index = 0
	c.gen++
	c.current = Handle[T]{}
}

// Close closes every opened tier value that implements io.Closer.
func (c *Cascade[T]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	values := c.retired
	if c.resolved {
		values = append(values, c.current.Value)
	}
	var errs []error
	for _, v := range values {
		if cl, ok := any(v).(io.Closer); ok {
			if err := cl.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	c.retired = nil
	return errors.Join(errs...)
}

// resolveFrom selects the first configured tier at or after start whose Open
// succeeds. The caller must hold c.mu.
func (c *Cascade[T]) resolveFrom(ctx context.Context, start int) error {
	for i := start; i < len(c.tiers); i++ {
		t := c.tiers[i]
		if !t.Configured || t.Open == nil {
			continue
		}
		v, err := t.Open(ctx)
		if err != nil {
			c.logger.Warn("Storage tier failed to open", "tier", t.Name, "error", err)
			continue
		}
		c.gen++
		c.index = i
		c.current = Handle[T]{Value: v, Tier: t.Name, gen: c.gen}
		c.resolved = true
		c.logger.Info("Storage tier selected", "tier", t.Name)
		return nil
	}
	return fmt.Errorf("%w after %d candidate(s)", ErrNoTier, len(c.tiers)-start)
}

// Do runs op against the active tier. When op fails and transport reports the
// error as a transport failure, the tier is demoted and op is retried exactly
// once on the replacement. Other errors are returned as is, as are failures
// after the caller's context is done.
func Do[T, R any](ctx context.Context, c *Cascade[T], transport func(error) bool, op func(ctx context.Context, v T) (R, error)) (R, error) {
	var zero R
	h, err := c.Current(ctx)
	if err != nil {
		return zero, err
	}
	res, err := op(ctx, h.Value)
	if err == nil || ctx.Err() != nil || !transport(err) {
		return res, err
	}
	next, derr := c.Demote(ctx, h, err)
	if derr != nil {
		return zero, fmt.Errorf("%w (no fallback: %v)", err, derr)
	}
	return op(ctx, next.Value)
}
