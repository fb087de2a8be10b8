package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryConfig bounds retries of outbound collaborator calls.
type RetryConfig struct {
	Attempts uint          `yaml:"attempts" env:"ATTEMPTS"`
	Delay    time.Duration `yaml:"delay" env:"DELAY"`
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts == 0 {
		c.Attempts = 3
	}
	if c.Delay <= 0 {
		c.Delay = 200 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Second
	}
	return c
}

// StatusError is returned for non-2xx responses from a collaborator.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

// retryable reports whether a status is worth another attempt.
func retryable(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// do executes req with retries. build is invoked per attempt so request
// bodies are fresh; handle consumes a 2xx response.
func do(ctx context.Context, client *http.Client, cfg RetryConfig, logger *slog.Logger,
	build func(ctx context.Context) (*http.Request, error), handle func(*http.Response) error) error {
	return retry.Do(
		func() error {
			req, err := build(ctx)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := client.Do(req)
			if err != nil {
				if errors.Is(err, ErrBlockedAddress) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				serr := &StatusError{URL: req.URL.Redacted(), StatusCode: resp.StatusCode, Body: string(snippet)}
				if retryable(resp.StatusCode) {
					return serr
				}
				return retry.Unrecoverable(serr)
			}
			return handle(resp)
		},
		retry.Attempts(cfg.Attempts),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(cfg.Delay),
		retry.MaxDelay(cfg.MaxDelay),
		retry.MaxJitter(cfg.Delay/5),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) && !errors.Is(err, context.Canceled)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("Retrying collaborator call", "attempt", n+1, "error", err)
		}),
		retry.Context(ctx),
	)
}
