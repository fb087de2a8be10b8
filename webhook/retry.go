package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
)

// DeliveryStatus represents the status of a queue delivery.
type DeliveryStatus string

const (
	StatusPending    DeliveryStatus = "pending"
	StatusDelivered  DeliveryStatus = "delivered"
	StatusDeadLetter DeliveryStatus = "dead_letter"
)

// RetryConfig holds configuration for the retry manager.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	MaxJitter      time.Duration `yaml:"max_jitter" env:"MAX_JITTER"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// DefaultRetryConfig returns the retry settings used for queue delivery.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		MaxJitter:      100 * time.Millisecond,
		Timeout:        10 * time.Second,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.MaxJitter < 0 {
		c.MaxJitter = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// Delivery tracks one payload sent to the queue consumer.
type Delivery struct {
	ID          string         `json:"id"`
	PipelineID  string         `json:"pipelineId"`
	URL         string         `json:"url"`
	Payload     []byte         `json:"payload"`
	Status      DeliveryStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"lastError,omitempty"`
	StatusCode  int            `json:"statusCode,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	LastAttempt *time.Time     `json:"lastAttempt,omitempty"`
	DeliveredAt *time.Time     `json:"deliveredAt,omitempty"`
}

func (d *Delivery) clone() *Delivery {
	cp := *d
	cp.Payload = bytes.Clone(d.Payload)
	if d.LastAttempt != nil {
		t := *d.LastAttempt
		cp.LastAttempt = &t
	}
	if d.DeliveredAt != nil {
		t := *d.DeliveredAt
		cp.DeliveredAt = &t
	}
	return &cp
}

// ErrDeadLetterNotFound is returned when replaying an unknown dead letter.
var ErrDeadLetterNotFound = errors.New("dead letter not found")

// RetryManager posts payloads with exponential backoff and parks exhausted
// deliveries in a DeadLetterStore.
type RetryManager struct {
	config RetryConfig
	client *http.Client
	store  *DeadLetterStore
	logger *slog.Logger
	// sign returns per-attempt headers so every attempt carries a fresh
	// timestamp.
	sign func(body []byte, at time.Time) map[string]string
	now  func() time.Time
}

// NewRetryManager creates a RetryManager with the given config and dead
// letter store.
func NewRetryManager(config RetryConfig, store *DeadLetterStore) *RetryManager {
	config = config.withDefaults()
	return &RetryManager{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// SetLogger sets the logger used for retry messages.
func (rm *RetryManager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		rm.logger = logger
	}
}

// SetSigner installs a function producing signature headers per attempt.
func (rm *RetryManager) SetSigner(sign func(body []byte, at time.Time) map[string]string) {
	rm.sign = sign
}

// Send delivers payload to url. When every attempt fails the delivery is
// stored as a dead letter and returned together with the last error.
func (rm *RetryManager) Send(ctx context.Context, pipelineID, url string, payload []byte) (*Delivery, error) {
	d := &Delivery{
		ID:         generateID(),
		PipelineID: pipelineID,
		URL:        url,
		Payload:    payload,
		Status:     StatusPending,
		CreatedAt:  rm.now().UTC(),
	}
	if err := rm.deliver(ctx, d); err != nil {
		rm.park(d, err)
		return d, err
	}
	return d, nil
}

// Replay retries a dead-lettered delivery.
func (rm *RetryManager) Replay(ctx context.Context, id string) (*Delivery, error) {
	d, ok := rm.store.Remove(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeadLetterNotFound, id)
	}
	d.Status = StatusPending
	d.Attempts = 0
	d.LastError = ""
	d.StatusCode = 0

	if err := rm.deliver(ctx, d); err != nil {
		rm.park(d, err)
		return d, err
	}
	return d, nil
}

func (rm *RetryManager) park(d *Delivery, err error) {
	d.Status = StatusDeadLetter
	d.LastError = err.Error()
	rm.store.Add(d)
	rm.logger.Error("Queue delivery dead-lettered",
		"delivery", d.ID, "pipeline", d.PipelineID, "attempts", d.Attempts, "error", err)
}

func (rm *RetryManager) deliver(ctx context.Context, d *Delivery) error {
	err := retry.Do(
		func() error { return rm.doSend(ctx, d) },
		retry.Attempts(uint(rm.config.MaxRetries)+1),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(rm.config.InitialBackoff),
		retry.MaxDelay(rm.config.MaxBackoff),
		retry.MaxJitter(rm.config.MaxJitter),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			rm.logger.Warn("Retrying queue delivery",
				"delivery", d.ID, "pipeline", d.PipelineID, "attempt", n+1, "error", err)
		}),
		retry.Context(ctx),
	)
	if err != nil {
		return err
	}
	t := rm.now().UTC()
	d.Status = StatusDelivered
	d.DeliveredAt = &t
	return nil
}

func (rm *RetryManager) doSend(ctx context.Context, d *Delivery) error {
	d.Attempts++
	now := rm.now().UTC()
	d.LastAttempt = &now

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if rm.sign != nil {
		for k, v := range rm.sign(d.Payload, now) {
			req.Header.Set(k, v)
		}
	}

	resp, err := rm.client.Do(req) //nolint:gosec // URL comes from the configured queue endpoint
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	d.StatusCode = resp.StatusCode
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		return retry.Unrecoverable(fmt.Errorf("queue consumer rejected delivery with status %d", resp.StatusCode))
	default:
		return fmt.Errorf("queue consumer returned status %d", resp.StatusCode)
	}
}

func generateID() string {
	return "dl-" + uuid.NewString()
}
