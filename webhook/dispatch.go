package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoCodeAlone/contentflow/pipeline"
)

// DispatchConfig configures delivery of queue artifacts.
type DispatchConfig struct {
	// URL of the queue consumer. Dispatch is disabled when empty.
	URL string `yaml:"url" env:"URL"`
	// Secret signs each delivery with the inbound webhook scheme.
	Secret string      `yaml:"secret" env:"SECRET"`
	Retry  RetryConfig `yaml:"retry" env:",prefix=RETRY_"`
}

// QueueMessage is the body posted to the queue consumer.
type QueueMessage struct {
	PipelineID      string   `json:"pipelineId"`
	Title           string   `json:"title,omitempty"`
	Segments        []string `json:"segments"`
	Provider        string   `json:"provider"`
	VoicePreference string   `json:"voicePreference"`
	VoiceID         string   `json:"voiceId,omitempty"`
}

// Dispatcher hands artifacts carrying a queue instruction to the consumer.
type Dispatcher struct {
	url     string
	manager *RetryManager
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher. Exhausted deliveries land in dead.
func NewDispatcher(cfg DispatchConfig, dead *DeadLetterStore, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	rm := NewRetryManager(cfg.Retry, dead)
	rm.SetLogger(logger)
	if cfg.Secret != "" {
		secret := cfg.Secret
		rm.SetSigner(func(body []byte, at time.Time) map[string]string {
			return SignHeaders(secret, body, at)
		})
	}
	return &Dispatcher{url: cfg.URL, manager: rm, logger: logger}
}

// Enabled reports whether a consumer URL is configured.
func (d *Dispatcher) Enabled() bool { return d != nil && d.url != "" }

// Manager returns the underlying retry manager, used for replays.
func (d *Dispatcher) Manager() *RetryManager { return d.manager }

// Dispatch posts art to the consumer. Artifacts without a queue instruction
// are skipped and yield a nil delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, art *pipeline.Artifact) (*Delivery, error) {
	if !d.Enabled() || art == nil || art.Queue == nil {
		return nil, nil
	}
	payload, err := json.Marshal(QueueMessage{
		PipelineID:      art.PipelineID,
		Title:           art.Title,
		Segments:        art.Segments,
		Provider:        art.Queue.Provider,
		VoicePreference: art.Queue.VoicePreference,
		VoiceID:         art.Queue.VoiceID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode queue message: %w", err)
	}
	delivery, err := d.manager.Send(ctx, art.PipelineID, d.url, payload)
	if err != nil {
		return delivery, fmt.Errorf("dispatch pipeline %s: %w", art.PipelineID, err)
	}
	d.logger.Info("Queue delivery sent",
		"delivery", delivery.ID, "pipeline", art.PipelineID, "segments", len(art.Segments))
	return delivery, nil
}
