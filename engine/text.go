package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// TextService performs the model-backed transformations.
type TextService interface {
	Translate(ctx context.Context, text, targetLanguage, sourceLanguage string) (string, error)
	AdjustTone(ctx context.Context, text, tone string) (string, error)
	Summarise(ctx context.Context, text string, maxSentences int) (string, error)
}

// TextServiceConfig configures HTTPTextService.
type TextServiceConfig struct {
	// URL is the service base URL. The service is disabled when empty.
	URL     string        `yaml:"url" env:"URL"`
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Retry   RetryConfig   `yaml:"retry" env:",prefix=RETRY_"`
}

// HTTPTextService calls a JSON text-transformation API:
//
//	POST {url}/translate {text, targetLanguage, sourceLanguage?} -> {text}
//	POST {url}/tone      {text, tone}                             -> {text}
//	POST {url}/summarise {text, maxSentences}                     -> {text}
type HTTPTextService struct {
	baseURL string
	apiKey  string
	client  *http.Client
	retry   RetryConfig
	logger  *slog.Logger
}

// NewHTTPTextService creates an HTTPTextService.
func NewHTTPTextService(cfg TextServiceConfig, logger *slog.Logger) (*HTTPTextService, error) {
	if cfg.URL == "" {
		return nil, errors.New("text service url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTextService{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		retry:   cfg.Retry.withDefaults(),
		logger:  logger,
	}, nil
}

type textResponse struct {
	Text string `json:"text"`
}

func (s *HTTPTextService) Translate(ctx context.Context, text, targetLanguage, sourceLanguage string) (string, error) {
	return s.call(ctx, "translate", map[string]any{
		"text":           text,
		"targetLanguage": targetLanguage,
		"sourceLanguage": sourceLanguage,
	})
}

func (s *HTTPTextService) AdjustTone(ctx context.Context, text, tone string) (string, error) {
	return s.call(ctx, "tone", map[string]any{"text": text, "tone": tone})
}

func (s *HTTPTextService) Summarise(ctx context.Context, text string, maxSentences int) (string, error) {
	return s.call(ctx, "summarise", map[string]any{"text": text, "maxSentences": maxSentences})
}

func (s *HTTPTextService) call(ctx context.Context, op string, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", op, err)
	}
	url := s.baseURL + "/" + op

	var out textResponse
	err = do(ctx, s.client, s.retry, s.logger.With("operation", op),
		func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			if s.apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+s.apiKey)
			}
			return req, nil
		},
		func(resp *http.Response) error {
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode %s response: %w", op, err))
			}
			return nil
		},
	)
	if err != nil {
		return "", fmt.Errorf("text service %s: %w", op, err)
	}
	return out.Text, nil
}
