package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
)

// Document is source content retrieved for a url run.
type Document struct {
	Title string
	Text  string
}

// Fetcher retrieves the text behind a url source.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Document, error)
}

// FetcherConfig configures HTTPFetcher.
type FetcherConfig struct {
	Enabled   bool          `yaml:"enabled" env:"ENABLED"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxBytes  int64         `yaml:"max_bytes" env:"MAX_BYTES"`
	UserAgent string        `yaml:"user_agent" env:"USER_AGENT"`
	Retry     RetryConfig   `yaml:"retry" env:",prefix=RETRY_"`
	// AllowPrivateNetworks permits loopback, private and link-local
	// destinations. Off by default since url sources arrive from webhook
	// callers.
	AllowPrivateNetworks bool `yaml:"allow_private_networks" env:"ALLOW_PRIVATE_NETWORKS"`
}

// ErrBlockedAddress is returned when a url source resolves to an address
// the fetcher may not dial.
var ErrBlockedAddress = errors.New("destination address not allowed")

// DefaultMaxFetchBytes caps fetched bodies.
const DefaultMaxFetchBytes = 2 << 20

// HTTPFetcher downloads pages over HTTP and reduces HTML to plain text.
type HTTPFetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
	retry     RetryConfig
	logger    *slog.Logger
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(cfg FetcherConfig, logger *slog.Logger) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxFetchBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "contentflow/1.0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.AllowPrivateNetworks {
		// Every dial, redirects included, is checked after DNS resolution.
		// A proxy would hide the real destination from the check.
		dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second, Control: publicOnly}
		transport.Proxy = nil
		transport.DialContext = dialer.DialContext
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		maxBytes:  cfg.MaxBytes,
		userAgent: cfg.UserAgent,
		retry:     cfg.Retry.withDefaults(),
		logger:    logger,
	}
}

// Fetch GETs url. HTML responses are stripped to text and their <title> is
// returned separately.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Document, error) {
	var doc *Document
	err := do(ctx, f.client, f.retry, f.logger.With("url", url),
		func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", f.userAgent)
			req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.1")
			return req, nil
		},
		func(resp *http.Response) error {
			body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}
			if int64(len(body)) > f.maxBytes {
				return retry.Unrecoverable(fmt.Errorf("response exceeds %d bytes", f.maxBytes))
			}
			doc = toDocument(resp.Header.Get("Content-Type"), string(body))
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// publicOnly is a net.Dialer Control hook rejecting non-public addresses.
func publicOnly(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	if !isPublic(ap.Addr()) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, ap.Addr())
	}
	return nil
}

var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

func isPublic(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid(),
		addr.IsUnspecified(),
		addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast(),
		sharedAddressSpace.Contains(addr):
		return false
	}
	return true
}

func toDocument(contentType, body string) *Document {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	isHTML := mediaType == "text/html" || mediaType == "application/xhtml+xml" ||
		(mediaType == "" && strings.Contains(strings.ToLower(body), "<html"))
	if !isHTML {
		return &Document{Text: strings.TrimSpace(body)}
	}
	return &Document{
		Title: htmlTitle(body),
		Text:  normalizeWhitespace(htmlToText(body)),
	}
}
