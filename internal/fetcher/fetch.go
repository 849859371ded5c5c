package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/voyagen/guidevault/internal/logging"
	"github.com/voyagen/guidevault/internal/metrics"
)

// DefaultTimeout bounds a whole feed download.
const DefaultTimeout = 5 * time.Minute

// probeBytes is how much of a feed Probe reads.
const probeBytes = 1024

// Config configures a Downloader.
type Config struct {
	Timeout   time.Duration
	UserAgent string
	// Dir holds scratch files; empty means os.TempDir().
	Dir string
}

// Downloader streams feeds to scratch files. Each feed host gets its own
// circuit breaker so a dead provider stops being hammered on every cycle.
type Downloader struct {
	client    *http.Client
	userAgent string
	dir       string
	log       zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[int64]
}

// NewDownloader creates a Downloader.
func NewDownloader(cfg Config) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dir == "" {
		cfg.Dir = os.TempDir()
	}
	return &Downloader{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		dir:       cfg.Dir,
		log:       logging.Component("fetcher"),
		breakers:  make(map[string]*gobreaker.CircuitBreaker[int64]),
	}
}

func (d *Downloader) breaker(host string) *gobreaker.CircuitBreaker[int64] {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.breakers[host]; ok {
		return cb
	}
	name := "feed:" + host
	metrics.FeedBreakerState.WithLabelValues(name).Set(0)
	cb := gobreaker.NewCircuitBreaker[int64](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     10 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.log.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("feed breaker state change")
			metrics.FeedBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	d.breakers[host] = cb
	return cb
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Download writes the body of rawURL to a new scratch file and returns its
// path. The caller owns the file and must remove it. Any failure is a
// *FetchError and leaves no file behind.
func (d *Downloader) Download(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", &FetchError{URL: rawURL, Err: fmt.Errorf("invalid url")}
	}
	path := filepath.Join(d.dir, "xmltv-"+uuid.NewString()+".xml")

	n, err := d.breaker(u.Host).Execute(func() (int64, error) {
		return d.download(ctx, rawURL, path)
	})
	if err != nil {
		_ = os.Remove(path)
		var fe *FetchError
		if errors.As(err, &fe) {
			return "", fe
		}
		return "", &FetchError{URL: rawURL, Err: err}
	}
	metrics.FeedDownloadBytes.Add(float64(n))
	d.log.Debug().Str("url", rawURL).Int64("bytes", n).Str("path", path).Msg("feed downloaded")
	return path, nil
}

func (d *Downloader) download(ctx context.Context, rawURL, path string) (int64, error) {
	resp, err := d.get(ctx, rawURL, nil)
	if err != nil {
		return 0, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create scratch file: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, &FetchError{URL: rawURL, Err: err}
	}
	return n, nil
}

func (d *Downloader) get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("NewRequest: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	return d.client.Do(req)
}

// ProbeResult describes a reachability check of a feed URL.
type ProbeResult struct {
	Success     bool   `json:"success"`
	Status      string `json:"status"`
	StatusCode  int    `json:"status_code,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	IsXMLTV     bool   `json:"is_xmltv"`
	Message     string `json:"message"`
}

// Probe fetches the first KB of rawURL and reports whether it looks like XMLTV.
// Network failures are reported in the result, not as an error.
func (d *Downloader) Probe(ctx context.Context, rawURL string) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := d.get(ctx, rawURL, http.Header{"Range": []string{fmt.Sprintf("bytes=0-%d", probeBytes-1)}})
	if err != nil {
		return ProbeResult{Status: "error", Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return ProbeResult{Status: "error", StatusCode: resp.StatusCode, Message: "HTTP " + resp.Status}
	}
	head, _ := io.ReadAll(io.LimitReader(resp.Body, probeBytes))
	return ProbeResult{
		Success:     true,
		Status:      "online",
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		IsXMLTV:     LooksLikeXMLTV(head),
		Message:     "Connection successful",
	}
}
