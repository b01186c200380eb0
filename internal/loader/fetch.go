// Package loader provides the default segment collaborators. They fetch a
// segment file from a local path or a URL into memory, checking the
// cancellation token between chunks. Decoding the fetched bytes is left to
// the consumer.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"route-replay/internal/jobs"
	"route-replay/internal/route"
	"route-replay/internal/segment"
)

const (
	chunkSize = 64 << 10

	// DefaultRetryDelay is the pause between two attempts.
	DefaultRetryDelay = 100 * time.Millisecond

	// DefaultCacheEntries is the number of blobs kept by the shared cache.
	DefaultCacheEntries = 32
)

// statusError is a non-200 response from a file server.
type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("received status code %d from %s", e.code, e.url)
}

// Factory creates readers sharing one HTTP client and one blob cache.
// It implements segment.LoaderFactory.
type Factory struct {
	client     *http.Client
	cache      *lru.Cache
	entries    int
	retryDelay time.Duration
	userAgent  string
	log        *slog.Logger
}

// Option configures a Factory.
type Option func(*Factory)

// WithHTTPClient sets the client used for remote files.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Factory) { f.client = c }
}

// WithCacheEntries sets the size of the blob cache; 0 disables it.
func WithCacheEntries(n int) Option {
	return func(f *Factory) { f.entries = n }
}

// WithRetryDelay sets the pause between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(f *Factory) { f.retryDelay = d }
}

// WithUserAgent sets the User-Agent of remote requests.
func WithUserAgent(ua string) Option {
	return func(f *Factory) { f.userAgent = ua }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(f *Factory) {
		if log != nil {
			f.log = log
		}
	}
}

// NewFactory returns a Factory. Remote requests have no client timeout of
// their own; they end with the load's cancellation token.
func NewFactory(opts ...Option) (*Factory, error) {
	f := &Factory{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 10 * time.Second,
			},
		},
		entries:    DefaultCacheEntries,
		retryDelay: DefaultRetryDelay,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.entries > 0 {
		c, err := lru.New(f.entries)
		if err != nil {
			return nil, fmt.Errorf("create blob cache: %w", err)
		}
		f.cache = c
	}
	return f, nil
}

// NewFrameReader implements segment.LoaderFactory.
func (f *Factory) NewFrameReader(opts segment.LoaderOptions) segment.FrameReader {
	return &FrameReader{blob: blob{f: f, opts: opts}}
}

// NewLogReader implements segment.LoaderFactory.
func (f *Factory) NewLogReader(opts segment.LoaderOptions) segment.LogReader {
	return &LogReader{blob: blob{f: f, opts: opts}}
}

// CachedBlobs returns the number of blobs in the shared cache.
func (f *Factory) CachedBlobs() int {
	if f.cache == nil {
		return 0
	}
	return f.cache.Len()
}

// fetch loads loc with up to opts.Retries attempts.
func (f *Factory) fetch(tok *jobs.Token, loc route.Locator, opts segment.LoaderOptions) ([]byte, error) {
	key := loc.String()
	if opts.LocalCache && f.cache != nil {
		if v, ok := f.cache.Get(key); ok {
			f.log.Debug("blob cache hit", slog.String("file", key))
			return v.([]byte), nil
		}
	}

	attempts := opts.Retries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := tok.Err(); err != nil {
			return nil, err
		}

		data, err := f.fetchOnce(tok, loc)
		if err == nil {
			if opts.LocalCache && f.cache != nil && fitsBudget(len(data), opts.MemoryBudget) {
				f.cache.Add(key, data)
			}
			return data, nil
		}

		lastErr = err
		if attempt == attempts || !retryable(err) || tok.Cancelled() {
			break
		}
		f.log.Warn("fetch attempt failed, retrying",
			slog.String("file", key),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()))

		select {
		case <-tok.Done():
			return nil, tok.Err()
		case <-time.After(f.retryDelay):
		}
	}
	return nil, fmt.Errorf("failed to load %s: %w", key, lastErr)
}

func (f *Factory) fetchOnce(tok *jobs.Token, loc route.Locator) ([]byte, error) {
	if !loc.IsRemote() {
		file, err := os.Open(loc.String())
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return readChunks(tok, file)
	}

	req, err := http.NewRequestWithContext(tok.Context(), http.MethodGet, loc.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, url: loc.String()}
	}
	return readChunks(tok, resp.Body)
}

// readChunks reads r to the end, checking tok before every chunk.
func readChunks(tok *jobs.Token, r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	buf := make([]byte, chunkSize)
	for {
		if err := tok.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(buf)
		out.Write(buf[:n])
		if errors.Is(err, io.EOF) {
			return out.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return true
}

func fitsBudget(n int, budget int64) bool {
	return budget < 0 || int64(n) <= budget
}
