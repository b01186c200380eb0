package route

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultIndexURL is the route-index endpoint; %s is the escaped canonical key.
	DefaultIndexURL = "https://api.commadotai.com/v1/route/%s/files"

	// DefaultIndexTimeout bounds the single route-index request.
	DefaultIndexTimeout = 20 * time.Second

	segmentDirDelimiter = "--"

	// maxIndexBody caps how much of the index response is read.
	maxIndexBody = 16 << 20
)

// ErrNoSegments is the cause of a ResolveError when resolution produced an
// empty manifest.
var ErrNoSegments = errors.New("route has no segments")

var segmentPathPattern = regexp.MustCompile(`/(\d+)/`)

// ResolveError reports a failed resolution. Err is the underlying cause.
type ResolveError struct {
	Route  string
	Source string // "remote" or "local"
	Err    error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s route %s: %v", e.Source, e.Route, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Resolver builds route manifests. The zero value is not usable; use
// NewResolver.
type Resolver struct {
	client   *http.Client
	indexURL string
	token    string
	timeout  time.Duration
	log      *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithHTTPClient replaces the client used for the route-index request.
func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *Resolver) { r.client = c }
}

// WithIndexURL sets the route-index URL template. It must contain one %s.
func WithIndexURL(tmpl string) ResolverOption {
	return func(r *Resolver) {
		if tmpl != "" {
			r.indexURL = tmpl
		}
	}
}

// WithTimeout sets the route-index request timeout.
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithAuthToken sends "Authorization: JWT <token>" with the index request.
func WithAuthToken(token string) ResolverOption {
	return func(r *Resolver) { r.token = token }
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(log *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// NewResolver returns a Resolver using the default index endpoint and timeout.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		client:   &http.Client{},
		indexURL: DefaultIndexURL,
		timeout:  DefaultIndexTimeout,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve builds the manifest of id. With an empty localRoot it queries the
// route index; otherwise it scans localRoot. It returns a *ResolveError on
// any failure, including an empty manifest.
func (r *Resolver) Resolve(ctx context.Context, id Identifier, localRoot string) (*Manifest, error) {
	if id.IsZero() {
		return nil, ErrInvalidRoute
	}
	if localRoot == "" {
		return r.resolveRemote(ctx, id)
	}
	return r.resolveLocal(id, localRoot)
}

func (r *Resolver) resolveRemote(ctx context.Context, id Identifier) (*Manifest, error) {
	fail := func(err error) (*Manifest, error) {
		r.log.Warn("route index request failed",
			slog.String("route", id.CanonicalKey()),
			slog.String("error", err.Error()))
		return nil, &ResolveError{Route: id.CanonicalKey(), Source: "remote", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	endpoint := fmt.Sprintf(r.indexURL, url.PathEscape(id.CanonicalKey()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fail(fmt.Errorf("build request: %w", err))
	}
	if r.token != "" {
		req.Header.Set("Authorization", "JWT "+r.token)
	}

	r.log.Debug("requesting route index", slog.String("url", endpoint))
	resp, err := r.client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIndexBody))
	if err != nil {
		return fail(fmt.Errorf("read body: %w", err))
	}

	m, err := manifestFromIndex(body)
	if err != nil {
		return fail(err)
	}
	r.log.Info("route resolved",
		slog.String("route", id.CanonicalKey()),
		slog.String("source", "remote"),
		slog.Int("segments", m.Len()))
	return m, nil
}

// manifestFromIndex decodes a route-index body, a JSON object of arbitrary
// keys to URL lists, into a manifest.
func manifestFromIndex(body []byte) (*Manifest, error) {
	var groups map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(body))), &groups); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := newManifestBuilder()
	for _, k := range keys {
		// groups that are not URL lists are skipped
		var urls []string
		if err := json.Unmarshal(groups[k], &urls); err != nil {
			continue
		}
		for _, raw := range urls {
			u, err := url.Parse(raw)
			if err != nil {
				continue
			}
			n, ok := numericSegment(u.Path)
			if !ok {
				continue
			}
			b.add(n, URLLocator(raw))
		}
	}

	m := b.build()
	if m.Empty() {
		return nil, ErrNoSegments
	}
	return m, nil
}

func (r *Resolver) resolveLocal(id Identifier, root string) (*Manifest, error) {
	fail := func(err error) (*Manifest, error) {
		r.log.Warn("local route scan failed",
			slog.String("route", id.CanonicalKey()),
			slog.String("dir", root),
			slog.String("error", err.Error()))
		return nil, &ResolveError{Route: id.CanonicalKey(), Source: "local", Err: err}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return fail(err)
	}

	b := newManifestBuilder()
	matched := 0
	for _, e := range entries {
		if !isDirEntry(root, e) {
			continue
		}
		prefix, suffix, ok := splitSegmentDir(e.Name())
		if !ok || prefix != id.Timestamp {
			continue
		}
		if !isDigits(suffix) {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		matched++

		dir := filepath.Join(root, e.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			r.log.Debug("skipping unreadable segment dir", slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		for _, f := range files {
			if !isRegularEntry(dir, f) {
				continue
			}
			p, err := filepath.Abs(filepath.Join(dir, f.Name()))
			if err != nil {
				continue
			}
			b.add(n, PathLocator(p))
		}
	}

	if matched == 0 {
		return fail(fmt.Errorf("no segment directories for %s: %w", id.Timestamp, ErrNoSegments))
	}
	m := b.build()
	if m.Empty() {
		return fail(ErrNoSegments)
	}
	r.log.Info("route resolved",
		slog.String("route", id.CanonicalKey()),
		slog.String("source", "local"),
		slog.Int("segments", m.Len()))
	return m, nil
}

// isDirEntry reports whether e is a directory, following symlinks.
func isDirEntry(parent string, e os.DirEntry) bool {
	if e.Type()&os.ModeSymlink == 0 {
		return e.IsDir()
	}
	fi, err := os.Stat(filepath.Join(parent, e.Name()))
	return err == nil && fi.IsDir()
}

// isRegularEntry reports whether e is a regular file, following symlinks.
func isRegularEntry(parent string, e os.DirEntry) bool {
	if e.Type()&os.ModeSymlink == 0 {
		return e.Type().IsRegular()
	}
	fi, err := os.Stat(filepath.Join(parent, e.Name()))
	return err == nil && fi.Mode().IsRegular()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
