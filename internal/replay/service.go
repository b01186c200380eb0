package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"route-replay/internal/jobs"
	"route-replay/internal/platform/metrics"
	"route-replay/internal/route"
	"route-replay/internal/segment"
)

// Service resolves routes, starts segment loads and tracks their outcome.
// Storage is delegated to a Repository.
type Service struct {
	repo     Repository
	resolver *route.Resolver
	factory  segment.LoaderFactory
	pool     *jobs.Pool
	dataDir  string
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithDataDir resolves routes from a local directory instead of the remote index.
func WithDataDir(dir string) Option {
	return func(s *Service) { s.dataDir = dir }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics enables metric recording. Metrics may be nil (e.g. in tests).
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService returns a Service. A nil resolver gets route.NewResolver() and
// a nil pool gets jobs.NewPool(jobs.DefaultPoolSize).
func NewService(repo Repository, resolver *route.Resolver, factory segment.LoaderFactory, pool *jobs.Pool, opts ...Option) *Service {
	if resolver == nil {
		resolver = route.NewResolver()
	}
	if pool == nil {
		pool = jobs.NewPool(jobs.DefaultPoolSize)
	}
	s := &Service{
		repo:     repo,
		resolver: resolver,
		factory:  factory,
		pool:     pool,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadRoute parses input and resolves its manifest. Resolved routes are
// cached by canonical key, so a route is resolved once until it is closed or
// evicted.
func (s *Service) LoadRoute(ctx context.Context, input string) (*RouteState, error) {
	id, err := route.Parse(input)
	if err != nil {
		return nil, err
	}
	key := id.CanonicalKey()
	if st, ok := s.repo.GetRoute(key); ok {
		return st, nil
	}

	r := route.New(input, s.dataDir, s.resolver)
	if err := r.Load(ctx); err != nil {
		s.log.Warn("route resolution failed", slog.String("route", key), slog.String("error", err.Error()))
		if s.metrics != nil {
			s.metrics.IncResolveFailures()
		}
		return nil, err
	}

	st := s.repo.PutRoute(newRouteState(key, r))
	if st.Route == r {
		s.log.Info("route loaded",
			slog.String("route", key),
			slog.Int("segments", r.Manifest().Len()),
			slog.String("source", st.Source()))
		if s.metrics != nil {
			s.metrics.IncRoutesResolved()
		}
	}
	return st, nil
}

// LoadSegment starts loading segment n of the route named by input, loading
// the route first if needed. A load already running or finished with the
// same flags is returned as is; otherwise, including after a failure, the
// previous load is closed and a new one started.
func (s *Service) LoadSegment(ctx context.Context, input string, n int, flags segment.Flags) (*RouteState, *SegmentState, error) {
	st, err := s.LoadRoute(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	files, ok := st.Route.Manifest().Files(n)
	if !ok {
		return st, nil, fmt.Errorf("segment %d of %s: %w", n, st.Key, ErrSegmentNotFound)
	}

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return st, nil, fmt.Errorf("%s: %w", st.Key, ErrRouteNotLoaded)
	}
	prev, exists := st.segments[n]
	if exists && prev.Flags == flags && prev.Status() != StatusUnavailable {
		st.mu.Unlock()
		return st, prev, nil
	}

	ss := newSegmentState(n, flags)
	log := s.log.With(slog.String("route", st.Key), slog.String("load_id", ss.LoadID.String()))
	source := st.Source()
	ss.seg = segment.New(n, files, flags, s.factory, s.pool,
		segment.WithLogger(log),
		segment.WithOnLoaded(func(_ *segment.Segment, ok bool) {
			s.segmentLoaded(ss, source, ok, log)
		}))
	st.segments[n] = ss
	st.mu.Unlock()

	if exists {
		prev.close()
	}
	log.Info("segment load started", slog.Int("segment", n), slog.Int("files", ss.seg.Selection().Count()))
	return st, ss, nil
}

// segmentLoaded records the outcome; waiters are released last.
func (s *Service) segmentLoaded(ss *SegmentState, source string, ok bool, log *slog.Logger) {
	if ok {
		log.Info("segment loaded", slog.Int("segment", ss.Number))
	} else {
		log.Warn("segment unavailable", slog.Int("segment", ss.Number))
	}
	if s.metrics != nil {
		if ok {
			s.metrics.IncSegmentsLoaded(source)
		} else {
			s.metrics.IncSegmentLoadFailures()
		}
	}
	ss.finish(ok)
}

// SegmentStatus returns the state of a segment load started by LoadSegment.
func (s *Service) SegmentStatus(input string, n int) (*RouteState, *SegmentState, error) {
	id, err := route.Parse(input)
	if err != nil {
		return nil, nil, err
	}
	st, ok := s.repo.GetRoute(id.CanonicalKey())
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", id.CanonicalKey(), ErrRouteNotLoaded)
	}
	ss, ok := st.Segment(n)
	if !ok {
		return st, nil, fmt.Errorf("segment %d of %s: %w", n, st.Key, ErrSegmentNotFound)
	}
	return st, ss, nil
}

// CloseRoute closes every segment of the route and forgets it. It blocks
// until the segments' jobs have stopped.
func (s *Service) CloseRoute(input string) error {
	id, err := route.Parse(input)
	if err != nil {
		return err
	}
	key := id.CanonicalKey()
	if !s.repo.DeleteRoute(key) {
		return fmt.Errorf("%s: %w", key, ErrRouteNotLoaded)
	}
	s.log.Info("route closed", slog.String("route", key))
	return nil
}

// ActiveSegments returns the number of segments held open.
func (s *Service) ActiveSegments() int {
	return s.repo.ActiveSegmentCount()
}

// Close closes every route.
func (s *Service) Close() {
	s.repo.Close()
}

// IsResolveError reports whether err is a failed manifest resolution.
func IsResolveError(err error) bool {
	var re *route.ResolveError
	return errors.As(err, &re)
}
