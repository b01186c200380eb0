package replay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"route-replay/internal/route"
	"route-replay/internal/segment"
)

// Status is the load state of a segment.
type Status string

const (
	StatusLoading     Status = "loading"
	StatusLoaded      Status = "loaded"
	StatusUnavailable Status = "unavailable"
)

// SegmentState tracks one segment load started by the service.
type SegmentState struct {
	Number    int
	LoadID    uuid.UUID
	Flags     segment.Flags
	StartedAt time.Time

	seg *segment.Segment

	mu         sync.Mutex
	status     Status
	finishedAt time.Time
	finished   chan struct{}
}

func newSegmentState(n int, flags segment.Flags) *SegmentState {
	return &SegmentState{
		Number:    n,
		LoadID:    uuid.New(),
		Flags:     flags,
		StartedAt: time.Now().UTC(),
		status:    StatusLoading,
		finished:  make(chan struct{}),
	}
}

// Status returns the current load state.
func (s *SegmentState) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Segment returns the underlying loader.
func (s *SegmentState) Segment() *segment.Segment { return s.seg }

// Wait blocks until the load finishes or ctx is done and returns the status.
func (s *SegmentState) Wait(ctx context.Context) (Status, error) {
	select {
	case <-s.finished:
		return s.Status(), nil
	case <-ctx.Done():
		return s.Status(), ctx.Err()
	}
}

// finish records the outcome; only the first call has an effect.
func (s *SegmentState) finish(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusLoading {
		return
	}
	if ok {
		s.status = StatusLoaded
	} else {
		s.status = StatusUnavailable
	}
	s.finishedAt = time.Now().UTC()
	close(s.finished)
}

// close stops the load. A load that had not finished is unavailable.
func (s *SegmentState) close() {
	if s.seg != nil {
		s.seg.Close()
	}
	s.finish(false)
}

// SegmentView is the JSON form of a SegmentState.
type SegmentView struct {
	Route      string            `json:"route"`
	Segment    int               `json:"segment"`
	LoadID     string            `json:"load_id"`
	Status     Status            `json:"status"`
	Files      map[string]string `json:"files"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// View returns a snapshot of s for routeKey.
func (s *SegmentState) View(routeKey string) SegmentView {
	v := SegmentView{
		Route:     routeKey,
		Segment:   s.Number,
		LoadID:    s.LoadID.String(),
		Files:     make(map[string]string),
		StartedAt: s.StartedAt,
	}
	for i, loc := range s.seg.Selection() {
		if !loc.IsZero() {
			v.Files[segment.Slot(i).String()] = loc.String()
		}
	}

	s.mu.Lock()
	v.Status = s.status
	if !s.finishedAt.IsZero() {
		t := s.finishedAt
		v.FinishedAt = &t
	}
	s.mu.Unlock()
	return v
}

// RouteState is a resolved route and the segments loaded from it.
type RouteState struct {
	Key      string
	Route    *route.Route
	LoadedAt time.Time

	mu       sync.Mutex
	segments map[int]*SegmentState
	closed   bool
}

func newRouteState(key string, r *route.Route) *RouteState {
	return &RouteState{
		Key:      key,
		Route:    r,
		LoadedAt: time.Now().UTC(),
		segments: make(map[int]*SegmentState),
	}
}

// Source reports where the route's files come from.
func (r *RouteState) Source() string {
	if r.Route.Dir() == "" {
		return "remote"
	}
	return "local"
}

// Segment returns the state of segment n, if a load was started.
func (r *RouteState) Segment(n int) (*SegmentState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.segments[n]
	return s, ok
}

// SegmentNumbers returns the started segments in ascending order.
func (r *RouteState) SegmentNumbers() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.segments))
	for n := range r.segments {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func (r *RouteState) segmentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0
	}
	return len(r.segments)
}

// close marks the route closed and closes every segment, blocking until
// their jobs have stopped.
func (r *RouteState) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	segs := make([]*SegmentState, 0, len(r.segments))
	for _, s := range r.segments {
		segs = append(segs, s)
	}
	r.mu.Unlock()

	for _, s := range segs {
		s.close()
	}
}
