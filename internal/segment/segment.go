// Package segment loads the resources of one route segment: up to three
// camera streams and one event log, fetched concurrently by injected
// collaborators and reported as a single success or failure.
package segment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"route-replay/internal/jobs"
	"route-replay/internal/route"
)

var (
	// ErrNothingSelected is logged when a segment has no file for any slot.
	ErrNothingSelected = errors.New("no files selected")

	errNilReader = errors.New("loader factory returned nil reader")
)

// Segment loads the selected files of one segment number. Loading starts in
// New; completion is reported exactly once, after every job has returned.
//
// A Segment must be closed with Close, which cancels outstanding jobs and
// blocks until they stop.
type Segment struct {
	number    int
	flags     Flags
	selection Selection
	factory   LoaderFactory
	log       *slog.Logger

	// Each slot is written only by its own job; Close releases them.
	readersMu sync.RWMutex
	frames    [MaxCameras]FrameReader
	logReader LogReader

	sync    *jobs.Synchronizer
	loading atomic.Int32
	failed  atomic.Bool

	cbMu     sync.RWMutex
	onLoaded func(seg *Segment, ok bool)

	done      chan struct{}
	ok        atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// Option configures a Segment.
type Option func(*Segment)

// WithOnLoaded registers the completion callback. It runs on a worker
// goroutine and must not call Close on the same Segment.
func WithOnLoaded(fn func(seg *Segment, ok bool)) Option {
	return func(s *Segment) { s.onLoaded = fn }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Segment) {
		if log != nil {
			s.log = log
		}
	}
}

// New selects the files of segment n according to flags and starts loading
// them on pool.
func New(n int, files route.SegmentFiles, flags Flags, factory LoaderFactory, pool *jobs.Pool, opts ...Option) *Segment {
	s := &Segment{
		number:    n,
		flags:     flags,
		selection: Select(files, flags),
		factory:   factory,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.Int("segment", n))
	s.sync = jobs.NewSynchronizer(pool, jobs.NewToken(context.Background()))

	count := s.selection.Count()
	if count == 0 {
		// Complete asynchronously, like any other load.
		s.loading.Store(1)
		s.sync.Add(func(tok *jobs.Token) {
			s.log.Warn("segment load failed", slog.String("error", ErrNothingSelected.Error()))
			s.failed.Store(true)
			s.jobDone()
		})
		return s
	}

	// The counter is set before the first job can finish.
	s.loading.Store(int32(count))
	for i, loc := range s.selection {
		if loc.IsZero() {
			continue
		}
		slot, loc := Slot(i), loc
		s.sync.Add(func(tok *jobs.Token) {
			s.loadFile(tok, slot, loc)
		})
	}
	return s
}

// Number returns the segment number.
func (s *Segment) Number() int { return s.number }

// Flags returns the flags the segment was created with.
func (s *Segment) Flags() Flags { return s.flags }

// Selection returns the locators chosen for each slot.
func (s *Segment) Selection() Selection { return s.selection }

// Done is closed once loading has finished, successfully or not.
func (s *Segment) Done() <-chan struct{} { return s.done }

// Result reports the outcome; finished is false while jobs are outstanding.
func (s *Segment) Result() (ok, finished bool) {
	select {
	case <-s.done:
		return s.ok.Load(), true
	default:
		return false, false
	}
}

// Wait blocks until loading finishes or ctx is done.
func (s *Segment) Wait(ctx context.Context) (bool, error) {
	select {
	case <-s.done:
		return s.ok.Load(), nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Pending returns the number of jobs that have not finished.
func (s *Segment) Pending() int { return int(s.loading.Load()) }

// FrameReader returns the reader of camera slot, or nil unless the segment
// loaded successfully and is still open.
func (s *Segment) FrameReader(slot Slot) FrameReader {
	if !slot.IsCamera() {
		return nil
	}
	s.readersMu.RLock()
	defer s.readersMu.RUnlock()
	if !s.usable() {
		return nil
	}
	return s.frames[slot]
}

// LogReader returns the log reader, or nil unless the segment loaded
// successfully and is still open.
func (s *Segment) LogReader() LogReader {
	s.readersMu.RLock()
	defer s.readersMu.RUnlock()
	if !s.usable() {
		return nil
	}
	return s.logReader
}

func (s *Segment) usable() bool {
	ok, finished := s.Result()
	return ok && finished && !s.closed.Load()
}

// Close detaches the completion callback, cancels outstanding jobs, waits
// for all of them to return and then releases the readers. It is safe to
// call more than once.
func (s *Segment) Close() {
	s.closeOnce.Do(func() {
		// Waits for a callback already in progress.
		s.cbMu.Lock()
		s.onLoaded = nil
		s.cbMu.Unlock()

		s.closed.Store(true)
		s.sync.CancelAll()
		s.sync.WaitAll()

		s.readersMu.Lock()
		for i, fr := range s.frames {
			closeReader(fr)
			s.frames[i] = nil
		}
		closeReader(s.logReader)
		s.logReader = nil
		s.readersMu.Unlock()
		s.log.Debug("segment closed")
	})
}

func (s *Segment) loadFile(tok *jobs.Token, slot Slot, loc route.Locator) {
	log := s.log.With(slog.String("slot", slot.String()), slog.String("file", loc.String()))

	// Jobs that start after a sibling failed do not touch their collaborator.
	err := tok.Err()
	if err == nil {
		opts := LoaderOptions{
			LocalCache: !s.flags.Has(FlagNoFileCache),
			Retries:    DefaultRetries,
		}
		log.Debug("loading file")
		if slot.IsCamera() {
			opts.MemoryBudget = FrameMemoryBudget
			fr := s.factory.NewFrameReader(opts)
			if fr == nil {
				err = errNilReader
			} else {
				s.readersMu.Lock()
				s.frames[slot] = fr
				s.readersMu.Unlock()
				err = fr.Load(tok, loc)
			}
		} else {
			opts.MemoryBudget = UnboundedMemory
			lr := s.factory.NewLogReader(opts)
			if lr == nil {
				err = errNilReader
			} else {
				s.readersMu.Lock()
				s.logReader = lr
				s.readersMu.Unlock()
				err = lr.Load(tok, loc)
			}
		}
	}

	if err != nil {
		s.failed.Store(true)
		// abort all siblings
		tok.Cancel()
		log.Warn("file load failed", slog.String("error", err.Error()))
	}
	s.jobDone()
}

func (s *Segment) jobDone() {
	if s.loading.Add(-1) != 0 {
		return
	}

	ok := !s.failed.Load() && !s.sync.Token().Cancelled()
	s.ok.Store(ok)
	close(s.done)
	s.log.Debug("segment load finished", slog.Bool("ok", ok))

	s.cbMu.RLock()
	defer s.cbMu.RUnlock()
	if s.onLoaded != nil {
		s.onLoaded(s, ok)
	}
}

func closeReader(r any) {
	if c, ok := r.(io.Closer); ok && c != nil {
		c.Close()
	}
}
