package jobs

import "sync"

// Job is one unit of work. It receives the shared token and is expected to
// check it at safe checkpoints.
type Job func(tok *Token)

// Synchronizer tracks an open-ended set of jobs submitted over time. Every
// job shares one Token; CancelAll cancels it and WaitAll blocks until every
// submitted job has returned.
//
// Unlike sync.WaitGroup, Add may be called concurrently with WaitAll.
type Synchronizer struct {
	pool  *Pool
	token *Token

	mu      sync.Mutex
	cond    *sync.Cond
	pending int
}

// NewSynchronizer returns a Synchronizer scheduling jobs on pool with tok as
// the shared cancellation token.
func NewSynchronizer(pool *Pool, tok *Token) *Synchronizer {
	s := &Synchronizer{pool: pool, token: tok}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Token returns the token shared by all jobs.
func (s *Synchronizer) Token() *Token {
	return s.token
}

// Add registers job as outstanding and schedules it on the pool. The job is
// always invoked exactly once, even if CancelAll was already called.
func (s *Synchronizer) Add(job Job) {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()

	s.pool.Go(s.token, func() {
		defer s.done()
		job(s.token)
	})
}

// CancelAll cancels the shared token, reaching running and queued jobs alike.
func (s *Synchronizer) CancelAll() {
	s.token.Cancel()
}

// WaitAll blocks until no registered job is running or queued.
func (s *Synchronizer) WaitAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending > 0 {
		s.cond.Wait()
	}
}

// Pending returns the number of jobs that have not returned yet.
func (s *Synchronizer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Synchronizer) done() {
	s.mu.Lock()
	s.pending--
	if s.pending == 0 {
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}
