package segment

import (
	"route-replay/internal/jobs"
	"route-replay/internal/route"
)

const (
	// FrameMemoryBudget is the memory budget handed to camera readers.
	FrameMemoryBudget = 20 << 20
	// UnboundedMemory disables the memory budget of a reader.
	UnboundedMemory = -1
	// DefaultRetries is the retry count handed to every reader.
	DefaultRetries = 3
)

// LoaderOptions configure one collaborator instance.
type LoaderOptions struct {
	LocalCache   bool
	MemoryBudget int64
	Retries      int
}

// FrameReader loads one camera stream. Load blocks and must check tok at
// safe checkpoints, returning promptly once it is cancelled.
type FrameReader interface {
	Load(tok *jobs.Token, loc route.Locator) error
}

// LogReader loads one event log, with the same contract as FrameReader.
type LogReader interface {
	Load(tok *jobs.Token, loc route.Locator) error
}

// LoaderFactory creates the collaborators of a Segment. Each job gets its own
// instance, which the Segment owns until Close.
type LoaderFactory interface {
	NewFrameReader(opts LoaderOptions) FrameReader
	NewLogReader(opts LoaderOptions) LogReader
}
