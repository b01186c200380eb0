package loader

import (
	"sync"

	"route-replay/internal/jobs"
	"route-replay/internal/route"
	"route-replay/internal/segment"
)

// blob holds the bytes of one fetched file.
type blob struct {
	f    *Factory
	opts segment.LoaderOptions

	mu   sync.Mutex
	data []byte
	src  route.Locator
}

func (b *blob) load(tok *jobs.Token, loc route.Locator) error {
	data, err := b.f.fetch(tok, loc, b.opts)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.data, b.src = data, loc
	b.mu.Unlock()
	return nil
}

// Bytes returns the fetched file, nil before a successful Load or after Close.
// The slice may be shared with the blob cache and must not be modified.
func (b *blob) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Source returns the locator of the last successful Load.
func (b *blob) Source() route.Locator {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.src
}

// Options returns the options the reader was created with.
func (b *blob) Options() segment.LoaderOptions { return b.opts }

// Close drops the fetched bytes.
func (b *blob) Close() error {
	b.mu.Lock()
	b.data = nil
	b.mu.Unlock()
	return nil
}

// FrameReader fetches one camera stream.
type FrameReader struct {
	blob
}

// Load implements segment.FrameReader.
func (r *FrameReader) Load(tok *jobs.Token, loc route.Locator) error {
	return r.load(tok, loc)
}

// LogReader fetches one event log.
type LogReader struct {
	blob
}

// Load implements segment.LogReader.
func (r *LogReader) Load(tok *jobs.Token, loc route.Locator) error {
	return r.load(tok, loc)
}
