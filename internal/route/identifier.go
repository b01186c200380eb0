// Package route parses drive-route identifiers and resolves them into a
// manifest of per-segment files, from the remote route index or from a local
// directory tree.
package route

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrInvalidRoute is returned by Parse for strings outside the route grammar.
var ErrInvalidRoute = errors.New("invalid route format")

// keySeparator joins device id and timestamp in the canonical key.
const keySeparator = "|"

// dongle id, separator, timestamp, then an optional "--N" or "/N" segment.
var routePattern = regexp.MustCompile(`^([a-z0-9]{16})([|_/])(\d{4}-\d{2}-\d{2}--\d{2}-\d{2}-\d{2})(?:(--|/)(\d+))?$`)

// Identifier is a parsed route name. The zero value is not a valid route.
type Identifier struct {
	DeviceID  string
	Timestamp string

	segment    int
	hasSegment bool
}

// Parse validates s and returns its Identifier. It never returns a partially
// populated Identifier.
func Parse(s string) (Identifier, error) {
	m := routePattern.FindStringSubmatch(s)
	if m == nil {
		return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidRoute, s)
	}

	id := Identifier{DeviceID: m[1], Timestamp: m[3]}
	if m[5] != "" {
		n, err := strconv.Atoi(m[5])
		if err != nil {
			return Identifier{}, fmt.Errorf("%w: segment %q: %v", ErrInvalidRoute, m[5], err)
		}
		id.segment, id.hasSegment = n, true
	}
	return id, nil
}

// CanonicalKey is the backend lookup key, "<device>|<timestamp>".
func (id Identifier) CanonicalKey() string {
	return id.DeviceID + keySeparator + id.Timestamp
}

// SegmentHint returns the segment named in the parsed string, if any.
func (id Identifier) SegmentHint() (int, bool) {
	return id.segment, id.hasSegment
}

// IsZero reports whether id is the zero Identifier.
func (id Identifier) IsZero() bool {
	return id.DeviceID == "" && id.Timestamp == ""
}

func (id Identifier) String() string {
	if id.hasSegment {
		return fmt.Sprintf("%s--%d", id.CanonicalKey(), id.segment)
	}
	return id.CanonicalKey()
}
