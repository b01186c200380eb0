package route

import (
	"encoding/json"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FileKind names one slot of a SegmentFiles.
type FileKind int

const (
	RoadCam FileKind = iota
	DriverCam
	WideRoadCam
	QCamera
	RawLog
	CompactLog

	numFileKinds
)

var fileKindNames = [numFileKinds]string{
	RoadCam:     "road_cam",
	DriverCam:   "driver_cam",
	WideRoadCam: "wide_road_cam",
	QCamera:     "qcamera",
	RawLog:      "rlog",
	CompactLog:  "qlog",
}

func (k FileKind) String() string {
	if k < 0 || k >= numFileKinds {
		return "unknown"
	}
	return fileKindNames[k]
}

// basenames maps the recognized file names to their slot.
var basenames = map[string]FileKind{
	"fcamera.hevc": RoadCam,
	"dcamera.hevc": DriverCam,
	"ecamera.hevc": WideRoadCam,
	"qcamera.ts":   QCamera,
	"rlog.bz2":     RawLog,
	"qlog.bz2":     CompactLog,
}

// KindOf classifies a file by its exact basename.
func KindOf(name string) (FileKind, bool) {
	k, ok := basenames[name]
	return k, ok
}

// Locator points at one file: a local path or a remote URL, never both.
// The zero value is an absent locator.
type Locator struct {
	value  string
	remote bool
}

// PathLocator returns a locator for a file on the local filesystem.
func PathLocator(p string) Locator {
	return Locator{value: p}
}

// URLLocator returns a locator for a remote file.
func URLLocator(u string) Locator {
	return Locator{value: u, remote: true}
}

// IsZero reports whether the locator is absent.
func (l Locator) IsZero() bool { return l.value == "" }

// IsRemote reports whether the locator is a URL.
func (l Locator) IsRemote() bool { return l.remote && l.value != "" }

func (l Locator) String() string { return l.value }

// Basename is the file name of the path or of the URL path.
func (l Locator) Basename() string {
	if l.IsZero() {
		return ""
	}
	if l.remote {
		if u, err := url.Parse(l.value); err == nil {
			return path.Base(u.Path)
		}
		return path.Base(l.value)
	}
	return filepath.Base(l.value)
}

// SegmentFiles is the immutable set of file locators of one segment.
type SegmentFiles struct {
	files [numFileKinds]Locator
}

// Get returns the locator in slot k, which may be absent.
func (f SegmentFiles) Get(k FileKind) Locator {
	if k < 0 || k >= numFileKinds {
		return Locator{}
	}
	return f.files[k]
}

// Len returns the number of populated slots.
func (f SegmentFiles) Len() int {
	n := 0
	for _, l := range f.files {
		if !l.IsZero() {
			n++
		}
	}
	return n
}

// MarshalJSON encodes the populated slots as {"road_cam": "...", ...}.
func (f SegmentFiles) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, numFileKinds)
	for k, l := range f.files {
		if !l.IsZero() {
			out[FileKind(k).String()] = l.String()
		}
	}
	return json.Marshal(out)
}

// Manifest maps segment numbers to their files. It is read-only once built.
type Manifest struct {
	segments map[int]SegmentFiles
	order    []int
}

// Len returns the number of segments.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

// Empty reports whether the manifest has no segments.
func (m *Manifest) Empty() bool { return m.Len() == 0 }

// Segments returns the segment numbers in ascending order.
func (m *Manifest) Segments() []int {
	if m == nil {
		return nil
	}
	out := make([]int, len(m.order))
	copy(out, m.order)
	return out
}

// Files returns the files of segment n.
func (m *Manifest) Files(n int) (SegmentFiles, bool) {
	if m == nil {
		return SegmentFiles{}, false
	}
	f, ok := m.segments[n]
	return f, ok
}

// MarshalJSON encodes the manifest as {"0": {...}, "1": {...}}.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.segments)
}

// manifestBuilder accumulates files for a single resolution pass.
type manifestBuilder struct {
	segments map[int]*SegmentFiles
}

func newManifestBuilder() *manifestBuilder {
	return &manifestBuilder{segments: make(map[int]*SegmentFiles)}
}

// add classifies loc by basename and stores it under segment n. Unrecognized
// names are ignored and a populated slot is never overwritten.
func (b *manifestBuilder) add(n int, loc Locator) bool {
	if loc.IsZero() || n < 0 {
		return false
	}
	kind, ok := KindOf(loc.Basename())
	if !ok {
		return false
	}
	files, ok := b.segments[n]
	if !ok {
		files = &SegmentFiles{}
		b.segments[n] = files
	}
	if !files.files[kind].IsZero() {
		return false
	}
	files.files[kind] = loc
	return true
}

func (b *manifestBuilder) build() *Manifest {
	m := &Manifest{
		segments: make(map[int]SegmentFiles, len(b.segments)),
		order:    make([]int, 0, len(b.segments)),
	}
	for n, f := range b.segments {
		m.segments[n] = *f
		m.order = append(m.order, n)
	}
	sort.Ints(m.order)
	return m
}

// numericSegment extracts the segment number from a route-index URL path:
// the first path element made only of digits.
func numericSegment(p string) (int, bool) {
	m := segmentPathPattern.FindStringSubmatch(p)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// splitSegmentDir splits a "<timestamp>--<n>" directory name on its last "--".
func splitSegmentDir(name string) (prefix, suffix string, ok bool) {
	i := strings.LastIndex(name, segmentDirDelimiter)
	if i < 0 {
		return "", "", false
	}
	return name[:i], name[i+len(segmentDirDelimiter):], true
}
