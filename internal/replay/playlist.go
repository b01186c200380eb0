package replay

import (
	"fmt"
	"math"
	"strings"
	"time"

	"route-replay/internal/route"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"

	// SegmentDuration is the nominal length of one route segment.
	SegmentDuration = time.Minute
)

// playlistEntry is one media segment of a playlist.
type playlistEntry struct {
	Number   int
	Duration float64
	URI      string
}

// qcameraEntries lists the segments of m that have a low-res camera stream,
// in ascending order. URIs are relative to the route's playlist URL.
func qcameraEntries(m *route.Manifest) []playlistEntry {
	var out []playlistEntry
	for _, n := range m.Segments() {
		files, _ := m.Files(n)
		if files.Get(route.QCamera).IsZero() {
			continue
		}
		out = append(out, playlistEntry{
			Number:   n,
			Duration: SegmentDuration.Seconds(),
			URI:      fmt.Sprintf("segments/%d/qcamera.ts", n),
		})
	}
	return out
}

// BuildRoutePlaylist renders the low-res camera streams of a route as an HLS
// VOD playlist. Missing segment numbers are marked as discontinuities.
// A route without streams produces a minimal valid, ended playlist.
func BuildRoutePlaylist(m *route.Manifest) string {
	entries := qcameraEntries(m)

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")

	if len(entries) == 0 {
		b.WriteString("#EXT-X-TARGETDURATION:1\n")
		b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
		b.WriteString("#EXT-X-ENDLIST\n")
		return b.String()
	}

	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration(entries))
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n\n", entries[0].Number)

	for i, e := range entries {
		if i > 0 && e.Number != entries[i-1].Number+1 {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		fmt.Fprintf(&b, "#EXTINF:%.1f,\n", e.Duration)
		b.WriteString(e.URI)
		b.WriteString("\n")
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// targetDuration returns the ceiling of the longest entry in seconds.
func targetDuration(entries []playlistEntry) int {
	longest := 0.0
	for _, e := range entries {
		longest = math.Max(longest, e.Duration)
	}
	if longest <= 0 {
		return 1
	}
	return int(math.Ceil(longest))
}
