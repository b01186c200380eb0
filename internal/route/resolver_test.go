package route

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRoute = "a1b2c3d4e5f6g7h8|2024-01-02--03-04-05"

func mustParse(t *testing.T, s string) Identifier {
	t.Helper()
	id, err := Parse(s)
	require.NoError(t, err)
	return id
}

func writeFile(t *testing.T, parts ...string) string {
	t.Helper()
	p := filepath.Join(parts...)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("data"), 0o644))
	return p
}

func newIndexServer(t *testing.T, body string, status int) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var lastPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastPath.Store(r.URL.EscapedPath())
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &lastPath
}

func TestResolver_Local(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "2024-01-02--03-04-05--0", "rlog.bz2")
	writeFile(t, root, "2024-01-02--03-04-05--1", "qlog.bz2")
	writeFile(t, root, "2024-01-02--03-04-05--1", "notes.txt")
	writeFile(t, root, "2024-01-02--09-09-09--2", "rlog.bz2") // other route
	writeFile(t, root, "2024-01-02--03-04-05--x", "rlog.bz2") // non-numeric suffix
	writeFile(t, root, "2024-01-02--03-04-05--3") // a file, not a dir

	m, err := NewResolver().Resolve(context.Background(), mustParse(t, testRoute), root)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, m.Segments())

	seg0, ok := m.Files(0)
	require.True(t, ok)
	assert.Equal(t, 1, seg0.Len())
	assert.False(t, seg0.Get(RawLog).IsZero())
	assert.False(t, seg0.Get(RawLog).IsRemote())
	assert.True(t, filepath.IsAbs(seg0.Get(RawLog).String()))
	assert.Equal(t, "rlog.bz2", seg0.Get(RawLog).Basename())

	seg1, ok := m.Files(1)
	require.True(t, ok)
	assert.Equal(t, 1, seg1.Len())
	assert.False(t, seg1.Get(CompactLog).IsZero())
	assert.True(t, seg1.Get(RawLog).IsZero())
}

func TestResolver_LocalFollowsSymlinks(t *testing.T) {
	store := t.TempDir()
	segDir := filepath.Dir(writeFile(t, store, "seg0", "rlog.bz2"))
	target := writeFile(t, store, "shared", "qcamera.ts")

	root := t.TempDir()
	require.NoError(t, os.Symlink(segDir, filepath.Join(root, "2024-01-02--03-04-05--0")))
	seg1 := filepath.Join(root, "2024-01-02--03-04-05--1")
	require.NoError(t, os.MkdirAll(seg1, 0o755))
	require.NoError(t, os.Symlink(target, filepath.Join(seg1, "qcamera.ts")))
	// dangling links are skipped
	require.NoError(t, os.Symlink(filepath.Join(store, "gone"), filepath.Join(seg1, "rlog.bz2")))

	m, err := NewResolver().Resolve(context.Background(), mustParse(t, testRoute), root)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, m.Segments())

	seg0Files, _ := m.Files(0)
	assert.Equal(t, "rlog.bz2", seg0Files.Get(RawLog).Basename())
	seg1Files, _ := m.Files(1)
	assert.Equal(t, 1, seg1Files.Len())
	assert.Equal(t, "qcamera.ts", seg1Files.Get(QCamera).Basename())
}

func TestResolver_LocalAllKinds(t *testing.T) {
	root := t.TempDir()
	dir := "2024-01-02--03-04-05--4"
	for name := range basenames {
		writeFile(t, root, dir, name)
	}

	m, err := NewResolver().Resolve(context.Background(), mustParse(t, testRoute), root)
	require.NoError(t, err)
	files, ok := m.Files(4)
	require.True(t, ok)
	for name, kind := range basenames {
		assert.Equal(t, name, files.Get(kind).Basename(), kind.String())
	}
}

func TestResolver_LocalNoMatch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "2023-05-05--01-01-01--0", "rlog.bz2")

	m, err := NewResolver().Resolve(context.Background(), mustParse(t, testRoute), root)
	assert.Nil(t, m)
	var rerr *ResolveError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "local", rerr.Source)
	assert.ErrorIs(t, err, ErrNoSegments)
}

func TestResolver_LocalOnlyUnrecognizedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "2024-01-02--03-04-05--0", "other.bin")

	_, err := NewResolver().Resolve(context.Background(), mustParse(t, testRoute), root)
	assert.ErrorIs(t, err, ErrNoSegments)
}

func TestResolver_LocalMissingRoot(t *testing.T) {
	_, err := NewResolver().Resolve(context.Background(), mustParse(t, testRoute), filepath.Join(t.TempDir(), "missing"))
	var rerr *ResolveError
	assert.True(t, errors.As(err, &rerr))
}

func TestResolver_Remote(t *testing.T) {
	srv, lastPath := newIndexServer(t, `{"cameras":["https://x/5/fcamera.hevc"]}`, http.StatusOK)

	r := NewResolver(WithIndexURL(srv.URL + "/v1/route/%s/files"))
	m, err := r.Resolve(context.Background(), mustParse(t, testRoute), "")
	require.NoError(t, err)
	assert.Equal(t, []int{5}, m.Segments())

	files, _ := m.Files(5)
	assert.Equal(t, 1, files.Len())
	assert.True(t, files.Get(RoadCam).IsRemote())
	assert.Equal(t, "https://x/5/fcamera.hevc", files.Get(RoadCam).String())
	for _, k := range []FileKind{DriverCam, WideRoadCam, QCamera, RawLog, CompactLog} {
		assert.True(t, files.Get(k).IsZero(), k.String())
	}

	assert.Equal(t, "/v1/route/a1b2c3d4e5f6g7h8%7C2024-01-02--03-04-05/files", lastPath.Load())
}

func TestResolver_RemoteClassification(t *testing.T) {
	body := `{
		"logs": ["https://x/a/0/rlog.bz2?sig=1", "https://x/a/0/qlog.bz2", "https://x/a/1/qlog.bz2"],
		"cameras": ["https://x/a/0/fcamera.hevc", "https://x/a/0/dcamera.hevc", "https://x/a/1/ecamera.hevc", "https://x/a/1/qcamera.ts"],
		"junk": ["https://x/a/b/rlog.bz2", "https://x/a/2/unknown.bin", "not a url"],
		"meta": {"ignored": true}
	}`
	srv, _ := newIndexServer(t, body, http.StatusOK)

	m, err := NewResolver(WithIndexURL(srv.URL+"/%s")).Resolve(context.Background(), mustParse(t, testRoute), "")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, m.Segments())

	s0, _ := m.Files(0)
	assert.Equal(t, "https://x/a/0/rlog.bz2?sig=1", s0.Get(RawLog).String())
	assert.Equal(t, "rlog.bz2", s0.Get(RawLog).Basename())
	assert.False(t, s0.Get(CompactLog).IsZero())
	assert.False(t, s0.Get(RoadCam).IsZero())
	assert.False(t, s0.Get(DriverCam).IsZero())

	s1, _ := m.Files(1)
	assert.Equal(t, 3, s1.Len())
	assert.False(t, s1.Get(WideRoadCam).IsZero())
	assert.False(t, s1.Get(QCamera).IsZero())
}

func TestResolver_RemoteFirstLocatorWins(t *testing.T) {
	body := `{"a":["https://first/0/rlog.bz2"],"b":["https://second/0/rlog.bz2"]}`
	srv, _ := newIndexServer(t, body, http.StatusOK)

	m, err := NewResolver(WithIndexURL(srv.URL+"/%s")).Resolve(context.Background(), mustParse(t, testRoute), "")
	require.NoError(t, err)
	files, _ := m.Files(0)
	assert.True(t, strings.HasPrefix(files.Get(RawLog).String(), "https://first/"))
}

func TestResolver_RemoteFailures(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		target error
	}{
		{"empty_object", `{}`, http.StatusOK, ErrNoSegments},
		{"empty_body", ``, http.StatusOK, nil},
		{"no_numeric_segments", `{"a":["https://x/fcamera.hevc"]}`, http.StatusOK, ErrNoSegments},
		{"server_error", `{"a":["https://x/1/fcamera.hevc"]}`, http.StatusInternalServerError, nil},
		{"unauthorized", `{}`, http.StatusUnauthorized, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newIndexServer(t, tt.body, tt.status)
			m, err := NewResolver(WithIndexURL(srv.URL+"/%s")).Resolve(context.Background(), mustParse(t, testRoute), "")
			assert.Nil(t, m)
			var rerr *ResolveError
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, "remote", rerr.Source)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestResolver_RemoteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	r := NewResolver(WithIndexURL(srv.URL+"/%s"), WithTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := r.Resolve(context.Background(), mustParse(t, testRoute), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestResolver_RemoteSendsAuthToken(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.Write([]byte(`{"a":["https://x/0/qlog.bz2"]}`))
	}))
	defer srv.Close()

	_, err := NewResolver(WithIndexURL(srv.URL+"/%s"), WithAuthToken("secret")).
		Resolve(context.Background(), mustParse(t, testRoute), "")
	require.NoError(t, err)
	assert.Equal(t, "JWT secret", auth.Load())
}

func TestResolver_ZeroIdentifier(t *testing.T) {
	_, err := NewResolver().Resolve(context.Background(), Identifier{}, t.TempDir())
	assert.ErrorIs(t, err, ErrInvalidRoute)
}

func TestRoute_Load(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "2024-01-02--03-04-05--2", "qcamera.ts")

	r := New("a1b2c3d4e5f6g7h8_2024-01-02--03-04-05", root, nil)
	assert.Nil(t, r.Manifest())
	assert.True(t, r.Identifier().IsZero())

	require.NoError(t, r.Load(context.Background()))
	assert.Equal(t, []int{2}, r.Segments())
	assert.Equal(t, root, r.Dir())
	assert.Equal(t, testRoute, r.Identifier().CanonicalKey())
}

func TestRoute_LoadInvalid(t *testing.T) {
	r := New("not-a-route", t.TempDir(), nil)
	assert.ErrorIs(t, r.Load(context.Background()), ErrInvalidRoute)
	assert.Nil(t, r.Manifest())
	assert.Empty(t, r.Segments())
}

func TestManifest_MarshalJSON(t *testing.T) {
	b := newManifestBuilder()
	b.add(3, URLLocator("https://x/3/qlog.bz2"))
	b.add(3, URLLocator("https://x/3/fcamera.hevc"))
	out, err := b.build().MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"3":{"qlog":"https://x/3/qlog.bz2","road_cam":"https://x/3/fcamera.hevc"}}`, string(out))
}
