package hlsprefetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videocache/internal/originclient"
	"videocache/internal/vconfig"
)

type captureListener struct {
	mu         sync.Mutex
	ready      []string
	errs       []error
	progress   int
	completed  []bool
}

func (c *captureListener) OnProgress(_ string, completed, _ int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = completed
}

func (c *captureListener) OnReadyForPlayback(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = append(c.ready, path)
}

func (c *captureListener) OnError(_ string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *captureListener) OnComplete(_ string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = append(c.completed, success)
}

func (c *captureListener) snapshot() (ready []string, errs []error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ready...), append([]error(nil), c.errs...)
}

func (c *captureListener) completions() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.completed...)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func testPlaylist(segmentCount int) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for i := 1; i <= segmentCount; i++ {
		fmt.Fprintf(&b, "#EXTINF:4.000,\nseg%d.ts\n", i)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

func TestTask_CacheDownloadsSegmentsAndFiresReady(t *testing.T) {
	const segmentCount = 4
	playlist := testPlaylist(segmentCount)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/index.m3u8" {
			w.Write([]byte(playlist))
			return
		}
		w.Write([]byte("tspayload"))
	}))
	defer server.Close()

	dir := t.TempDir()
	store, err := OpenStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := vconfig.Default()
	cfg.MinSegmentsForPlayback = 2
	cfg.WorkerPoolMax = 4
	cfg.MaxSegmentRetryCount = 1

	listener := &captureListener{}
	origin := originclient.New(nil, nil)
	task := New(dir, server.URL+"/index.m3u8", cfg, origin, store, listener)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, task.Cache(ctx))

	waitUntil(t, 3*time.Second, task.IsCompleted)

	ready, errs := listener.snapshot()
	assert.Empty(t, errs)
	assert.NotEmpty(t, ready, "expected on_ready_for_playback to fire")

	for i := 1; i <= segmentCount; i++ {
		path := filepath.Join(dir, "video-cache", "m3u8", task.taskID, fmt.Sprintf("%05d.ts", i))
		fi, statErr := os.Stat(path)
		require.NoError(t, statErr, "segment %d should be on disk", i)
		assert.Greater(t, fi.Size(), int64(0))
	}

	content, err := os.ReadFile(task.PlaylistPath())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(content), "#EXT-X-ENDLIST\n"))

	waitUntil(t, time.Second, func() bool { return len(listener.completions()) > 0 })
	completions := listener.completions()
	require.Len(t, completions, 1)
	assert.True(t, completions[0], "expected on_complete(true, ...) once every segment resolved")
}

func TestTask_ConsecutiveFailuresAbortWithMessage(t *testing.T) {
	playlist := testPlaylist(5)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/index.m3u8" {
			w.Write([]byte(playlist))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dir := t.TempDir()
	store, err := OpenStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := vconfig.Default()
	cfg.MaxConsecutiveFailures = 2
	cfg.MaxSegmentRetryCount = 1
	cfg.WorkerPoolMax = 1 // serialize downloads so "consecutive" is deterministic

	listener := &captureListener{}
	origin := originclient.New(nil, nil)
	task := New(dir, server.URL+"/index.m3u8", cfg, origin, store, listener)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, task.Cache(ctx))

	waitUntil(t, 3*time.Second, task.Canceled)

	_, errs := listener.snapshot()
	require.NotEmpty(t, errs)

	found := false
	for _, e := range errs {
		if strings.HasPrefix(e.Error(), "continuous 2 downloads failed") {
			found = true
		}
	}
	assert.True(t, found, "expected an error prefixed \"continuous 2 downloads failed\", got %v", errs)

	waitUntil(t, time.Second, func() bool { return len(listener.completions()) > 0 })
	completions := listener.completions()
	require.Len(t, completions, 1)
	assert.False(t, completions[0], "expected on_complete(false, ...) after an aborted prefetch")
}
