package progressive

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videocache/internal/cachekey"
	"videocache/internal/filecache"
	"videocache/internal/originclient"
	"videocache/internal/registry"
)

type captureListener struct {
	available []string
	errs      []error
}

func (c *captureListener) OnCacheProgress(string, float64, float64) {}
func (c *captureListener) OnCacheAvailable(url string)              { c.available = append(c.available, url) }
func (c *captureListener) OnCacheError(_ string, err error)         { c.errs = append(c.errs, err) }

func newTestHandler(t *testing.T, listener Listener) (*Handler, string) {
	t.Helper()
	dir := t.TempDir()
	reg, err := registry.New(dir)
	require.NoError(t, err)
	t.Cleanup(reg.Release)

	origin := originclient.New(nil, nil)
	return NewHandler(reg, origin, listener), dir
}

func doRequest(t *testing.T, h *Handler, rawRequest string) *http.Response {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		h.Handle(serverConn)
		close(done)
	}()

	_, err := clientConn.Write([]byte(rawRequest))
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(clientConn), nil)
	require.NoError(t, err)

	// net.Pipe is unbuffered: the handler can only finish once the body has
	// been read, so drain it here and hand the caller an in-memory copy.
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body = io.NopCloser(bytes.NewReader(body))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not finish in time")
	}
	return resp
}

func TestProgressive_MP4ColdFetch(t *testing.T) {
	body := bytes.Repeat([]byte{0x41}, 1024)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "1024")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}))
	defer origin.Close()

	listener := &captureListener{}
	h, _ := newTestHandler(t, listener)

	target := "GET /" + escapeURL(origin.URL) + "/v.mp4 HTTP/1.1\r\nHost: x\r\n\r\n"
	resp := doRequest(t, h, target)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Equal(t, "1024", resp.Header.Get("Content-Length"))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	require.Len(t, listener.available, 1)
}

func TestProgressive_RangeHitFromCache(t *testing.T) {
	listener := &captureListener{}
	h, dir := newTestHandler(t, listener)

	url := "http://example.test/v.mp4"
	fc := writeFixtureCache(t, dir, url, bytes.Repeat([]byte{0x42}, 1000))
	defer fc.Close()

	req := "GET /" + escapeURL(url) + " HTTP/1.1\r\nHost: x\r\nRange: bytes=100-199\r\n\r\n"
	resp := doRequest(t, h, req)
	defer resp.Body.Close()

	assert.Equal(t, 206, resp.StatusCode)
	assert.Equal(t, "bytes 100-199/1000", resp.Header.Get("Content-Range"))
	assert.Equal(t, "100", resp.Header.Get("Content-Length"))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x42}, 100), got)
}

func TestProgressive_WebMRangeRewrite(t *testing.T) {
	listener := &captureListener{}
	h, dir := newTestHandler(t, listener)

	url := "http://example.test/v.webm"
	fc := writeFixtureCache(t, dir, url, bytes.Repeat([]byte{0x43}, 500))
	defer fc.Close()

	req := "GET /" + escapeURL(url) + " HTTP/1.1\r\nHost: x\r\nRange: bytes=600-\r\n\r\n"
	resp := doRequest(t, h, req)
	defer resp.Body.Close()

	assert.Equal(t, 206, resp.StatusCode)
	assert.Equal(t, "bytes 0-499/500", resp.Header.Get("Content-Range"))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Len(t, got, 500)
}

func writeFixtureCache(t *testing.T, dir, url string, data []byte) *filecache.FileCache {
	t.Helper()
	path := dir + "/" + cachekey.Filename(url)
	fc, err := filecache.Open(url, path)
	require.NoError(t, err)
	require.NoError(t, fc.Write(data, 0))
	return fc
}

func escapeURL(u string) string {
	return strings.ReplaceAll(strings.ReplaceAll(u, ":", "%3A"), "/", "%2F")
}
