package httpframe

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRequest_Empty(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(""))
	req, ok := ReadRequest(r)
	assert.False(t, ok)
	assert.Nil(t, req)
}

func TestReadRequest_ParsesTargetAndHeaders(t *testing.T) {
	raw := "GET /http%3A%2F%2Fexample.com%2Fv.mp4 HTTP/1.1\r\n" +
		"Host: 127.0.0.1:8080\r\n" +
		"Range: bytes=100-199\r\n" +
		"\r\n"
	r := bufio.NewReader(strings.NewReader(raw))
	req, ok := ReadRequest(r)
	require.True(t, ok)
	require.NotNil(t, req)

	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "http://example.com/v.mp4", req.TargetURL)

	v, found := req.Header("range")
	require.True(t, found)
	assert.Equal(t, "bytes=100-199", v)

	_, found = req.Header("X-Missing")
	assert.False(t, found)
}

func TestParseTarget_PrependsSchemeWhenAbsent(t *testing.T) {
	assert.Equal(t, "https://example.com/v.mp4", parseTarget("example.com%2Fv.mp4"))
	assert.Equal(t, "http://example.com/v.mp4", parseTarget("http%3A%2F%2Fexample.com%2Fv.mp4"))
}

func TestProxyURLRoundTrip(t *testing.T) {
	originals := []string{
		"https://example.com/path/v.mp4",
		"http://example.com/path/v.mp4",
	}
	for _, orig := range originals {
		path := ProxyPath(orig)
		got := OriginalURL(path)
		assert.Equal(t, orig, got)
	}
}

func TestParseRange(t *testing.T) {
	start, end, hasEnd, ok := ParseRange("bytes=0-9")
	require.True(t, ok)
	assert.True(t, hasEnd)
	assert.Equal(t, int64(0), start)
	assert.Equal(t, int64(9), end)

	start, _, hasEnd, ok = ParseRange("bytes=20-")
	require.True(t, ok)
	assert.False(t, hasEnd)
	assert.Equal(t, int64(20), start)

	_, _, _, ok = ParseRange("not-a-range")
	assert.False(t, ok)
}
