// Package progressive implements the Progressive Proxy Handler (§4.E): the
// per-connection worker that decides cached-vs-fetch path, tees origin bytes
// into the File Cache and the client socket, and honours format-specific
// quirks (WebM never forwards Range upstream).
//
// Grounded on sonroyaalmerol-m3u-stream-merger-proxy's proxy/proxy_video_stream.go
// for the read/write/backoff loop shape, and on the viewra
// progressive_handler.go reference file for range-clamping/416 semantics.
package progressive

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"videocache/internal/filecache"
	"videocache/internal/httpframe"
	"videocache/internal/originclient"
	"videocache/internal/registry"
	"videocache/internal/verrors"
	"videocache/internal/xlog"
	"videocache/internal/xmetrics"
)

const (
	blockSize           = 8 * 1024
	retryBufferCapacity = 16 * 1024

	socketWriteRetries = 3
	socketWriteSleep   = 100 * time.Millisecond

	clientWriteRetries = 3

	progressInterval = time.Second
)

// Handler serves one connection at a time via Handle; a single Handler is
// shared (and safe for concurrent use) across all connections the Proxy
// Server Loop (§4.H) dispatches to it.
type Handler struct {
	registry *registry.Registry
	origin   *originclient.Client
	listener Listener
	log      zerolog.Logger
}

// NewHandler builds a Handler over reg (Cache Registry) and origin (Origin
// Client), reporting through listener (may be NoopListener{}).
func NewHandler(reg *registry.Registry, origin *originclient.Client, listener Listener) *Handler {
	if listener == nil {
		listener = NoopListener{}
	}
	return &Handler{registry: reg, origin: origin, listener: listener, log: xlog.Component("progressive")}
}

// Handle serves conn to completion and closes it on every exit path (§4.E
// step 5).
func (h *Handler) Handle(conn net.Conn) {
	defer conn.Close()

	log := xlog.WithRequestID(h.log)

	reader := bufio.NewReader(conn)
	req, ok := httpframe.ReadRequest(reader)
	if !ok {
		return // RequestEmpty: close silently
	}
	if req.TargetURL == "" {
		return // RequestMalformed: close silently
	}

	log = log.With().Str("url", req.TargetURL).Logger()

	fc, err := h.registry.GetFileCache(req.TargetURL)
	if err != nil {
		log.Error().Err(err).Msg("failed to open cache file")
		xmetrics.ProxyRequestsTotal.WithLabelValues("error").Inc()
		h.writeInternalError(conn, err)
		return
	}

	if fc.Exists() {
		xmetrics.ProxyRequestsTotal.WithLabelValues("cache_hit").Inc()
		h.serveCached(conn, req, fc, log)
		return
	}
	xmetrics.ProxyRequestsTotal.WithLabelValues("fetch").Inc()
	h.serveFetch(conn, req, fc, log)
}

func (h *Handler) writeInternalError(conn net.Conn, err error) {
	_, _ = conn.Write(httpframe.StatusLine(500, "Internal Server Error"))
	_, _ = conn.Write([]byte(err.Error()))
}

// --- cached path (§4.E step 3) ---

func (h *Handler) serveCached(conn net.Conn, req *httpframe.Request, fc *filecache.FileCache, log zerolog.Logger) {
	length := fc.Length()
	contentType := contentTypeFromURL(req.TargetURL)

	start, end := int64(0), length-1
	if rangeHeader, ok := req.Header("Range"); ok {
		if s, e, hasEnd, ok2 := httpframe.ParseRange(rangeHeader); ok2 {
			start = s
			if hasEnd {
				end = e
			} else {
				end = length - 1
			}
		}
	}

	if start >= length {
		if isWebM(contentType) {
			start, end = 0, length-1
		} else {
			_, _ = conn.Write(httpframe.RangeNotSatisfiable(length).Bytes())
			return
		}
	}

	if start < 0 {
		start = 0
	}
	if end >= length {
		end = length - 1
	}
	if end < start {
		end = start
	}

	headers := httpframe.Partial206(contentType, end-start+1, start, end, length)
	if _, err := conn.Write(headers.Bytes()); err != nil {
		return
	}

	h.streamCachedBlocks(conn, fc, start, end, log)
}

func (h *Handler) streamCachedBlocks(conn net.Conn, fc *filecache.FileCache, start, end int64, log zerolog.Logger) {
	pos := start
	for pos <= end {
		want := int(end-pos) + 1
		if want > blockSize {
			want = blockSize
		}
		data, err := fc.Read(pos, want)
		if err != nil {
			log.Warn().Err(err).Msg("cache read failed while streaming cached path")
			return
		}
		if len(data) == 0 {
			return
		}
		if !h.writeWithSocketRetry(conn, data, log) {
			return
		}
		pos += int64(len(data))
	}
}

// writeWithSocketRetry implements the cached path's retry policy: up to 3
// retries with a 100ms sleep, then abort (§4.E step 3).
func (h *Handler) writeWithSocketRetry(conn net.Conn, data []byte, log zerolog.Logger) bool {
	if _, err := conn.Write(data); err == nil {
		return true
	}
	for attempt := 1; attempt <= socketWriteRetries; attempt++ {
		time.Sleep(socketWriteSleep)
		if _, err := conn.Write(data); err == nil {
			return true
		}
	}
	log.Warn().Msg("client write failed after retries, aborting cached stream")
	return false
}

// --- fetch path (§4.E step 4) ---

func (h *Handler) serveFetch(conn net.Conn, req *httpframe.Request, fc *filecache.FileCache, log zerolog.Logger) {
	contentType := contentTypeFromURL(req.TargetURL)
	webm := isWebM(contentType)

	rangeHeader, hasRange := req.Header("Range")
	forwardRange := ""
	if hasRange && !webm {
		forwardRange = rangeHeader
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := h.origin.Fetch(ctx, req.TargetURL, forwardRange)
	if err != nil {
		log.Error().Err(err).Msg("origin connect failed")
		h.writeInternalError(conn, verrors.ErrUpstreamConnect)
		h.listener.OnCacheError(req.TargetURL, verrors.ErrUpstreamConnect)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if len(body) > 0 {
			log.Warn().Int("status", resp.StatusCode).Str("body", string(body)).Msg("origin returned error status")
		}
		_, _ = conn.Write(httpframe.StatusLine(resp.StatusCode, resp.Status))
		return
	}

	contentType = refineContentType(contentType, resp.ContentType)
	webm = isWebM(contentType)
	contentLength := resp.ContentLength

	if webm && fc.Exists() && contentLength > 0 && fc.Length() != contentLength {
		reset, err := h.registry.Reset(req.TargetURL)
		if err != nil {
			log.Error().Err(err).Msg("failed to reset inconsistent webm cache file")
			h.writeInternalError(conn, err)
			return
		}
		fc = reset
	}

	headers := h.buildFetchHeaders(contentType, contentLength, webm, hasRange, rangeHeader, resp)
	if _, err := conn.Write(headers.Bytes()); err != nil {
		log.Debug().Msg("client disconnected before response headers were sent")
		return
	}

	initialPos := int64(0)
	if forwardRange != "" {
		if s, _, _, ok := httpframe.ParseRange(forwardRange); ok {
			initialPos = s
		}
	}

	h.tee(conn, req.TargetURL, fc, resp.Body, contentLength, webm, initialPos, log)
}

func (h *Handler) buildFetchHeaders(contentType string, contentLength int64, webm, hasRange bool, rangeHeader string, resp *originclient.Response) httpframe.ResponseHeaders {
	if !webm && hasRange && resp.StatusCode == 206 {
		cr := resp.ContentRange
		if cr == "" {
			// Content-Range fabrication (§9 known issue): origin said 206
			// but didn't give us a range, so we reconstruct one from the
			// request's start and whatever length we know. This can lie
			// about the true served range; preserved as specified.
			start, _, _, _ := httpframe.ParseRange(rangeHeader)
			total := contentLength
			end := total - 1
			if total <= 0 {
				total = start + 1
				end = start
			}
			cr = fmt.Sprintf("bytes %d-%d/%d", start, end, total)
		}
		return httpframe.ResponseHeaders{
			StatusCode:   206,
			StatusText:   "Partial Content",
			ContentType:  contentType,
			ContentLen:   contentLength,
			ContentRange: cr,
		}
	}
	return httpframe.OK200(contentType, contentLength)
}

// tee reads from origin into an 8KiB buffer, writing each block to the
// FileCache and the client, retrying client writes per §4.E, and reporting
// throttled progress.
func (h *Handler) tee(conn net.Conn, url string, fc *filecache.FileCache, body io.Reader, contentLength int64, webm bool, initialPos int64, log zerolog.Logger) {
	buf := make([]byte, blockSize)
	retryBuf := newRetryBuffer(retryBufferCapacity)

	pos := initialPos
	var totalRead int64
	start := time.Now()
	lastProgress := start
	clientAlive := true

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if err := fc.Write(chunk, pos); err != nil {
				log.Error().Err(err).Msg("cache write failed")
				h.listener.OnCacheError(url, err)
				return
			}
			xmetrics.ProxyBytesTeedTotal.Add(float64(n))

			if clientAlive {
				if h.writeWithClientRetry(conn, chunk, retryBuf) {
					retryBuf.Write(chunk)
				} else if webm {
					log.Debug().Msg("client disconnected mid-stream for webm; continuing cache-only fill")
					clientAlive = false
				} else {
					h.listener.OnCacheError(url, verrors.ErrClientDisconnect)
					return
				}
			}

			pos += int64(n)
			totalRead += int64(n)

			if time.Since(lastProgress) >= progressInterval {
				h.reportProgress(url, totalRead, contentLength, start, log)
				lastProgress = time.Now()
			}
		}

		if readErr != nil {
			if readErr != io.EOF {
				log.Warn().Err(readErr).Msg("origin read failed")
			}
			break
		}
	}

	if webm && contentLength > 0 && fc.Length() != contentLength {
		if err := fc.Delete(); err != nil {
			log.Warn().Err(err).Msg("failed to delete incomplete webm cache file")
		}
		h.listener.OnCacheError(url, verrors.ErrIncompleteDownload)
		return
	}

	if contentLength > 0 && totalRead >= contentLength {
		h.listener.OnCacheAvailable(url)
	}
}

// writeWithClientRetry implements §4.E's client-write retry policy: up to 3
// retries with 1s*attempt backoff, each writing the retry buffer followed by
// data to the same conn. There is no separate reopen step; whether a retry
// on a half-failed raw socket recovers anything is platform-dependent, so
// this is best-effort (§9).
func (h *Handler) writeWithClientRetry(conn net.Conn, data []byte, retryBuf *retryBuffer) bool {
	if _, err := conn.Write(data); err == nil {
		return true
	}
	for attempt := 1; attempt <= clientWriteRetries; attempt++ {
		time.Sleep(time.Duration(attempt) * time.Second)
		resend := append(retryBuf.Bytes(), data...)
		if _, err := conn.Write(resend); err == nil {
			return true
		}
	}
	return false
}

func (h *Handler) reportProgress(url string, totalRead, contentLength int64, start time.Time, log zerolog.Logger) {
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		elapsed = 0.001
	}
	var percent float64
	if contentLength > 0 {
		percent = float64(totalRead) * 100 / float64(contentLength)
	} else {
		percent = float64(totalRead) / blockSize
	}
	speed := float64(totalRead) / elapsed

	log.Debug().
		Str("teed", humanize.Bytes(uint64(totalRead))).
		Str("speed", humanize.Bytes(uint64(speed))+"/s").
		Float64("percent", percent).
		Msg("tee progress")

	h.listener.OnCacheProgress(url, percent, speed)
}
