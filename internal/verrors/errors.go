// Package verrors names the error taxonomy from spec §7 as sentinel values,
// so call sites can classify an error with errors.Is/errors.Cause
// (github.com/pkg/errors) instead of string-matching.
package verrors

import (
	"strconv"

	"github.com/pkg/errors"
)

var (
	// ErrRequestEmpty: client sent no bytes; close silently.
	ErrRequestEmpty = errors.New("request empty")
	// ErrRequestMalformed: unparseable request line; close silently.
	ErrRequestMalformed = errors.New("request malformed")
	// ErrRangeUnsatisfiable: respond 416.
	ErrRangeUnsatisfiable = errors.New("range not satisfiable")
	// ErrUpstreamConnect: origin connect failed across all TLS versions;
	// respond 500, fire on_cache_error.
	ErrUpstreamConnect = errors.New("upstream connect error")
	// ErrClientDisconnect: client socket write failed after retries.
	ErrClientDisconnect = errors.New("client disconnected")
	// ErrIncompleteDownload: WebM length mismatch at end of stream; cache
	// file deleted, fire on_cache_error.
	ErrIncompleteDownload = errors.New("incomplete download")
	// ErrSegmentFetchFailed: transient HLS segment fetch failure, retried.
	ErrSegmentFetchFailed = errors.New("segment fetch failed")
	// ErrPrefetchAborted: failure-gating threshold reached; cancels the run.
	ErrPrefetchAborted = errors.New("prefetch aborted")
	// ErrMissingSegments: save_local_m3u8_final found an undownloaded
	// segment.
	ErrMissingSegments = errors.New("missing segments")
)

// UpstreamStatus wraps an forwarded-verbatim upstream HTTP status (§7
// UpstreamStatus(code)).
type UpstreamStatus struct {
	Code    int
	Message string
}

func (e *UpstreamStatus) Error() string {
	return "upstream status " + strconv.Itoa(e.Code) + ": " + e.Message
}
