package httpframe

import (
	"fmt"
	"strconv"
	"strings"
)

// ResponseHeaders builds the status-line + header block (terminated by a
// blank line) for the two templates §4.C enumerates. The status line always
// comes from StatusCode/StatusText. ContentRange is empty for the 200
// template; when non-empty it is emitted as Content-Range (Partial206 and
// RangeNotSatisfiable set it together with their own status code).
type ResponseHeaders struct {
	StatusCode   int
	StatusText   string
	ContentType  string
	ContentLen   int64
	ContentRange string // "bytes s-e/total", empty to omit
}

// OK200 builds the 200 OK template (§4.C).
func OK200(contentType string, contentLength int64) ResponseHeaders {
	return ResponseHeaders{StatusCode: 200, StatusText: "OK", ContentType: contentType, ContentLen: contentLength}
}

// Partial206 builds the 206 Partial Content template (§4.C).
func Partial206(contentType string, contentLength int64, start, end, total int64) ResponseHeaders {
	return ResponseHeaders{
		StatusCode:   206,
		StatusText:   "Partial Content",
		ContentType:  contentType,
		ContentLen:   contentLength,
		ContentRange: fmt.Sprintf("bytes %d-%d/%d", start, end, total),
	}
}

// RangeNotSatisfiable builds the 416 response (§4.E): Content-Range is set,
// while Content-Type and Content-Length are omitted.
func RangeNotSatisfiable(total int64) ResponseHeaders {
	return ResponseHeaders{
		StatusCode:   416,
		StatusText:   "Requested Range Not Satisfiable",
		ContentRange: "bytes */" + strconv.FormatInt(total, 10),
	}
}

// Bytes renders the full status-line + header block, CRLF-terminated, with
// a trailing blank line.
func (h ResponseHeaders) Bytes() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", h.StatusCode, h.StatusText)
	if h.ContentType != "" {
		fmt.Fprintf(&b, "Content-Type: %s\r\n", h.ContentType)
	}
	if h.StatusCode != 416 {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", h.ContentLen)
	}
	if h.ContentRange != "" {
		fmt.Fprintf(&b, "Content-Range: %s\r\n", h.ContentRange)
	}
	b.WriteString("Connection: keep-alive\r\n")
	b.WriteString("Accept-Ranges: bytes\r\n")
	b.WriteString("Access-Control-Allow-Origin: *\r\n")
	b.WriteString("Cache-Control: no-cache\r\n")
	b.WriteString("\r\n")
	return []byte(b.String())
}

// StatusLine renders a bare "HTTP/1.1 <code> <msg>\r\n\r\n" line, used to
// forward upstream error statuses verbatim (§7 UpstreamStatus).
func StatusLine(code int, msg string) []byte {
	return []byte(fmt.Sprintf("HTTP/1.1 %d %s\r\n\r\n", code, msg))
}

// ParseRange parses a "bytes=s-[e]" Range header value (§4.E). ok is false
// if the header is absent or malformed; callers fall back to the full-file
// default.
func ParseRange(value string) (start int64, end int64, hasEnd bool, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(value, prefix) {
		return 0, 0, false, false
	}
	spec := value[len(prefix):]
	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return 0, 0, false, false
	}
	startStr := spec[:dash]
	endStr := spec[dash+1:]

	s, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return 0, 0, false, false
	}
	if endStr == "" {
		return s, 0, false, true
	}
	e, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return 0, 0, false, false
	}
	return s, e, true, true
}
