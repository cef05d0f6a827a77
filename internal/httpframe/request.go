// Package httpframe implements the minimal raw-socket HTTP request/response
// framing the progressive-byte proxy needs (§4.C). The proxy deliberately
// does not use net/http for this path: the spec requires byte-for-byte
// control over how bytes are teed to the cache and the client socket, and a
// format-specific retry/resend path (§4.E) that reopens the client writer —
// behaviour that only makes sense against a raw net.Conn. No example in the
// pack hand-frames HTTP this way (every one reaches for net/http), so this
// package is built directly from the spec's own description of a
// BufferedReader-style line loop over a socket.
package httpframe

import (
	"bufio"
	"net/url"
	"strings"
)

// Request is the parsed target of a progressive-proxy connection (§3
// "Request context").
type Request struct {
	Method    string
	RawLines  []string // raw request line followed by header lines, in arrival order, for case-insensitive lookup
	TargetURL string   // resolved absolute URL, or "" if absent/unparseable
}

// ReadRequest reads CRLF-terminated lines from r until an empty line,
// mirroring a client's raw HTTP/1.1 request framing. Returns (nil, false) if
// the client sent no bytes at all (§7 RequestEmpty).
func ReadRequest(r *bufio.Reader) (*Request, bool) {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
		if err != nil {
			break
		}
		if trimmed == "" {
			break
		}
	}
	if len(lines) == 0 {
		return nil, false
	}

	req := &Request{RawLines: lines}
	method, target, ok := splitRequestLine(lines[0])
	if !ok {
		return req, true
	}
	req.Method = method
	req.TargetURL = parseTarget(target)
	return req, true
}

func splitRequestLine(line string) (method, target string, ok bool) {
	idx := strings.IndexByte(line, ' ')
	if idx < 0 {
		return "", "", false
	}
	method = line[:idx]
	rest := strings.TrimLeft(line[idx+1:], " ")
	end := strings.IndexByte(rest, ' ')
	if end < 0 {
		target = rest
	} else {
		target = rest[:end]
	}
	if target == "" {
		return "", "", false
	}
	return method, target, true
}

// parseTarget implements §4.C's target parsing rule: strip the leading "/",
// percent-decode, and prepend "https://" if no scheme is present.
func parseTarget(target string) string {
	path := strings.TrimPrefix(target, "/")
	decoded, err := url.QueryUnescape(path)
	if err != nil {
		decoded = path
	}
	if !strings.HasPrefix(decoded, "http://") && !strings.HasPrefix(decoded, "https://") {
		decoded = "https://" + decoded
	}
	return decoded
}

// Header performs a case-insensitive prefix lookup across the request's raw
// lines (§4.C), returning the trimmed value after the first colon.
func (req *Request) Header(name string) (string, bool) {
	prefix := strings.ToLower(name) + ":"
	for _, line := range req.RawLines {
		if len(line) < len(prefix) {
			continue
		}
		if strings.ToLower(line[:len(prefix)]) != prefix {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		return strings.TrimSpace(line[idx+1:]), true
	}
	return "", false
}
