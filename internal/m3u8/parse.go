package m3u8

import (
	"bufio"
	"io"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

const fallbackDuration = 10.0

// Detect reports whether body contains an EXT-X-STREAM-INF tag anywhere,
// i.e. it's a master playlist (§4.F: "If any line begins with
// #EXT-X-STREAM-INF:, treat as master playlist").
func Detect(body string) PlaylistType {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#EXT-X-STREAM-INF:") {
			return Master
		}
	}
	return Media
}

// ReadAll slurps body to a string for the two-pass parsers below (a
// playlist is at most a few hundred KiB; no benefit to streaming it).
func ReadAll(body io.Reader) (string, error) {
	var b strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}
	return b.String(), scanner.Err()
}

// ParseMaster selects the highest-BANDWIDTH variant and returns its absolute
// URL (§4.F). base resolves a relative variant URI.
func ParseMaster(body string, base *url.URL) (string, error) {
	lines := strings.Split(body, "\n")

	bestBandwidth := -1
	bestURI := ""

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			continue
		}
		bw := extractBandwidth(line)

		uri := nextNonBlank(lines, i+1)
		if uri == "" {
			continue
		}
		if bw > bestBandwidth {
			bestBandwidth = bw
			bestURI = uri
		}
	}

	if bestURI == "" {
		return "", errNoVariants
	}
	return resolve(base, bestURI), nil
}

// extractBandwidth pulls the integer value of BANDWIDTH=, up to an optional
// trailing comma (§4.F). Using strings.Cut on the literal tag name sidesteps
// the classic off-by-one bug of hand-indexing past "BANDWIDTH=" (9 vs 10
// characters) — see DESIGN.md.
func extractBandwidth(attrLine string) int {
	_, rest, ok := strings.Cut(attrLine, "BANDWIDTH=")
	if !ok {
		return 0
	}
	if comma := strings.IndexByte(rest, ','); comma >= 0 {
		rest = rest[:comma]
	}
	rest = strings.TrimSpace(rest)
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0
	}
	return n
}

func nextNonBlank(lines []string, from int) string {
	for i := from; i < len(lines); i++ {
		l := strings.TrimSpace(lines[i])
		if l == "" {
			continue
		}
		return l
	}
	return ""
}

// ParseMedia reads EXTINF/segment pairs into a Playlist (§4.F). base
// resolves relative segment paths; segments already absolute are used as-is.
func ParseMedia(body string, base *url.URL) *Playlist {
	lines := strings.Split(body, "\n")
	pl := &Playlist{BaseURL: base}

	index := 0
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "#EXTINF:") {
			continue
		}
		duration := parseExtinfDuration(line)

		segLine := nextSegmentLine(lines, i+1)
		if segLine == "" {
			continue
		}

		index++
		fullURL := resolve(base, segLine)
		pl.Segments = append(pl.Segments, Segment{
			Index:    index,
			URL:      fullURL,
			Filename: segmentFilename(index, fullURL),
			Duration: duration,
		})
		pl.TotalDuration += duration
	}
	return pl
}

// parseExtinfDuration parses "#EXTINF:<duration>[,<title>]" (§4.F), falling
// back to 10.0 when the duration is missing or unparseable.
func parseExtinfDuration(line string) float64 {
	rest := strings.TrimPrefix(line, "#EXTINF:")
	if comma := strings.IndexByte(rest, ','); comma >= 0 {
		rest = rest[:comma]
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
	if err != nil || d <= 0 {
		return fallbackDuration
	}
	return d
}

// nextSegmentLine returns the next non-blank, non-comment line following an
// EXTINF tag (§4.F: "the next line whose trailing token is a non-comment
// .ts path is the segment").
func nextSegmentLine(lines []string, from int) string {
	for i := from; i < len(lines); i++ {
		l := strings.TrimSpace(lines[i])
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		return l
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if refURL.IsAbs() {
		return ref
	}
	if base == nil {
		return ref
	}
	return base.ResolveReference(refURL).String()
}

// segmentFilename assigns a 1-based index filename with the segment's own
// extension, e.g. "00001.ts" (teacher's convention).
func segmentFilename(index int, fullURL string) string {
	ext := ".ts"
	if u, err := url.Parse(fullURL); err == nil {
		if e := filepath.Ext(u.Path); e != "" {
			ext = e
		}
	}
	return zeroPad(index) + ext
}

func zeroPad(n int) string {
	s := strconv.Itoa(n)
	for len(s) < 5 {
		s = "0" + s
	}
	return s
}
