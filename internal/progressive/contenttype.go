package progressive

import "strings"

// contentTypeFromURL derives a preliminary content type from the URL's
// extension (§4.E fetch path step 1).
func contentTypeFromURL(rawURL string) string {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.HasSuffix(lower, ".webm"):
		return "video/webm"
	case strings.HasSuffix(lower, ".mp4"):
		return "video/mp4"
	default:
		return "video/mp4"
	}
}

// refineContentType lets the origin's Content-Type win when it clearly names
// webm or mp4 (§4.E "Refine content type using origin's Content-Type
// (substrings webm/mp4 win)").
func refineContentType(preliminary, originContentType string) string {
	lower := strings.ToLower(originContentType)
	switch {
	case strings.Contains(lower, "webm"):
		return "video/webm"
	case strings.Contains(lower, "mp4"):
		return "video/mp4"
	default:
		return preliminary
	}
}

func isWebM(contentType string) bool {
	return contentType == "video/webm"
}
