package httpframe

import "net/url"

// OriginalURL percent-decodes an encoded path and restores the "https://"
// scheme if one was stripped, exactly as ReadRequest's target parsing does
// (§4.C, §4.I "the handler prepends https:// on parse when scheme was
// stripped"). Exposed separately so the Manager Facade's get_proxy_url /
// get_original_url round-trip (§8) doesn't need a live request to exercise.
func OriginalURL(encodedPath string) string {
	return parseTarget(encodedPath)
}

// ProxyPath builds the path segment of a proxy URL for rawURL: the URL with
// its scheme stripped (if it was the default "https://") and percent-encoded
// (§4.I get_proxy_url).
func ProxyPath(rawURL string) string {
	stripped := rawURL
	const httpsPrefix = "https://"
	if len(rawURL) >= len(httpsPrefix) && rawURL[:len(httpsPrefix)] == httpsPrefix {
		stripped = rawURL[len(httpsPrefix):]
	}
	return url.QueryEscape(stripped)
}
