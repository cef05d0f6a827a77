package hlsprefetch

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

const headValidateTimeout = 5 * time.Second

// findWorkingTSURL issues a HEAD against primaryURL, then against the same
// path under each fallback base URL, returning the first that answers 200 OK
// (§4.G find_working_ts_url). Returns "" if none do.
func findWorkingTSURL(ctx context.Context, headers map[string]string, primaryURL string, fallbackBases []string) string {
	if headOK(ctx, headers, primaryURL) {
		return primaryURL
	}
	for _, base := range fallbackBases {
		candidate := rebase(primaryURL, base)
		if candidate == "" {
			continue
		}
		if headOK(ctx, headers, candidate) {
			return candidate
		}
	}
	return ""
}

func headOK(ctx context.Context, headers map[string]string, rawURL string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, headValidateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: headValidateTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// rebase swaps primaryURL's scheme+host for fallbackBase's, keeping the
// path and query untouched.
func rebase(primaryURL, fallbackBase string) string {
	p, err := url.Parse(primaryURL)
	if err != nil {
		return ""
	}
	f, err := url.Parse(fallbackBase)
	if err != nil {
		return ""
	}
	p.Scheme = f.Scheme
	p.Host = f.Host
	return p.String()
}
