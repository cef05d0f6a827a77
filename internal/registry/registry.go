// Package registry implements the process-wide Cache Registry (§4.B): a
// single, lazily-populated URL→FileCache mapping, plus the cache directory
// convention the rest of the system stores files under.
//
// Grounded on ManuGH-xg2g's internal/control/recordings/resolver.go, which
// guards a resolve-once code path with golang.org/x/sync/singleflight so
// concurrent first callers collapse into a single construction instead of a
// coarse mutex held across file I/O. The registry applies the same idiom to
// "open or create the FileCache for this URL".
package registry

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"videocache/internal/cachekey"
	"videocache/internal/filecache"
	"videocache/internal/xlog"
	"videocache/internal/xmetrics"
)

// Registry is the process-wide singleton described in §4.B. A Registry value
// is itself safe for concurrent use and is not a global: callers hold a
// handle on the one instance the Manager Facade constructs at startup (§9
// "avoid hidden globals").
type Registry struct {
	cacheDir string

	mu      sync.RWMutex
	entries map[string]*filecache.FileCache

	sf singleflight.Group
}

// New creates a Registry rooted at cacheDir (the directory get_cache_dir()
// would return). The directory is created if missing.
func New(cacheDir string) (*Registry, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create cache dir %s", cacheDir)
	}
	return &Registry{
		cacheDir: cacheDir,
		entries:  make(map[string]*filecache.FileCache),
	}, nil
}

// CacheDir returns the root cache directory, creating it if it has since
// been removed out from under the process.
func (r *Registry) CacheDir() (string, error) {
	if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create cache dir %s", r.cacheDir)
	}
	return r.cacheDir, nil
}

// GetFileCache returns the existing FileCache for url, or atomically
// constructs and registers a new one. At most one FileCache instance per URL
// is registered at any time (§3 invariant); Reset replaces it with a fresh
// one.
func (r *Registry) GetFileCache(url string) (*filecache.FileCache, error) {
	r.mu.RLock()
	if fc, ok := r.entries[url]; ok {
		r.mu.RUnlock()
		return fc, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.sf.Do(url, func() (interface{}, error) {
		r.mu.RLock()
		if fc, ok := r.entries[url]; ok {
			r.mu.RUnlock()
			return fc, nil
		}
		r.mu.RUnlock()

		path := filepath.Join(r.cacheDir, cachekey.Filename(url))
		fc, err := filecache.Open(url, path)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.entries[url] = fc
		r.mu.Unlock()
		xmetrics.CacheFilesTotal.Inc()
		return fc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*filecache.FileCache), nil
}

// Reset deletes and reopens the FileCache for url, used by the WebM
// consistency rule (§4.E: "if isWebM && cache.exists() && cache.length() !=
// content_length, delete the cache file before writing").
func (r *Registry) Reset(url string) (*filecache.FileCache, error) {
	r.mu.Lock()
	old, ok := r.entries[url]
	delete(r.entries, url)
	r.mu.Unlock()

	if ok {
		if err := old.Delete(); err != nil {
			xlog.Component("registry").Warn().Err(err).Str("url", url).Msg("failed to delete stale cache file")
		}
		xmetrics.CacheFilesTotal.Dec()
	}
	return r.GetFileCache(url)
}

// Release clears the mapping, closing every open FileCache. The caller is
// responsible for stopping the proxy server around this call (§4.B).
func (r *Registry) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for url, fc := range r.entries {
		if err := fc.Close(); err != nil {
			xlog.Component("registry").Warn().Err(err).Str("url", url).Msg("failed to close cache file")
		}
	}
	xmetrics.CacheFilesTotal.Set(0)
	r.entries = make(map[string]*filecache.FileCache)
}
