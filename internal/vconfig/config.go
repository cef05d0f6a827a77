// Package vconfig loads and hot-reloads the proxy's JSON configuration.
//
// The struct shape follows the teacher's internal/config/config.go (a flat
// JSON document with sane zero-value defaults). The hot-reload mechanism is
// grounded on ManuGH-xg2g's internal/config/reload.go: an fsnotify watch on
// the config file that atomically swaps a published snapshot, so readers
// never observe a half-written config and never block behind a reload.
package vconfig

import (
	"encoding/json"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"videocache/internal/xlog"
)

// Config holds all tunables for the proxy, prefetcher, and origin client.
type Config struct {
	// Headers sent on every upstream request (§4.D).
	Headers map[string]string `json:"headers"`

	// ProxyPort is not read by the proxy server: it always tries port 8080
	// first and falls back to any ephemeral port (§6).
	ProxyPort int `json:"proxy_port"`

	// AdminPort is the loopback port for the debug/admin API (§4.M). 0 means
	// pick an ephemeral port.
	AdminPort int `json:"admin_port"`

	// CacheDir is the root cache directory; "" means use the OS user cache
	// dir + "/video-cache" as get_cache_dir() does (§4.B).
	CacheDir string `json:"cache_dir"`

	// TLSVersions is the ordered fallback list for the origin client (§4.D).
	TLSVersions []string `json:"tls_versions"`

	// TLSTrustAllInsecure opts into the historical trust-all policy (§9).
	// Defaults to false; platform trust is used unless this is set.
	TLSTrustAllInsecure bool `json:"tls_trust_all_insecure"`

	MaxConsecutiveFailures int `json:"max_consecutive_failures"`
	MaxTotalFailures       int `json:"max_total_failures"`
	MinSegmentsForPlayback int `json:"min_segments_for_playback"`
	BufferSegmentsAhead    int `json:"buffer_segments_ahead"`
	MaxSegmentRetryCount   int `json:"max_segment_retry_count"`

	WorkerPoolCore int `json:"worker_pool_core"`
	WorkerPoolMax  int `json:"worker_pool_max"`

	// FallbackBaseURLs are tried, in order, by find_working_ts_url (§4.G)
	// when a segment isn't reachable at its primary URL.
	FallbackBaseURLs []string `json:"fallback_base_urls"`

	LogLevel string `json:"log_level"`
}

// Default returns the built-in defaults, matching spec.md's stated constants.
func Default() Config {
	return Config{
		Headers: map[string]string{
			"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		ProxyPort:              8080,
		AdminPort:              0,
		CacheDir:               "",
		TLSVersions:            []string{"1.3", "1.2", "1.1", "1.0"},
		TLSTrustAllInsecure:    false,
		MaxConsecutiveFailures: 3,
		MaxTotalFailures:       10,
		MinSegmentsForPlayback: 3,
		BufferSegmentsAhead:    8,
		MaxSegmentRetryCount:   3,
		WorkerPoolCore:         5,
		WorkerPoolMax:          8,
		FallbackBaseURLs:       nil,
		LogLevel:               "info",
	}
}

// Load reads path on top of Default(). A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Holder publishes a live, hot-reloadable Config snapshot.
type Holder struct {
	path     string
	snapshot atomic.Pointer[Config]
	watcher  *fsnotify.Watcher
}

// NewHolder loads path once and starts watching it for changes. If the file
// or its parent directory doesn't exist yet, watching is skipped silently;
// the in-memory default/initial config remains authoritative.
func NewHolder(path string) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	h := &Holder{path: path}
	h.snapshot.Store(&cfg)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return h, nil
	}
	if err := watcher.Add(pathDir(path)); err != nil {
		_ = watcher.Close()
		return h, nil
	}
	h.watcher = watcher
	go h.watchLoop()
	return h, nil
}

func (h *Holder) watchLoop() {
	log := xlog.Component("vconfig")
	for {
		select {
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != h.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(h.path)
			if err != nil {
				log.Warn().Err(err).Msg("config reload failed, keeping previous snapshot")
				continue
			}
			h.snapshot.Store(&cfg)
			log.Info().Msg("config reloaded")
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

// Get returns the current live snapshot. Cheap; safe for per-operation use.
func (h *Holder) Get() Config {
	return *h.snapshot.Load()
}

// Close stops the underlying file watcher, if any.
func (h *Holder) Close() error {
	if h.watcher == nil {
		return nil
	}
	return h.watcher.Close()
}

func pathDir(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return "."
}
