// Package videocache implements the Manager Facade (§4.I): the single
// entry point embedding applications use, wiring together the Cache
// Registry, Origin Client, Progressive Proxy Handler, Proxy Server Loop,
// and HLS Prefetcher, and fanning out their callbacks to per-URL listeners.
//
// Grounded on the teacher's cmd/server/main.go and internal/proxy/server.go
// for the overall construction order (config -> db/store -> registry ->
// handler -> server), generalized from the teacher's HTTP-mux wiring to the
// spec's raw-socket proxy plus a separate chi-routed debug/admin API (§4.M).
package videocache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"videocache/internal/cachekey"
	"videocache/internal/hlsprefetch"
	"videocache/internal/httpframe"
	"videocache/internal/originclient"
	"videocache/internal/progressive"
	"videocache/internal/proxyserver"
	"videocache/internal/registry"
	"videocache/internal/vconfig"
	"videocache/internal/xlog"
)

// Manager is the facade applications hold (§4.I). It is safe for concurrent
// use.
type Manager struct {
	cfg vconfig.Config
	log zerolog.Logger

	registry *registry.Registry
	origin   *originclient.Client
	handler  *progressive.Handler
	proxy    *proxyserver.Server
	hlsStore *hlsprefetch.Store
	admin    *adminServer

	listenersMu sync.RWMutex
	listeners   map[string]progressive.Listener

	hlsMu    sync.RWMutex
	hlsTasks map[string]*hlsprefetch.Task

	progressHub *progressHub
}

// New constructs a Manager from cfg but doesn't bind any sockets yet; call
// Start for that.
func New(cfg vconfig.Config) (*Manager, error) {
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = defaultCacheDir()
	}
	videoCacheDir := filepath.Join(cacheDir, "video-cache")

	reg, err := registry.New(videoCacheDir)
	if err != nil {
		return nil, err
	}

	var trust originclient.TrustPolicy = originclient.PlatformTrust()
	if cfg.TLSTrustAllInsecure {
		trust = originclient.TrustAllInsecure()
	}
	origin := originclient.New(cfg.Headers, trust)
	if len(cfg.TLSVersions) > 0 {
		origin.TLSVersions = cfg.TLSVersions
	}

	hlsStore, err := hlsprefetch.OpenStore(videoCacheDir)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:         cfg,
		log:         xlog.Component("videocache"),
		registry:    reg,
		origin:      origin,
		hlsStore:    hlsStore,
		listeners:   map[string]progressive.Listener{},
		hlsTasks:    map[string]*hlsprefetch.Task{},
		progressHub: newProgressHub(),
	}
	m.handler = progressive.NewHandler(reg, origin, m)
	m.proxy = proxyserver.New(m.handler)
	m.admin = newAdminServer(m)
	return m, nil
}

// Start binds the progressive proxy and the debug/admin API, returning the
// proxy's bound address.
func (m *Manager) Start() (string, error) {
	addr, err := m.proxy.Start()
	if err != nil {
		return "", err
	}
	if err := m.admin.start(m.cfg.AdminPort); err != nil {
		m.log.Warn().Err(err).Msg("debug/admin API failed to start; proxy continues without it")
	}
	return addr, nil
}

// GetProxyURL returns the local URL a player should request instead of
// rawURL (§4.I): http://127.0.0.1:<port>/<percent-encoded url>, with an
// "https://" scheme stripped and any other scheme kept.
func (m *Manager) GetProxyURL(rawURL string) string {
	return fmt.Sprintf("http://%s/%s", m.proxy.Addr(), httpframe.ProxyPath(rawURL))
}

// RegisterCacheListener stores a URL-keyed listener for progressive-proxy
// callbacks (§4.I).
func (m *Manager) RegisterCacheListener(listener progressive.Listener, url string) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners[url] = listener
}

// --- progressive.Listener fan-out (§4.I "the proxy's single callback
// fan-outs by URL to the registered listener, if any") ---

func (m *Manager) OnCacheProgress(url string, percent, speedBps float64) {
	if l := m.lookupListener(url); l != nil {
		l.OnCacheProgress(url, percent, speedBps)
	}
}

func (m *Manager) OnCacheAvailable(url string) {
	if l := m.lookupListener(url); l != nil {
		l.OnCacheAvailable(url)
	}
}

func (m *Manager) OnCacheError(url string, err error) {
	if l := m.lookupListener(url); l != nil {
		l.OnCacheError(url, err)
	}
}

func (m *Manager) lookupListener(url string) progressive.Listener {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	return m.listeners[url]
}

// CacheHLS bootstraps prefetching for an HLS URL (§4.G cache(url)) and
// registers the resulting Task so it can be looked up by ID for the debug
// API and ensure_segments_cached/set_current_playing_segment calls.
func (m *Manager) CacheHLS(ctx context.Context, rawURL string, listener hlsprefetch.Listener) (*hlsprefetch.Task, error) {
	cacheDir := m.cfg.CacheDir
	if cacheDir == "" {
		cacheDir = defaultCacheDir()
	}

	hub := m.progressHub
	fan := hlsListenerFunc{
		onProgress: func(url string, completed, total int) {
			if listener != nil {
				listener.OnProgress(url, completed, total)
			}
			hub.broadcast(progressEvent{URL: url, Completed: completed, Total: total})
		},
		onReady: func(path string) {
			if listener != nil {
				listener.OnReadyForPlayback(path)
			}
		},
		onError: func(url string, err error) {
			if listener != nil {
				listener.OnError(url, err)
			}
		},
		onComplete: func(url string, success bool) {
			if listener != nil {
				listener.OnComplete(url, success)
			}
		},
	}

	task := hlsprefetch.New(cacheDir, rawURL, m.cfg, m.origin, m.hlsStore, fan)
	m.hlsMu.Lock()
	m.hlsTasks[cachekey.Digest(rawURL)] = task
	m.hlsMu.Unlock()

	if err := task.Cache(ctx); err != nil {
		return nil, err
	}
	return task, nil
}

// GetHLSTask looks up a previously-cached HLS task by its ID (the md5
// digest of its original URL, per §4.B's cache-key convention).
func (m *Manager) GetHLSTask(taskID string) (*hlsprefetch.Task, bool) {
	m.hlsMu.RLock()
	defer m.hlsMu.RUnlock()
	t, ok := m.hlsTasks[taskID]
	return t, ok
}

// Release tears the Manager down: stops the proxy and admin API, cancels
// every HLS task, closes the registry and the HLS store (§4.B, §4.I).
func (m *Manager) Release() {
	_ = m.proxy.Stop()
	m.admin.stop()

	m.hlsMu.RLock()
	tasks := make([]*hlsprefetch.Task, 0, len(m.hlsTasks))
	for _, t := range m.hlsTasks {
		tasks = append(tasks, t)
	}
	m.hlsMu.RUnlock()
	for _, t := range tasks {
		t.Cancel()
	}

	m.registry.Release()
	if err := m.hlsStore.Close(); err != nil {
		m.log.Warn().Err(err).Msg("failed to close hls store")
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "video-cache")
	}
	return "video-cache"
}

// hlsListenerFunc adapts plain closures to hlsprefetch.Listener.
type hlsListenerFunc struct {
	onProgress func(url string, completed, total int)
	onReady    func(path string)
	onError    func(url string, err error)
	onComplete func(url string, success bool)
}

func (f hlsListenerFunc) OnProgress(url string, completed, total int) { f.onProgress(url, completed, total) }
func (f hlsListenerFunc) OnReadyForPlayback(path string)              { f.onReady(path) }
func (f hlsListenerFunc) OnError(url string, err error)               { f.onError(url, err) }
func (f hlsListenerFunc) OnComplete(url string, success bool)         { f.onComplete(url, success) }
