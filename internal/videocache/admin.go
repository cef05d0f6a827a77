package videocache

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"videocache/internal/xlog"
)

// adminServer is the debug/admin API (§4.M): a second, loopback-only HTTP
// surface distinct from the raw-socket media proxy, exposing health,
// metrics, per-task HLS status, and a websocket progress feed. Grounded on
// SomeoneIsWorking-wails-cast's chi+gorilla/websocket wiring for the router
// shape and upgrade handshake.
type adminServer struct {
	mgr *Manager
	log zerolog.Logger

	mu     sync.Mutex
	server *http.Server
}

func newAdminServer(mgr *Manager) *adminServer {
	return &adminServer{mgr: mgr, log: xlog.Component("admin")}
}

func (a *adminServer) start(port int) error {
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Get("/healthz", a.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/hls/{taskID}", a.handleHLSStatus)
	r.Get("/api/ws/progress", a.handleProgressWS)

	srv := &http.Server{Handler: r}
	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()

	a.log.Info().Str("addr", ln.Addr().String()).Msg("debug/admin API listening")
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.log.Warn().Err(err).Msg("admin server stopped")
		}
	}()
	return nil
}

func (a *adminServer) stop() {
	a.mu.Lock()
	srv := a.server
	a.mu.Unlock()
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func (a *adminServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (a *adminServer) handleHLSStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, ok := a.mgr.GetHLSTask(taskID)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"task_id":   taskID,
		"completed": task.IsCompleted(),
		"canceled":  task.Canceled(),
	})
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (a *adminServer) handleProgressWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := a.mgr.progressHub.subscribe()
	defer a.mgr.progressHub.unsubscribe(sub)

	for ev := range sub {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}
