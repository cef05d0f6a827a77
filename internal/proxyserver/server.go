// Package proxyserver implements the Proxy Server Loop (§4.H): a raw TCP
// listener that accepts connections and dispatches each to the Progressive
// Proxy Handler (§4.E) on its own goroutine.
//
// Grounded on the teacher's internal/proxy/server.go for the overall
// start/stop lifecycle shape, generalized from net/http's ListenAndServe to
// a bare net.Listener accept loop since the spec's wire format (§4.C) is
// hand-framed rather than net/http.
package proxyserver

import (
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"videocache/internal/xlog"
)

const defaultPort = 8080

// Handler serves one accepted connection to completion.
type Handler interface {
	Handle(conn net.Conn)
}

// Server binds 127.0.0.1:<port> (8080 if free, else any ephemeral port) and
// dispatches every accepted connection to Handler on an unbounded worker
// goroutine per connection (§4.H, §5).
type Server struct {
	handler  Handler
	log      zerolog.Logger
	mu       sync.Mutex
	listener net.Listener
	running  bool
	wg       sync.WaitGroup
}

// New builds a Server around handler.
func New(handler Handler) *Server {
	return &Server{handler: handler, log: xlog.Component("proxyserver")}
}

// Start binds the listener and begins accepting in a background goroutine.
// Returns the bound address once listening.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(defaultPort))
	if err != nil {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return "", err
		}
		s.log.Warn().Msg("default port unavailable, bound an ephemeral port instead")
	}

	s.mu.Lock()
	s.listener = ln
	s.running = true
	s.mu.Unlock()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("proxy server listening")
	go s.acceptLoop(ln)
	return ln.Addr().String(), nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if !running {
				return // Stop() closed the listener; accept errors are expected
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handler.Handle(conn)
		}()
	}
}

// Stop flips running=false, closes the listener (unblocking Accept), and
// waits for in-flight connections to finish (§4.H).
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	ln := s.listener
	s.mu.Unlock()

	err := ln.Close()
	s.wg.Wait()
	return err
}

// Addr returns the bound address, or "" if not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
