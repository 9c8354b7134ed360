// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package http provides a restartable HTTP server with a request
// multiplexer which allows handlers to be unregistered.
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	logger "github.com/gpuheap/gpuheap/pkg/log"
)

const (
	// shutdownTimeout bounds how long Stop waits for active requests.
	shutdownTimeout = 5 * time.Second
)

var (
	log = logger.Get("http")
)

// ServeMux is an HTTP request multiplexer with unregistrable handlers.
type ServeMux struct {
	sync.RWMutex
	handlers map[string]http.Handler
	mux      *http.ServeMux
}

// NewServeMux creates a new, empty ServeMux.
func NewServeMux() *ServeMux {
	return &ServeMux{
		handlers: make(map[string]http.Handler),
		mux:      http.NewServeMux(),
	}
}

// Handle registers the handler for the given pattern, replacing any
// previously registered one.
func (mux *ServeMux) Handle(pattern string, handler http.Handler) {
	mux.Lock()
	defer mux.Unlock()

	mux.handlers[pattern] = handler
	mux.rebuild()
	log.Debug("registered handler for %s", pattern)
}

// HandleFunc registers the handler function for the given pattern.
func (mux *ServeMux) HandleFunc(pattern string, fn func(http.ResponseWriter, *http.Request)) {
	mux.Handle(pattern, http.HandlerFunc(fn))
}

// Unregister removes the handler for the given pattern.
func (mux *ServeMux) Unregister(pattern string) http.Handler {
	mux.Lock()
	defer mux.Unlock()

	h, ok := mux.handlers[pattern]
	if !ok {
		return nil
	}

	delete(mux.handlers, pattern)
	mux.rebuild()
	log.Debug("unregistered handler for %s", pattern)

	return h
}

// ServeHTTP implements http.Handler.
func (mux *ServeMux) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	mux.RLock()
	m := mux.mux
	mux.RUnlock()
	m.ServeHTTP(w, req)
}

// rebuild recreates the underlying multiplexer, which cannot unregister.
func (mux *ServeMux) rebuild() {
	m := http.NewServeMux()
	for pattern, handler := range mux.handlers {
		m.Handle(pattern, handler)
	}
	mux.mux = m
}

// Server is an HTTP server which can be stopped and restarted with a
// different address, keeping its registered handlers.
type Server struct {
	sync.Mutex
	server   *http.Server
	listener net.Listener
	mux      *ServeMux
	done     chan struct{}
}

// NewServer creates a new, stopped Server.
func NewServer() *Server {
	return &Server{
		mux: NewServeMux(),
	}
}

// GetMux returns the request multiplexer of the server.
func (s *Server) GetMux() *ServeMux {
	return s.mux
}

// GetAddress returns the address the server is listening on, or an
// empty string if it is not running.
func (s *Server) GetAddress() string {
	s.Lock()
	defer s.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start starts serving on the given address. An empty address leaves
// the server stopped.
func (s *Server) Start(address string) error {
	s.Lock()
	defer s.Unlock()

	return s.start(address)
}

// Stop stops the server.
func (s *Server) Stop() {
	s.Lock()
	defer s.Unlock()

	s.stop()
}

// Reconfigure restarts the server if the address has changed.
func (s *Server) Reconfigure(address string) error {
	s.Lock()
	defer s.Unlock()

	if s.listener != nil && sameAddress(s.listener.Addr().String(), address) {
		return nil
	}

	s.stop()
	return s.start(address)
}

func (s *Server) start(address string) error {
	if s.server != nil {
		return fmt.Errorf("http: server already running on %s", s.listener.Addr())
	}

	if address == "" {
		log.Info("HTTP server disabled")
		return nil
	}

	l, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("http: failed to listen on %s: %w", address, err)
	}

	s.listener = l
	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.done = make(chan struct{})

	log.Info("HTTP server listening on %s", l.Addr())

	go func(srv *http.Server, l net.Listener, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed: %v", err)
		}
	}(s.server, l, s.done)

	return nil
}

func (s *Server) stop() {
	if s.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		log.Warn("HTTP server shutdown failed: %v", err)
		s.server.Close()
	}
	<-s.done

	log.Info("HTTP server on %s stopped", s.listener.Addr())

	s.server = nil
	s.listener = nil
	s.done = nil
}

// sameAddress checks if a listener address matches a configured one. A
// configured port 0 matches any port.
func sameAddress(actual, configured string) bool {
	if actual == configured {
		return true
	}

	ah, ap, err := net.SplitHostPort(actual)
	if err != nil {
		return false
	}
	ch, cp, err := net.SplitHostPort(configured)
	if err != nil {
		return false
	}

	if cp != "0" && cp != ap {
		return false
	}

	unspecified := func(h string) bool {
		return h == "" || h == "::" || strings.HasPrefix(h, "0.0.0.0")
	}
	return ch == ah || (unspecified(ch) && unspecified(ah))
}
