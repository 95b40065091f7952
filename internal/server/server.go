// Package server owns the service lifecycle. A Handle replaces the old
// process-global "already started" flag: it is injected where needed and
// Start is an idempotent no-op on repeat.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/example/chat-realtime/internal/presence"
	"github.com/example/chat-realtime/internal/registry"
	"github.com/example/chat-realtime/internal/router"
)

type Handle struct {
	srv      *http.Server
	router   *router.Router
	registry *registry.Registry
	store    presence.Store

	mu      sync.Mutex
	started bool
	stopped bool
}

func NewHandle(addr string, handler http.Handler, rt *router.Router, reg *registry.Registry, store presence.Store) *Handle {
	return &Handle{
		srv: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		router:   rt,
		registry: reg,
		store:    store,
	}
}

// Start subscribes the router to the cross-process channels and begins
// serving. Calling Start on a running handle is a no-op.
func (h *Handle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}
	if h.stopped {
		return errors.New("server handle already stopped")
	}

	if err := h.router.Start(); err != nil {
		return err
	}

	go func() {
		log.Printf("Server starting on %s", h.srv.Addr)
		if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	h.started = true
	return nil
}

// Stop drains HTTP, detaches the router from pub/sub and closes the
// presence store.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started || h.stopped {
		h.stopped = true
		return nil
	}
	h.stopped = true

	err := h.srv.Shutdown(ctx)
	h.router.Stop()
	if closeErr := h.store.Close(); err == nil {
		err = closeErr
	}
	return err
}

// ActiveConnectionCount reports the live websocket connections of this
// process.
func (h *Handle) ActiveConnectionCount() int {
	return h.registry.ActiveConnectionCount()
}

// Healthy reports whether the shared store is reachable.
func (h *Handle) Healthy(ctx context.Context) bool {
	return h.store.Healthy(ctx)
}
