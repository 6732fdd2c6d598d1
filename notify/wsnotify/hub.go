// Package wsnotify delivers toolscope events to browser clients over WebSocket.
//
// A Hub is shared by all requests of a process. Clients connect to ServeHTTP with a user_id
// query parameter; Emit sends each event as a JSON text frame to every connection of the
// event's user.
package wsnotify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/skosovsky/toolscope"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrNoSubscribers is returned by Emit when the event's user has no open connection.
	ErrNoSubscribers = errors.New("no websocket subscribers for user")
	// ErrClosed is returned by Emit after Close.
	ErrClosed = errors.New("websocket hub closed")
)

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithWriteTimeout bounds every frame write (default 5s).
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.writeTimeout = d
	}
}

// WithCheckOrigin replaces the upgrader origin check. The default allows every origin.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// safeConn serializes writes; gorilla connections support one concurrent writer.
type safeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *safeConn) writeJSON(data []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timeout > 0 {
		_ = c.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks WebSocket connections per user id and implements toolscope.Emitter.
type Hub struct {
	upgrader     websocket.Upgrader
	logger       *slog.Logger
	writeTimeout time.Duration

	mu     sync.RWMutex
	conns  map[string]map[*safeConn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewHub creates an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		writeTimeout: 5 * time.Second,
		conns:        make(map[string]map[*safeConn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// ServeHTTP upgrades the request and subscribes the connection to events of the user_id query
// parameter. It returns when the client disconnects or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	conn := &safeConn{Conn: raw}
	if !h.add(userID, conn) {
		_ = raw.Close()
		return
	}
	defer h.remove(userID, conn)
	h.logger.Debug("websocket subscriber connected", "user_id", userID, "remote", r.RemoteAddr)

	// Inbound frames are ignored; reading keeps control frames flowing and detects disconnects.
	for {
		if _, _, err := raw.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) add(userID string, c *safeConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.conns[userID]
	if !ok {
		set = make(map[*safeConn]struct{})
		h.conns[userID] = set
	}
	set[c] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Hub) remove(userID string, c *safeConn) {
	h.mu.Lock()
	if set, ok := h.conns[userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}
	h.mu.Unlock()
	_ = c.Close()
	h.wg.Done()
	h.logger.Debug("websocket subscriber disconnected", "user_id", userID)
}

// Subscribers returns the number of open connections for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Emit sends ev to every connection of ev.UserID. It succeeds if at least one write succeeds.
func (h *Hub) Emit(ctx context.Context, ev toolscope.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*safeConn, 0, len(h.conns[ev.UserID]))
	for c := range h.conns[ev.UserID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return fmt.Errorf("%w %q", ErrNoSubscribers, ev.UserID)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	var errs []error
	for _, c := range targets {
		if err := c.writeJSON(data, h.writeTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(targets) {
		return fmt.Errorf("write event %s: %w", ev.Type, errors.Join(errs...))
	}
	if len(errs) > 0 {
		h.logger.Warn("event not delivered to every subscriber", "user_id", ev.UserID, "failed", len(errs))
	}
	return nil
}

// Close sends a close frame to every connection and waits for their handlers to return or ctx
// to be done. Later Emit calls return ErrClosed.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	var all []*safeConn
	for _, set := range h.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range all {
		c.mu.Lock()
		_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.mu.Unlock()
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ toolscope.Emitter = (*Hub)(nil)
