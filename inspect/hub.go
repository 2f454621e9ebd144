// Package inspect streams proxy events to websocket clients so the traffic
// between host and monitor can be watched live.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mklimuk/ddcproxy/proxy"
)

const (
	DefaultBacklog = 64
	queueSize      = 256
	clientBuffer   = 64
)

var _ proxy.Observer = &Hub{}

type Opts struct {
	Logger  *slog.Logger
	Backlog int
}

type Opt func(*Opts)

func WithLogger(logger *slog.Logger) Opt {
	return func(o *Opts) {
		o.Logger = logger
	}
}

// WithBacklog sets how many recent events a new client receives on connect.
func WithBacklog(n int) Opt {
	return func(o *Opts) {
		o.Backlog = n
	}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans proxy events out to websocket clients. Observe never blocks: the
// event is queued and dropped when the queue is full.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader
	queue    chan proxy.Event

	mu      sync.RWMutex
	clients map[*client]struct{}
	backlog [][]byte
	size    int
	dropped int
}

func NewHub(opts ...Opt) *Hub {
	o := Opts{Logger: slog.Default(), Backlog: DefaultBacklog}
	for _, opt := range opts {
		opt(&o)
	}
	return &Hub{
		log: o.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		queue:   make(chan proxy.Event, queueSize),
		clients: make(map[*client]struct{}),
		size:    o.Backlog,
	}
}

func (h *Hub) Observe(ev proxy.Event) {
	select {
	case h.queue <- ev:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
	}
}

// Dropped is the number of events lost because the queue was full.
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Pump broadcasts queued events until ctx is cancelled.
func (h *Hub) Pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.queue:
			h.Publish(ev)
		}
	}
}

// Publish marshals v and sends it to every client. Slow clients miss the
// message.
func (h *Hub) Publish(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Warn("could not marshal event", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size > 0 {
		h.backlog = append(h.backlog, data)
		if len(h.backlog) > h.size {
			h.backlog = h.backlog[len(h.backlog)-h.size:]
		}
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// ServeHTTP upgrades the connection and registers the client. The backlog is
// replayed before live events.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer+h.size)}

	h.mu.Lock()
	for _, data := range h.backlog {
		c.send <- data
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("inspector client connected", "remote", r.RemoteAddr, "clients", n)

	go func() {
		defer conn.Close()
		for msg := range c.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, c)
			close(c.send)
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info("inspector client disconnected", "remote", r.RemoteAddr, "clients", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Serve runs the inspector on addr until ctx is cancelled. Events are
// available on /ws.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go h.Pump(ctx)
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	h.log.Info("inspector listening", "addr", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
