package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coalmine/coalmine/internal/bus"
	"github.com/coalmine/coalmine/internal/model"
	"github.com/coalmine/coalmine/internal/store"
)

const (
	// writeTimeout is the deadline for a single write to an agent.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxResultSize bounds a single result submission from an agent.
	maxResultSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Agents authenticate via the API-key middleware; origin checks do not
	// apply to non-browser clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway serves the /ws/agent endpoint.
type Gateway struct {
	store   *store.Store
	broker  *bus.Broker
	results *bus.Queue
}

// New creates a Gateway forwarding agent submissions to the result queue.
func New(st *store.Store, broker *bus.Broker, results *bus.Queue) *Gateway {
	return &Gateway{store: st, broker: broker, results: results}
}

// ServeHTTP upgrades the connection for the client named in the query string
// and pumps its delivery channel until either side drops. The client must be
// registered and active with a live channel; agents racing a deregistration
// are turned away and expected to re-register.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("client")
	if name == "" {
		http.Error(w, "client query parameter is required", http.StatusBadRequest)
		return
	}

	rec, ok := g.store.GetClient(name)
	if !ok || !rec.Active || rec.CommandChannel == "" {
		http.Error(w, "client not registered", http.StatusNotFound)
		return
	}
	queue, ok := g.broker.Queue(rec.CommandChannel)
	if !ok {
		http.Error(w, "client channel not provisioned", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	slog.Info("gateway: agent connected", "client", name)

	ctx, cancel := context.WithCancel(r.Context())
	go g.writePump(ctx, cancel, conn, name, queue)
	g.readPump(conn, name) // blocks until the connection closes
	cancel()

	slog.Info("gateway: agent disconnected", "client", name)
}

// writePump forwards deliveries from the client's private channel to the
// socket, acking each only after a successful write. A delivery that cannot
// be written is nacked so it survives the disconnect.
func (g *Gateway) writePump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, name string, queue *bus.Queue) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
	}()

	deliveries := make(chan *bus.Delivery)
	go func() {
		defer close(deliveries)
		for {
			d, err := queue.Receive(ctx)
			if err != nil {
				return
			}
			select {
			case deliveries <- d:
			case <-ctx.Done():
				d.Nack()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case d, ok := <-deliveries:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, d.Body); err != nil {
				d.Nack()
				slog.Warn("gateway: write failed — command requeued", "client", name, "err", err)
				return
			}
			d.Ack()

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump accepts result submissions from the agent and forwards them to
// the result work queue. Malformed frames are logged and skipped; the
// connection stays up. Blocks until the connection closes.
func (g *Gateway) readPump(conn *websocket.Conn, name string) {
	defer conn.Close()
	conn.SetReadLimit(maxResultSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg model.ResultMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("gateway: dropping malformed result frame", "client", name, "err", err)
			continue
		}
		if msg.Source == "" {
			msg.Source = name
			data, _ = json.Marshal(msg)
		}
		if err := g.results.Send(data); err != nil {
			slog.Error("gateway: result enqueue failed", "client", name, "err", err)
		}
	}
}
