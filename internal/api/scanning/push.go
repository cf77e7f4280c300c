package scanning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ahrav/scanq/internal/api/errs"
	"github.com/ahrav/scanq/internal/infra/eventbus/memory"
	"github.com/ahrav/scanq/pkg/common/logger"
	"github.com/ahrav/scanq/pkg/web"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second
	// Pings are sent with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Clients only send control frames.
	maxMessageSize = 512
	// Events buffered per connection before the broadcaster starts dropping.
	sendBuffer = 256
)

// pushHandler streams job events to websocket clients. Each connection owns a
// broadcaster subscription, so a client that cannot keep up loses events
// without slowing the scheduler or other clients.
type pushHandler struct {
	log         *logger.Logger
	broadcaster *memory.Broadcaster
	metrics     Metrics
	upgrader    websocket.Upgrader
}

func newPushHandler(cfg Config) *pushHandler {
	h := &pushHandler{
		log:         cfg.Log.With("component", "push_channel"),
		broadcaster: cfg.Broadcaster,
		metrics:     cfg.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	if len(cfg.Origins) > 0 {
		origins := cfg.Origins
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin) {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && u.Host == r.Host
		}
	}
	return h
}

// ServeHTTP upgrades the connection and streams events until the client goes
// away or the broadcaster closes. An optional job_id query parameter limits
// the stream to one job.
func (h *pushHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filter memory.Filter
	if raw := r.URL.Query().Get("job_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			_ = web.Respond(r.Context(), w, errs.Newf(errs.InvalidArgument, "invalid job_id %q", raw))
			return
		}
		filter = memory.ForKey(id.String())
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		h.log.Warn(r.Context(), "Push channel upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := h.broadcaster.Subscribe(ctx, sendBuffer, filter)
	if err != nil {
		h.log.Warn(ctx, "Push channel subscribe failed", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		return
	}
	defer sub.Close()

	h.metrics.AddPushClients(ctx, 1)
	h.log.Debug(ctx, "Push client connected", "remote_addr", r.RemoteAddr)
	defer func() {
		h.metrics.AddPushClients(context.WithoutCancel(ctx), -1)
		if dropped := sub.Dropped(); dropped > 0 {
			h.metrics.AddPushEventsDropped(context.WithoutCancel(ctx), int64(dropped))
			h.log.Info(ctx, "Push client lagged behind", "remote_addr", r.RemoteAddr, "dropped", dropped)
		}
	}()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		h.readPump(ctx, conn)
	}()

	h.writePump(ctx, conn, sub)

	// Unblock the reader and wait for it.
	_ = conn.Close()
	<-readDone
}

// readPump discards client frames and keeps the read deadline fresh on pongs.
// It returns when the connection errors or closes.
func (h *pushHandler) readPump(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug(ctx, "Push client read error", "error", err)
			}
			return
		}
	}
}

// writePump forwards subscription events as JSON text frames and pings the
// client periodically.
func (h *pushHandler) writePump(ctx context.Context, conn *websocket.Conn, sub *memory.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case env, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}

			frame, err := json.Marshal(env.Payload)
			if err != nil {
				h.log.Error(ctx, "Failed to encode push frame", "event_type", env.Type, "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
