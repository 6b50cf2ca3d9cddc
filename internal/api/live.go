package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pokeproto/pokeproto/internal/events"
	"github.com/pokeproto/pokeproto/internal/util"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
	liveSendBuffer = 64
	liveHubName    = "live-hub"
)

var liveEvents = append([]events.EventType{
	events.EventPeerJoined,
	events.EventSpectatorJoined,
	events.EventSpectatorLeft,
}, events.BattleEvents...)

// LiveHub fans bus events out to websocket viewers as JSON.
type LiveHub struct {
	bus    *events.EventBus
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[*liveClient]struct{}
	running bool
}

type liveClient struct {
	conn *websocket.Conn
	send chan []byte
	// writeMu serializes writes with their deadline.
	writeMu sync.Mutex
}

// NewLiveHub creates a hub. Nothing is forwarded until Start.
func NewLiveHub(bus *events.EventBus) *LiveHub {
	return &LiveHub{
		bus:     bus,
		logger:  util.ComponentLogger("live"),
		clients: make(map[*liveClient]struct{}),
	}
}

// Start subscribes the hub to the bus.
func (h *LiveHub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.bus.SubscribeAll(liveEvents, liveHubName, h.broadcast)
}

// Stop unsubscribes and disconnects every viewer.
func (h *LiveHub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	h.bus.UnsubscribeAll(liveEvents, liveHubName)
	for cl := range h.clients {
		delete(h.clients, cl)
		close(cl.send)
	}
}

// Count returns the number of connected viewers.
func (h *LiveHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *LiveHub) add(cl *liveClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return false
	}
	h.clients[cl] = struct{}{}
	return true
}

func (h *LiveHub) remove(cl *liveClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		close(cl.send)
	}
}

func (h *LiveHub) broadcast(ctx context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		select {
		case cl.send <- data:
		default:
			// Slow viewer.
			delete(h.clients, cl)
			close(cl.send)
			h.logger.Warn().Str("remote", cl.conn.RemoteAddr().String()).Msg("dropping slow live viewer")
		}
	}
	return nil
}

func (cl *liveClient) write(messageType int, data []byte) error {
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	if err := cl.conn.SetWriteDeadline(time.Now().Add(liveWriteWait)); err != nil {
		return err
	}
	return cl.conn.WriteMessage(messageType, data)
}

func (cl *liveClient) writePump() {
	ticker := time.NewTicker(livePingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			if !ok {
				cl.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := cl.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := cl.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards viewer input and notices disconnects.
func (h *LiveHub) readPump(cl *liveClient) {
	defer h.remove(cl)

	cl.conn.SetReadLimit(512)
	cl.conn.SetReadDeadline(time.Now().Add(livePongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) upgrader() websocket.Upgrader {
	origins := s.cfg.GetAPI().AllowedOrigins
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(origins) == 0 {
				return true
			}
			for _, o := range origins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
}

// handleLive upgrades to a websocket and streams battle events. The first
// frame is a status greeting.
func (s *Server) handleLive(c *gin.Context) {
	up := s.upgrader()
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("live upgrade failed")
		return
	}

	cl := &liveClient{conn: conn, send: make(chan []byte, liveSendBuffer)}

	hello, _ := json.Marshal(events.Event{
		Type:   "hello",
		Source: "api",
		Payload: gin.H{
			"role":       s.battle.Role(),
			"state":      s.battle.State(),
			"session_id": s.battle.SessionID(),
		},
	})
	cl.send <- hello

	if !s.live.add(cl) {
		cl.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "live feed stopped"))
		conn.Close()
		return
	}

	s.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("live viewer connected")
	go cl.writePump()
	s.live.readPump(cl)
}
