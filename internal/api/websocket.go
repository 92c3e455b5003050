package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arnventures/InosentAnlageAufbauTool/internal/enroll"
	"github.com/arnventures/InosentAnlageAufbauTool/internal/infrastructure/logging"
)

// Broadcast channels.
const (
	// ChannelProgress carries every enroll.ProgressEvent.
	ChannelProgress = "enrollment.progress"

	// ChannelRun carries an enroll.RunStatus when a run starts or ends.
	ChannelRun = "enrollment.run"
)

// Message types on the socket.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// outboxSize bounds the frames queued for one peer. A peer that falls
// this far behind misses frames instead of stalling the broadcaster.
const outboxSize = 256

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload lists the channels of a subscribe or unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// inbound is WSMessage as decoded from a peer; the payload is parsed
// per message type.
type inbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware decides on origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans enrollment progress out to subscribed WebSocket peers.
type Hub struct {
	logger *logging.Logger

	mu    sync.Mutex
	peers map[*wsPeer]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger: logger,
		peers:  make(map[*wsPeer]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every peer.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[*wsPeer]struct{})
	h.mu.Unlock()

	for p := range peers {
		p.stop()
	}
}

// ClientCount returns the number of connected peers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// HandleEvent broadcasts a progress event. It is an enroll.Dispatcher
// subscriber.
func (h *Hub) HandleEvent(ev enroll.ProgressEvent) {
	h.Broadcast(ChannelProgress, ev)
}

// HandleRun broadcasts a run snapshot. It is an enroll.Controller run
// observer.
func (h *Hub) HandleRun(st enroll.RunStatus) {
	h.Broadcast(ChannelRun, st)
}

// Broadcast queues payload for every peer subscribed to channel. It
// never blocks.
func (h *Hub) Broadcast(channel string, payload any) {
	frame, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("encoding broadcast", "channel", channel, "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*wsPeer, 0, len(h.peers))
	for p := range h.peers {
		targets = append(targets, p)
	}
	h.mu.Unlock()

	delivered := 0
	for _, p := range targets {
		if p.wants(channel) && p.enqueue(frame) {
			delivered++
		}
	}
	if delivered > 0 {
		h.logger.Debug("broadcast", "channel", channel, "peers", delivered)
	}
}

func (h *Hub) join(p *wsPeer) {
	h.mu.Lock()
	h.peers[p] = struct{}{}
	n := len(h.peers)
	h.mu.Unlock()
	h.logger.Debug("websocket peer joined", "peers", n)
}

func (h *Hub) leave(p *wsPeer) {
	h.mu.Lock()
	delete(h.peers, p)
	n := len(h.peers)
	h.mu.Unlock()
	p.stop()
	h.logger.Debug("websocket peer left", "peers", n)
}

// wsPeer is one upgraded connection. done is closed exactly once and
// ends both pumps.
type wsPeer struct {
	hub    *Hub
	conn   *websocket.Conn
	outbox chan []byte
	done   chan struct{}
	once   sync.Once

	mu       sync.RWMutex
	channels map[string]bool
}

// handleWebSocket upgrades the request. requireToken has already run.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	p := &wsPeer{
		hub:      s.hub,
		conn:     conn,
		outbox:   make(chan []byte, outboxSize),
		done:     make(chan struct{}),
		channels: make(map[string]bool),
	}
	s.hub.join(p)

	keepalive := time.Duration(s.wsCfg.PingInterval) * time.Second
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	grace := time.Duration(s.wsCfg.PongTimeout) * time.Second
	if grace <= 0 {
		grace = 10 * time.Second
	}
	go p.writeLoop(keepalive, grace)
	go p.readLoop(int64(s.wsCfg.MaxMessageSize), keepalive+grace)
}

func (p *wsPeer) stop() {
	p.once.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

// enqueue reports whether frame was queued. Frames for a stopped or
// saturated peer are dropped.
func (p *wsPeer) enqueue(frame []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.outbox <- frame:
		return true
	default:
		return false
	}
}

func (p *wsPeer) wants(channel string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.channels[channel]
}

func (p *wsPeer) readLoop(limit int64, idle time.Duration) {
	defer p.hub.leave(p)

	p.conn.SetReadLimit(limit)
	extend := func(string) error { return p.conn.SetReadDeadline(time.Now().Add(idle)) }
	extend("") //nolint:errcheck // first deadline
	p.conn.SetPongHandler(extend)

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		// Browsers may not answer protocol pings; any frame counts.
		extend("") //nolint:errcheck // a failed deadline surfaces on the next read
		p.dispatch(data)
	}
}

func (p *wsPeer) writeLoop(keepalive, grace time.Duration) {
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	write := func(kind int, data []byte) error {
		p.conn.SetWriteDeadline(time.Now().Add(grace)) //nolint:errcheck // write reports it
		return p.conn.WriteMessage(kind, data)
	}

	for {
		var err error
		select {
		case <-p.done:
			write(websocket.CloseMessage, nil) //nolint:errcheck // connection is going away
			return
		case frame := <-p.outbox:
			err = write(websocket.TextMessage, frame)
		case <-ticker.C:
			err = write(websocket.PingMessage, nil)
		}
		if err != nil {
			p.stop()
			return
		}
	}
}

func (p *wsPeer) dispatch(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		p.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypePing:
		p.reply(msg.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if err := json.Unmarshal(msg.Payload, &sub); err != nil || len(sub.Channels) == 0 {
			p.reply(msg.ID, WSTypeError, errorBody("payload must list channels"))
			return
		}
		subscribe := msg.Type == WSTypeSubscribe
		p.mu.Lock()
		for _, ch := range sub.Channels {
			if subscribe {
				p.channels[ch] = true
			} else {
				delete(p.channels, ch)
			}
		}
		p.mu.Unlock()
		p.reply(msg.ID, WSTypeResponse, map[string][]string{msg.Type + "d": sub.Channels})
	default:
		p.reply(msg.ID, WSTypeError, errorBody("unknown message type: "+msg.Type))
	}
}

func (p *wsPeer) reply(id, kind string, payload any) {
	frame, err := encodeFrame(WSMessage{Type: kind, ID: id, Payload: payload})
	if err != nil {
		return
	}
	p.enqueue(frame)
}

func errorBody(message string) map[string]string {
	return map[string]string{"message": message}
}

// encodeFrame stamps msg with the current UTC time and marshals it.
func encodeFrame(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}
