package hub

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/gommon/log"

	"github.com/himanshub16/upnext-karaoke/queue"
)

const (
	EventQueueUpdate         = "queue_update"
	EventSongAdded           = "song_added"
	EventSongRemoved         = "song_removed"
	EventCurrentChanged      = "current_changed"
	EventPlaybackState       = "playback_state"
	EventQueueEmpty          = "queue_empty"
	EventFallbackInterrupted = "fallback_interrupted"
)

var eventNames = map[queue.EventType]string{
	queue.EventUpdate:              EventQueueUpdate,
	queue.EventSongAdded:           EventSongAdded,
	queue.EventSongRemoved:         EventSongRemoved,
	queue.EventCurrentChanged:      EventCurrentChanged,
	queue.EventPlaybackState:       EventPlaybackState,
	queue.EventQueueEmpty:          EventQueueEmpty,
	queue.EventFallbackInterrupted: EventFallbackInterrupted,
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Message is what every client receives.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// EventSource is where queue events come from.
type EventSource interface {
	Subscribe(l queue.Listener) func()
}

// StateViewer hands out the queue state for newly connected clients.
type StateViewer interface {
	View(fn func(queue.QueueState))
}

// ClientRegistry keeps track of connected devices.
type ClientRegistry interface {
	RegisterClient(id, socketID, userAgent, ip string)
	UpdateClient(id, socketID string)
	UnregisterClient(id string)
}

type client struct {
	connID   string
	deviceID string
	send     chan Message
	// interrupt is signalled to make the writer close the connection
	interrupt chan struct{}
}

// Hub pushes queue events to every connected websocket client. Each
// client has its own buffered channel so that a slow connection never
// holds up the queue; a client that falls too far behind is dropped.
type Hub struct {
	upgrader websocket.Upgrader
	viewer   StateViewer
	registry ClientRegistry

	chanMutex  sync.Mutex
	clients    map[string]*client
	devices    map[string]string // deviceID -> connID of its newest connection
	sendBuffer int
	closed     bool

	subMutex    sync.Mutex
	unsubscribe func()
}

func NewHub(viewer StateViewer, registry ClientRegistry, sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		viewer:     viewer,
		registry:   registry,
		clients:    make(map[string]*client),
		devices:    make(map[string]string),
		sendBuffer: sendBuffer,
	}
}

// Attach subscribes the hub to src. Any earlier subscription is dropped
// first, so calling it again never delivers an event twice.
func (h *Hub) Attach(src EventSource) {
	h.subMutex.Lock()
	defer h.subMutex.Unlock()

	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.unsubscribe = src.Subscribe(h.relay)
	log.Info("hub attached to queue events")
}

// Detach drops the current subscription, if any.
func (h *Hub) Detach() {
	h.subMutex.Lock()
	defer h.subMutex.Unlock()

	if h.unsubscribe != nil {
		h.unsubscribe()
		h.unsubscribe = nil
	}
}

func (h *Hub) relay(ev queue.Event) {
	name, ok := eventNames[ev.Type]
	if !ok {
		log.Warnf("hub: no broadcast name for event %s", ev.Type)
		return
	}
	h.Emit(name, ev.Payload)
}

// Emit sends an arbitrary event to all connected clients.
func (h *Hub) Emit(event string, data interface{}) {
	h.broadcast(Message{Event: event, Data: data})
}

func (h *Hub) broadcast(msg Message) {
	h.chanMutex.Lock()
	defer h.chanMutex.Unlock()

	for connID, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Warnf("hub: client %s is too slow, dropping it", connID)
			h.dropLocked(c)
		}
	}
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.chanMutex.Lock()
	defer h.chanMutex.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket and streams events to it
// until either side goes away. The optional deviceId query parameter
// identifies the device across reconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("hub: failed to upgrade ws: %v", err)
		return
	}
	defer ws.Close()

	c := &client{
		connID:    uuid.New().String(),
		deviceID:  r.URL.Query().Get("deviceId"),
		send:      make(chan Message, h.sendBuffer),
		interrupt: make(chan struct{}, 1),
	}
	if c.deviceID == "" {
		c.deviceID = c.connID
	}

	// the snapshot and the registration happen under the engine lock, so
	// the client sees every event that follows its snapshot exactly once
	joined := false
	h.viewer.View(func(state queue.QueueState) {
		joined = h.open(c, Message{Event: EventQueueUpdate, Data: state})
	})
	if !joined {
		return
	}
	defer h.close(c)

	if h.registry != nil {
		h.registry.RegisterClient(c.deviceID, c.connID, r.UserAgent(), clientIP(r))
	}
	log.Infof("hub: client connected %s (device %s)", c.connID, c.deviceID)

	go h.readLoop(c, ws)
	h.writeLoop(c, ws)
}

func (h *Hub) open(c *client, first Message) bool {
	h.chanMutex.Lock()
	defer h.chanMutex.Unlock()

	if h.closed {
		return false
	}
	h.clients[c.connID] = c
	h.devices[c.deviceID] = c.connID
	c.send <- first
	return true
}

func (h *Hub) close(c *client) {
	h.chanMutex.Lock()
	delete(h.clients, c.connID)
	newest := h.devices[c.deviceID] == c.connID
	if newest {
		delete(h.devices, c.deviceID)
	}
	h.chanMutex.Unlock()

	if newest && h.registry != nil {
		h.registry.UnregisterClient(c.deviceID)
	}
	log.Infof("hub: connection closed for %s", c.connID)
}

// dropLocked must be called with chanMutex held
func (h *Hub) dropLocked(c *client) {
	delete(h.clients, c.connID)
	select {
	case c.interrupt <- struct{}{}:
	default:
	}
}

func (h *Hub) readLoop(c *client, ws *websocket.Conn) {
	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// clients have nothing to say; any message counts as a heartbeat
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("hub: failed reading from %s: %v", c.connID, err)
			}
			h.chanMutex.Lock()
			h.dropLocked(c)
			h.chanMutex.Unlock()
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		if h.registry != nil {
			h.registry.UpdateClient(c.deviceID, c.connID)
		}
	}
}

func (h *Hub) writeLoop(c *client, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(msg); err != nil {
				log.Warnf("hub: failed to send %s to %s: %v", msg.Event, c.connID, err)
				return
			}

		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.interrupt:
			err := ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			if err != nil && err != websocket.ErrCloseSent {
				log.Debugf("hub: failed to close ws for %s: %v", c.connID, err)
			}
			return
		}
	}
}

// Shutdown disconnects every client and refuses new ones.
func (h *Hub) Shutdown() {
	h.Detach()

	h.chanMutex.Lock()
	defer h.chanMutex.Unlock()
	h.closed = true
	for _, c := range h.clients {
		h.dropLocked(c)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
