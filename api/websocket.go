package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"displayfleet/models"
	"displayfleet/service"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // 54 seconds
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // displays connect from kiosk browsers on arbitrary origins
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

// Client is one websocket connection: a display, or a dashboard. The
// channel and displayID fields are guarded by the hub's mutex.
type Client struct {
	hub  *WebSocketHub
	conn *websocket.Conn
	send chan []byte

	channel   string // tenant channel, "" for unowned displays
	displayID string
	all       bool // admin dashboards see every channel
}

// DisplayLookup resolves a display id to its current record.
type DisplayLookup interface {
	GetDevice(id string) (*models.Device, error)
}

// WebSocketHub is the push transport behind service.Publisher.
type WebSocketHub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	displays DisplayLookup
	auth     service.Authorizer

	stopped bool
	done    chan struct{}
}

func NewWebSocketHub(displays DisplayLookup, auth service.Authorizer) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		displays:   displays,
		auth:       auth,
		done:       make(chan struct{}),
	}
}

// Run serves registrations until ctx is done, then disconnects every
// client. Publishing on a stopped hub returns service.ErrUnavailable.
func (h *WebSocketHub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("Client connected (channel %q, total: %d)", client.channel, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("Client disconnected (total: %d)", total)

		case <-ctx.Done():
			h.mu.Lock()
			h.stopped = true
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			close(h.done)
			log.Println("WebSocket hub stopped")
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHub) PublishToChannel(channel string, evt models.Event) (service.Receipt, error) {
	return h.publish(evt, func(c *Client) bool {
		return c.all || (channel != "" && c.channel == channel)
	})
}

func (h *WebSocketHub) PublishToAll(evt models.Event) (service.Receipt, error) {
	return h.publish(evt, func(*Client) bool { return true })
}

func (h *WebSocketHub) PublishToDisplay(deviceID string, evt models.Event) (service.Receipt, error) {
	return h.publish(evt, func(c *Client) bool { return c.displayID == deviceID })
}

func (h *WebSocketHub) publish(evt models.Event, match func(*Client) bool) (service.Receipt, error) {
	messageBytes, err := json.Marshal(evt)
	if err != nil {
		return service.Receipt{}, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return service.Receipt{}, service.ErrUnavailable
	}

	var receipt service.Receipt
	for client := range h.clients {
		if !match(client) {
			continue
		}
		select {
		case client.send <- messageBytes:
			receipt.Clients++
			if client.displayID != "" {
				receipt.Displays = append(receipt.Displays, client.displayID)
			}
		default:
			log.Printf("⚠️ Client channel full, dropping %s", evt.Event)
		}
	}
	log.Printf("📡 WebSocket: %s sent to %d/%d clients", evt.Event, receipt.Clients, len(h.clients))
	return receipt, nil
}

// channelFor returns the tenant channel of a display; unowned and
// unknown displays get "".
func (h *WebSocketHub) channelFor(displayID string) string {
	if h.displays == nil || displayID == "" {
		return ""
	}
	d, err := h.displays.GetDevice(displayID)
	if err != nil || d.OwnerUserID == nil {
		return ""
	}
	return service.TenantChannel(*d.OwnerUserID)
}

// HandleWebSocket upgrades the request. The channel is chosen here, never
// by the client: ?displayId= binds to that display's owner, an API token
// binds to the caller's tenant.
func HandleWebSocket(hub *WebSocketHub, c *gin.Context) {
	client := &Client{hub: hub, send: make(chan []byte, sendBuffer)}

	if displayID := c.Query("displayId"); displayID != "" {
		client.displayID = displayID
		client.channel = hub.channelFor(displayID)
	} else if token := requestToken(c); token != "" && hub.auth != nil {
		p, err := hub.auth.Authorize(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse(err.Error()))
			return
		}
		client.all = p.IsAdmin
		if p.UserID != "" {
			client.channel = service.TenantChannel(p.UserID)
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	client.conn = conn

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

type clientMessage struct {
	Type        string `json:"type"`
	Event       string `json:"event"`
	DisplayType string `json:"displayType"`
	DisplayID   string `json:"displayId"`
}

// readPump handles messages from the client. The only one understood is
// display:register, which rebinds the connection to a display.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		kind := msg.Type
		if kind == "" {
			kind = msg.Event
		}
		if kind == "display:register" && msg.DisplayID != "" {
			c.bindDisplay(msg.DisplayID, msg.DisplayType)
		}
	}
}

func (c *Client) bindDisplay(displayID, displayType string) {
	channel := c.hub.channelFor(displayID)

	c.hub.mu.Lock()
	c.displayID = displayID
	c.channel = channel
	c.hub.mu.Unlock()
	log.Printf("Client bound to display %s (%s, channel %q)", displayID, displayType, channel)

	ack, err := json.Marshal(models.Event{
		Event:     models.EventDisplayRegistered,
		Data:      gin.H{"displayId": displayID, "displayType": displayType},
		Timestamp: time.Now(),
	})
	if err != nil {
		return
	}

	// send is closed only by unregister (after this pump exits) or by
	// the hub stopping.
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.hub.stopped {
		return
	}
	select {
	case c.send <- ack:
	default:
		log.Printf("⚠️ Client channel full, registration ack dropped")
	}
}

// writePump writes queued events and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
