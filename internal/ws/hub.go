package ws

import (
	"encoding/json"
	"sync"
)

// Event represents a WebSocket message to be broadcast
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound is a message sent by a surface. Only edit and visibility
// notifications are understood; anything else is dropped.
type Inbound struct {
	Type    string `json:"type"`
	OrderID string `json:"order_id"`
}

// Inbound message types.
const (
	MessageEditBegin = "edit.begin"
	MessageEditEnd   = "edit.end"
	MessageHidden    = "visibility.hidden"
	MessageVisible   = "visibility.visible"
)

// RoomFunc is called with the table ID when its room opens or closes.
type RoomFunc func(tableID string)

// MessageFunc handles an Inbound message from a client seated at tableID.
type MessageFunc func(tableID, participantID string, msg Inbound)

// tableEvent is an internal struct for routing events to specific tables
type tableEvent struct {
	TableID string
	Event   Event
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Registered clients by table ID, mapped to whether the surface is in
	// the foreground
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	broadcast chan *tableEvent

	mu sync.RWMutex

	onOpen    RoomFunc
	onClose   RoomFunc
	onMessage MessageFunc
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *tableEvent, 256),
	}
}

// OnRoom sets the callbacks fired when the first client joins a table and
// when the last one leaves. Must be called before Run.
func (h *Hub) OnRoom(open, close RoomFunc) {
	h.onOpen = open
	h.onClose = close
}

// OnMessage sets the handler for inbound client messages. Must be called
// before Run.
func (h *Hub) OnMessage(fn MessageFunc) {
	h.onMessage = fn
}

// Run starts the hub's main loop
// This should be called as a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			opened := h.rooms[client.tableID] == nil
			if opened {
				h.rooms[client.tableID] = make(map[*Client]bool)
			}
			h.rooms[client.tableID][client] = true
			h.mu.Unlock()

			if opened && h.onOpen != nil {
				h.onOpen(client.tableID)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			closed := false
			if clients, ok := h.rooms[client.tableID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.rooms, client.tableID)
						closed = true
					}
				}
			}
			h.mu.Unlock()

			if closed && h.onClose != nil {
				h.onClose(client.tableID)
			}

		case event := <-h.broadcast:
			message, err := json.Marshal(event.Event)
			if err != nil {
				continue
			}

			h.mu.Lock()
			closed := false
			for client := range h.rooms[event.TableID] {
				select {
				case client.send <- message:
				default:
					// Client's send buffer is full, close and unregister
					close(client.send)
					delete(h.rooms[event.TableID], client)
					if len(h.rooms[event.TableID]) == 0 {
						delete(h.rooms, event.TableID)
						closed = true
					}
				}
			}
			h.mu.Unlock()

			if closed && h.onClose != nil {
				h.onClose(event.TableID)
			}
		}
	}
}

// BroadcastToTable sends an event to all clients seated at tableID.
func (h *Hub) BroadcastToTable(tableID string, event Event) {
	h.broadcast <- &tableEvent{
		TableID: tableID,
		Event:   event,
	}
}

// Visible reports whether at least one surface at tableID is in the
// foreground. Surfaces count as visible until they report otherwise.
func (h *Hub) Visible(tableID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, visible := range h.rooms[tableID] {
		if visible {
			return true
		}
	}
	return false
}

func (h *Hub) setVisible(c *Client, visible bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.rooms[c.tableID]; ok {
		if _, exists := clients[c]; exists {
			clients[c] = visible
		}
	}
}

// Rooms returns the number of tables with at least one connected client.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) dispatch(c *Client, raw []byte) {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	switch msg.Type {
	case MessageHidden:
		h.setVisible(c, false)
	case MessageVisible:
		h.setVisible(c, true)
	case MessageEditBegin, MessageEditEnd:
		if h.onMessage != nil {
			h.onMessage(c.tableID, c.participantID, msg)
		}
	}
}
