package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// GameEvent is the structured payload fanned out to a room's clients.
type GameEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// EventSink receives game events scoped to a room. Delivery is best-effort
// and unacknowledged; the game core never blocks on it and never depends on
// a broadcast being received.
type EventSink interface {
	Publish(roomCode string, event GameEvent)
}

// events is the sink the core publishes into. main wires the hub here;
// tests swap in a capture sink.
var events EventSink

func publishEvent(roomCode, eventType string, data map[string]any) {
	if events == nil {
		return
	}
	events.Publish(roomCode, GameEvent{Type: eventType, Data: data})
}

// Client is one websocket connection subscribed to a room.
type Client struct {
	conn     *websocket.Conn
	roomCode string
	writeMu  sync.Mutex // Serialize writes to WebSocket (required by gorilla/websocket)
}

type roomMessage struct {
	roomCode string
	payload  []byte
}

// Hub fans room-scoped messages out to connected clients.
type Hub struct {
	rooms      map[string]map[*Client]struct{}
	broadcast  chan roomMessage
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup
}

func newHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		broadcast:  make(chan roomMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

var hub = newHub()

// stop signals the hub goroutine to exit and waits for it to finish
func (h *Hub) stop() {
	close(h.done)
	h.wg.Wait()
}

// Publish implements EventSink. The payload is dropped, not queued
// unboundedly, if the hub cannot keep up.
func (h *Hub) Publish(roomCode string, event GameEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("Hub: failed to marshal %s event: %v", event.Type, err)
		return
	}
	LogWSMessage("OUT", roomCode, event.Type)
	select {
	case h.broadcast <- roomMessage{roomCode: roomCode, payload: payload}:
	default:
		log.Printf("Hub: dropping %s event for room %s (broadcast backlog)", event.Type, roomCode)
	}
}

func (h *Hub) run() {
	h.wg.Add(1)
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.roomCode] == nil {
				h.rooms[client.roomCode] = make(map[*Client]struct{})
			}
			h.rooms[client.roomCode][client] = struct{}{}
			total := len(h.rooms[client.roomCode])
			h.mu.Unlock()
			log.Printf("WebSocket client connected to room %s. Total: %d", client.roomCode, total)
			DebugLog("hub.register", "Client connected to room '%s'", client.roomCode)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.roomCode]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					client.conn.Close()
					if len(clients) == 0 {
						delete(h.rooms, client.roomCode)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected from room %s", client.roomCode)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.rooms[msg.roomCode] {
				// Serialize writes to each connection
				client.writeMu.Lock()
				err := client.conn.WriteMessage(websocket.TextMessage, msg.payload)
				client.writeMu.Unlock()

				if err != nil {
					log.Printf("WebSocket write error in room %s: %v", msg.roomCode, err)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// wsClientMessage is what clients may send over the socket: keepalive pings
// and snapshot requests. All game mutations go through the HTTP API.
type wsClientMessage struct {
	Type string `json:"type"`
}

func handleWebSocket(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	room, err := getRoomByCode(code)
	if err != nil {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	var upgrader = websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error for room %s: %v", code, err)
		return
	}

	DebugLog("handleWebSocket", "WebSocket upgraded for room '%s'", code)
	client := &Client{conn: conn, roomCode: code}
	hub.register <- client

	// Push the current snapshot so the client does not have to poll first.
	if view, err := getStateView(room); err == nil {
		client.send("initial_state", view)
	}

	go func() {
		defer func() {
			hub.unregister <- client
		}()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				break
			}
			handleWSClientMessage(client, message)
		}
	}()
}

func handleWSClientMessage(client *Client, message []byte) {
	var msg wsClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("WebSocket unmarshal error in room %s: %v", client.roomCode, err)
		return
	}

	LogWSMessage("IN", client.roomCode, msg.Type)

	switch msg.Type {
	case "ping":
		client.send("pong", nil)
	case "request_state":
		room, err := getRoomByCode(client.roomCode)
		if err != nil {
			return
		}
		if view, err := getStateView(room); err == nil {
			client.send("state_update", view)
		}
	}
}

// send writes a typed JSON message to one client, best-effort.
func (c *Client) send(messageType string, data any) {
	payload, err := json.Marshal(map[string]any{"type": messageType, "data": data})
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Printf("WebSocket write error in room %s: %v", c.roomCode, err)
	}
}
