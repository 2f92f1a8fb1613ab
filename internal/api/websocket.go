package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"condoscan/internal/models"

	"github.com/gorilla/websocket"
)

// --- WebSocket Hub ---

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mutex      sync.Mutex
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

var hub = &Hub{
	broadcast:  make(chan []byte),
	register:   make(chan *Client),
	unregister: make(chan *Client),
	clients:    make(map[*Client]bool),
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("WebSocket upgrade error:", err)
		return
	}

	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	hub.register <- client

	go func() {
		defer func() {
			hub.unregister <- client
			conn.Close()
		}()
		for {
			message, ok := <-client.send
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			w.Close()
		}
	}()

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

type BroadcastMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WSBatch is the wire shape of a finished ingest run pushed to dashboard
// subscribers.
type WSBatch struct {
	BatchID              string     `json:"batch_id"`
	Dataset              string     `json:"dataset"`
	Status               string     `json:"status"`
	RowsPromoted         int64      `json:"rows_promoted"`
	RowsSkippedCollision int64      `json:"rows_skipped_collision"`
	RowsOutliersMarked   int64      `json:"rows_outliers_marked"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// BroadcastBatchCompleted notifies subscribers that new transactions were
// promoted and caches were flushed.
func BroadcastBatchCompleted(b *models.BatchRecord) {
	payload := WSBatch{
		BatchID:              b.BatchID,
		Dataset:              b.Dataset,
		Status:               b.Status,
		RowsPromoted:         b.RowsPromoted,
		RowsSkippedCollision: b.RowsSkippedCollision,
		RowsOutliersMarked:   b.RowsOutliersMarked,
		CompletedAt:          b.CompletedAt,
	}
	msg := BroadcastMessage{Type: "batch_completed", Payload: payload}
	data, _ := json.Marshal(msg)
	hub.broadcast <- data
}

// BroadcastSnapshotsRefreshed announces that the precomputed headline
// stats were rebuilt.
func BroadcastSnapshotsRefreshed(keys []string) {
	msg := BroadcastMessage{Type: "snapshots_refreshed", Payload: map[string]any{
		"stat_keys":    keys,
		"refreshed_at": time.Now().UTC().Format(time.RFC3339),
	}}
	data, _ := json.Marshal(msg)
	hub.broadcast <- data
}

func init() {
	go hub.run()
}
