package api

import (
	"context"
	"encoding/json"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"schedview-agent/models"
)

const EventProcessesUpdated = "processes.updated"

// Message is the envelope written to websocket clients
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Hub fans poll reports out to connected websocket clients
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	count *atomic.Int64
	log   *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
		count:      atomic.NewInt64(0),
		log:        log,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
			h.log.Info("ws: client registered", zap.String("id", client.ID), zap.Int("total_clients", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.count.Store(int64(len(h.clients)))
				h.log.Info("ws: client unregistered", zap.String("id", client.ID), zap.Int("total_clients", len(h.clients)))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.log.Warn("ws: client channel full, dropping client", zap.String("id", client.ID))
					delete(h.clients, client)
					close(client.send)
					h.count.Store(int64(len(h.clients)))
				}
			}

		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.count.Store(0)
			return
		}
	}
}

// Register adds a client; it returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount reports the number of connected clients
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Publish queues a report for every client. When the queue is full the
// report is dropped; the next poll supersedes it anyway.
func (h *Hub) Publish(report *models.PollReport) {
	data, err := json.Marshal(Message{Event: EventProcessesUpdated, Payload: report})
	if err != nil {
		h.log.Error("ws: failed to marshal report", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("ws: broadcast queue full, report dropped")
	}
}
