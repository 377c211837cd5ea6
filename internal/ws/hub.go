// Package ws delivers live protocol events (new call, submission
// accepted, winner selected) to connected bidder sessions. Delivery is
// best-effort; the notification table remains the durable record.
package ws

import (
	"encoding/json"

	"go.uber.org/zap"
)

// Event is the JSON payload pushed to clients, e.g.
// {"type":"new_convocatoria","call_id":"OBRA-001"}.
type Event struct {
	Type         string `json:"type"`
	CallID       string `json:"call_id,omitempty"`
	SubmissionID string `json:"submission_id,omitempty"`
	BidderID     string `json:"bidder_id,omitempty"`
	Decision     string `json:"decision,omitempty"`
}

const (
	EventNewCall   = "new_convocatoria"
	EventSubmitted = "submitted"
	EventAccepted  = "accepted"
)

type directedEvent struct {
	bidderID string
	event    Event
}

type Hub struct {
	// Registered clients. Owned by the Run goroutine.
	clients map[*Client]bool

	// Outbound events fanned out to every connected session.
	broadcast chan Event

	// Outbound events targeted at one bidder's sessions.
	direct chan directedEvent

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan Event, 16),
		direct:     make(chan directedEvent, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger.With(zap.String("component", "ws_hub")),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case event := <-h.broadcast:
			msgBytes, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("marshal event failed", zap.Error(err))
				continue
			}
			for client := range h.clients {
				h.deliver(client, msgBytes)
			}
		case msg := <-h.direct:
			msgBytes, err := json.Marshal(msg.event)
			if err != nil {
				h.logger.Error("marshal event failed", zap.Error(err))
				continue
			}
			for client := range h.clients {
				if client.bidderID == msg.bidderID {
					h.deliver(client, msgBytes)
				}
			}
		}
	}
}

func (h *Hub) deliver(client *Client, msgBytes []byte) {
	select {
	case client.send <- msgBytes:
	default:
		close(client.send)
		delete(h.clients, client)
	}
}

// Broadcast queues an event for every connected session. Never blocks
// the caller; events are dropped if the hub is saturated.
func (h *Hub) Broadcast(event Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("event dropped, broadcast queue full", zap.String("type", event.Type))
	}
}

// SendToBidder targets sessions registered under one bidder identifier.
// Like Broadcast, delivery is best-effort and never blocks the caller.
func (h *Hub) SendToBidder(bidderID string, event Event) {
	select {
	case h.direct <- directedEvent{bidderID: bidderID, event: event}:
	default:
		h.logger.Warn("event dropped, direct queue full",
			zap.String("type", event.Type),
			zap.String("bidder_id", bidderID))
	}
}
