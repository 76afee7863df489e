package handlers

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/revguard/revguard/internal/services"
)

const subscriberBufferSize = 32

// eventSubscriber is one connected client. Events are queued on the buffered
// send channel and drained by a dedicated writer goroutine, so a slow client
// never stalls the publisher.
type eventSubscriber struct {
	conn *websocket.Conn
	send chan services.LifecycleEvent
}

// EventsWSHandler streams case lifecycle events to connected subscribers.
// It implements services.EventSink; PublishCaseEvent queues without blocking,
// dropping events for subscribers whose buffer is full.
type EventsWSHandler struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	subs     map[*eventSubscriber]bool
}

// NewEventsWSHandler creates a new events WebSocket handler
func NewEventsWSHandler() *EventsWSHandler {
	return &EventsWSHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for internal dashboards
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		subs: make(map[*eventSubscriber]bool),
	}
}

// SetupRoutes configures WebSocket routes
func (h *EventsWSHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/events", h.HandleWebSocket)
}

// HandleWebSocket upgrades the connection and keeps it registered until
// the client disconnects
func (h *EventsWSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("EventsWSHandler: Failed to upgrade WebSocket: %v", err)
		return
	}

	log.Printf("EventsWSHandler: Subscriber connected from %s", r.RemoteAddr)

	sub := &eventSubscriber{
		conn: conn,
		send: make(chan services.LifecycleEvent, subscriberBufferSize),
	}

	h.mu.Lock()
	h.subs[sub] = true
	h.mu.Unlock()

	go h.writeLoop(sub)

	defer func() {
		h.removeSubscriber(sub)
		log.Printf("EventsWSHandler: Subscriber disconnected")
	}()

	// Subscribers never send payloads; the read loop only detects closure
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("EventsWSHandler: Read error: %v", err)
			}
			return
		}
	}
}

// writeLoop drains the subscriber's queue onto the wire. It exits when the
// send channel is closed by removeSubscriber or when a write fails.
func (h *EventsWSHandler) writeLoop(sub *eventSubscriber) {
	for event := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := sub.conn.WriteJSON(event); err != nil {
			log.Printf("EventsWSHandler: Dropping subscriber after write error: %v", err)
			h.removeSubscriber(sub)
			return
		}
	}
}

// removeSubscriber unregisters and closes the subscriber. Closing the send
// channel happens under the write lock, which excludes concurrent publishes,
// so a publish can never hit a closed channel.
func (h *EventsWSHandler) removeSubscriber(sub *eventSubscriber) {
	h.mu.Lock()
	if h.subs[sub] {
		delete(h.subs, sub)
		close(sub.send)
	}
	h.mu.Unlock()
	sub.conn.Close()
}

// PublishCaseEvent queues a lifecycle event for every subscriber. It never
// blocks the caller: a subscriber whose buffer is full loses the event.
func (h *EventsWSHandler) PublishCaseEvent(event services.LifecycleEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		select {
		case sub.send <- event:
		default:
			log.Printf("EventsWSHandler: Subscriber buffer full, dropping %s event", event.Type)
		}
	}
}

// SubscriberCount returns the number of connected subscribers
func (h *EventsWSHandler) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
