package httpserver

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	subscriberBuffer = 32
	writeWait        = 10 * time.Second
)

// Hub fans run messages out to SSE and WebSocket subscribers. A subscriber
// that falls behind misses messages rather than slowing the engine down.
type Hub struct {
	clients    map[chan []byte]bool
	newClients chan chan []byte
	defunct    chan chan []byte
	messages   chan []byte
	counts     chan chan int
	quit       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
}

func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[chan []byte]bool),
		newClients: make(chan chan []byte),
		defunct:    make(chan chan []byte),
		messages:   make(chan []byte),
		counts:     make(chan chan int),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go h.start()
	return h
}

func (h *Hub) start() {
	defer close(h.done)
	for {
		select {
		case s := <-h.newClients:
			h.clients[s] = true

		case s := <-h.defunct:
			if h.clients[s] {
				delete(h.clients, s)
				close(s)
			}

		case msg := <-h.messages:
			for s := range h.clients {
				select {
				case s <- msg:
				default:
					// subscriber is behind, skip
				}
			}

		case reply := <-h.counts:
			reply <- len(h.clients)

		case <-h.quit:
			for s := range h.clients {
				delete(h.clients, s)
				close(s)
			}
			return
		}
	}
}

// Subscribe registers a new subscriber. The channel is closed by Unsubscribe
// or Close.
func (h *Hub) Subscribe() chan []byte {
	s := make(chan []byte, subscriberBuffer)
	select {
	case h.newClients <- s:
	case <-h.done:
		close(s)
	}
	return s
}

func (h *Hub) Unsubscribe(s chan []byte) {
	select {
	case h.defunct <- s:
	case <-h.done:
	}
}

// Broadcast implements agent.Broadcaster.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.messages <- msg:
	case <-h.done:
	}
}

// Subscribers reports how many subscribers are connected.
func (h *Hub) Subscribers() int {
	reply := make(chan int, 1)
	select {
	case h.counts <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Close disconnects every subscriber and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.quit) })
	<-h.done
}

// ServeSSE streams hub messages as server-sent events.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s := h.Subscribe()
	defer h.Unsubscribe(s)
	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-s:
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS streams hub messages over a WebSocket as text frames.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[http] websocket upgrade: %v", err)
		return
	}
	defer ws.Close()

	// the client never sends anything useful; reading detects the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s := h.Subscribe()
	defer h.Unsubscribe(s)
	for {
		select {
		case <-gone:
			return
		case msg, open := <-s:
			if !open {
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
				return
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
