package api

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/experiment-core/internal/infrastructure/logging"
)

const (
	// clientQueueSize bounds the events queued for one slow client.
	clientQueueSize = 64

	// hubQueueSize bounds the events waiting for the hub loop.
	hubQueueSize = 256
)

// slotEvent is one encoded frame addressed to the watchers of a slot.
type slotEvent struct {
	key  string
	data []byte
}

// Hub fans slot events out to WebSocket clients. One goroutine, Run, owns
// the client set; the other methods only talk to it over channels.
type Hub struct {
	logger *logging.Logger

	join   chan *wsClient
	leave  chan *wsClient
	events chan slotEvent
	done   chan struct{}

	clients atomic.Int64
}

// NewHub creates a hub. Nothing is delivered until Run is started.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger: logger,
		join:   make(chan *wsClient),
		leave:  make(chan *wsClient),
		events: make(chan slotEvent, hubQueueSize),
		done:   make(chan struct{}),
	}
}

// Run delivers events until ctx is cancelled, then closes every client's
// event queue.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	clients := make(map[*wsClient]struct{})
	for {
		select {
		case <-ctx.Done():
			for c := range clients {
				close(c.events)
			}
			h.clients.Store(0)
			return

		case c := <-h.join:
			clients[c] = struct{}{}
			h.clients.Store(int64(len(clients)))
			h.logger.Debug("websocket client connected", "client", c.id, "clients", len(clients))

		case c := <-h.leave:
			if _, ok := clients[c]; !ok {
				continue
			}
			delete(clients, c)
			close(c.events)
			h.clients.Store(int64(len(clients)))
			h.logger.Debug("websocket client disconnected", "client", c.id, "clients", len(clients))

		case ev := <-h.events:
			for c := range clients {
				if !c.watches(ev.key) {
					continue
				}
				select {
				case c.events <- ev.data:
				default:
					h.logger.Warn("websocket client too slow, event dropped", "client", c.id, "slot", ev.key)
				}
			}
		}
	}
}

// add hands a client to the hub. It returns false once the hub has stopped.
func (h *Hub) add(c *wsClient) bool {
	select {
	case h.join <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *wsClient) {
	select {
	case h.leave <- c:
	case <-h.done:
	}
}

// Publish queues an event for the watchers of the slot with the given key.
// It never blocks; when the hub is backed up the event is dropped.
func (h *Hub) Publish(key, kind string, data any) {
	frame, err := json.Marshal(Frame{Kind: kind, At: time.Now().UTC(), Data: data})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "error", err)
		return
	}
	select {
	case h.events <- slotEvent{key: key, data: frame}:
	case <-h.done:
	default:
		h.logger.Warn("websocket hub backed up, event dropped", "slot", key)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.clients.Load())
}

// wsClient is one WebSocket connection and the set of slots it watches.
type wsClient struct {
	id string

	// events is closed by the hub; replies and quit belong to the client.
	events  chan []byte
	replies chan []byte
	quit    chan struct{}

	mu    sync.RWMutex
	all   bool
	slots map[string]struct{}
}

func newWSClient(id string) *wsClient {
	return &wsClient{
		id:      id,
		events:  make(chan []byte, clientQueueSize),
		replies: make(chan []byte, clientQueueSize),
		quit:    make(chan struct{}),
		slots:   make(map[string]struct{}),
	}
}

func (c *wsClient) watches(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.all {
		return true
	}
	_, ok := c.slots[key]
	return ok
}

// watch adds slot keys to the filter; no keys means every slot.
func (c *wsClient) watch(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(keys) == 0 {
		c.all = true
		return
	}
	for _, k := range keys {
		c.slots[k] = struct{}{}
	}
}

// unwatch removes slot keys; no keys clears the filter.
func (c *wsClient) unwatch(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(keys) == 0 {
		c.all = false
		clear(c.slots)
		return
	}
	for _, k := range keys {
		delete(c.slots, k)
	}
}

// reply queues a direct answer to the client, dropping it when the queue
// is full.
func (c *wsClient) reply(f Frame) {
	f.At = time.Now().UTC()
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case c.replies <- data:
	default:
	}
}
