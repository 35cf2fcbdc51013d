package mqtt

import (
	"fmt"
	"sort"
	"sync"
)

type route struct {
	filter  string
	qos     byte
	handler MessageHandler
}

// routeTable remembers subscriptions so a reconnect can restore them.
type routeTable struct {
	mu     sync.RWMutex
	routes map[string]route
}

func newRouteTable() *routeTable {
	return &routeTable{routes: make(map[string]route)}
}

func (t *routeTable) put(r route) {
	t.mu.Lock()
	t.routes[r.filter] = r
	t.mu.Unlock()
}

func (t *routeTable) drop(filter string) {
	t.mu.Lock()
	delete(t.routes, filter)
	t.mu.Unlock()
}

func (t *routeTable) each(fn func(route)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.routes {
		fn(r)
	}
}

func (t *routeTable) filters() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.routes))
	for f := range t.routes {
		out = append(out, f)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Subscribe routes messages matching filter (+ and # allowed) to h. The
// route survives reconnects until Unsubscribe.
func (c *Client) Subscribe(filter string, qos byte, h MessageHandler) error {
	if err := checkTopic(filter, qos); err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, filter)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.routes.put(route{filter: filter, qos: qos, handler: h})
	if err := await(c.paho.Subscribe(filter, qos, c.deliver(h)), ErrSubscribeFailed, operationTimeout); err != nil {
		c.routes.drop(filter)
		return err
	}
	return nil
}

// Unsubscribe removes the route registered for exactly filter.
func (c *Client) Unsubscribe(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.routes.drop(filter)
	return await(c.paho.Unsubscribe(filter), ErrUnsubscribeFailed, operationTimeout)
}

// Subscriptions returns the active filters in sorted order.
func (c *Client) Subscriptions() []string {
	return c.routes.filters()
}
