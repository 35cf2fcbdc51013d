package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/experiment-core/internal/infrastructure/config"
)

// MessageHandler receives one inbound message. Handlers run on paho's
// goroutines and must not block; a returned error is only logged.
type MessageHandler func(topic string, payload []byte) error

// Logger receives handler failures. logging.Logger satisfies it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Client is a broker session for experimentd. It announces presence on
// the system status topic and re-subscribes its routes after a reconnect.
// Methods are safe for concurrent use.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	routes *routeTable
	up     atomic.Bool

	mu         sync.RWMutex
	onConnect  func()
	onConnLost func(error)
	logger     Logger
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{cfg: cfg, routes: newRouteTable()}
}

// Connect opens a session with the configured broker and blocks until the
// broker accepts it or connectTimeout passes.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := sessionOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.sessionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.sessionLost(err) })

	c.paho = pahomqtt.NewClient(opts)
	if err := await(c.paho.Connect(), ErrConnectionFailed, connectTimeout); err != nil {
		return nil, err
	}
	// sessionUp runs asynchronously; callers expect IsConnected right away.
	c.up.Store(true)
	return c, nil
}

// sessionUp runs on the first connect and after every reconnect.
func (c *Client) sessionUp() {
	c.up.Store(true)
	c.routes.each(func(r route) {
		c.paho.Subscribe(r.filter, r.qos, c.deliver(r.handler))
	})
	c.paho.Publish(Topics{}.SystemStatus(), c.qos(), true, presence(StatusOnline, c.cfg.Broker.ClientID, ""))

	c.mu.RLock()
	fn := c.onConnect
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) sessionLost(err error) {
	c.up.Store(false)

	c.mu.RLock()
	fn := c.onConnLost
	c.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Client) qos() byte { return byte(c.cfg.QoS) }

// Close announces a clean shutdown and ends the session. It is a no-op on
// a client that never connected.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		msg := presence(StatusOffline, c.cfg.Broker.ClientID, "shutdown")
		c.paho.Publish(Topics{}.SystemStatus(), c.qos(), true, msg).WaitTimeout(operationTimeout)
	}
	c.paho.Disconnect(quiesceMillis)
	c.up.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the session is currently up.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.up.Load() && c.paho.IsConnected()
}

// SetOnConnect registers fn to run after the first connect and every
// reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers fn to run when the session drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onConnLost = fn
	c.mu.Unlock()
}

func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// deliver adapts h to paho.
func (c *Client) deliver(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(h, msg.Topic(), msg.Payload())
	}
}

// dispatch runs h and logs an error or a panic instead of letting either
// reach paho's router.
func (c *Client) dispatch(h MessageHandler, topic string, payload []byte) {
	c.mu.RLock()
	logger := c.logger
	c.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error("mqtt handler panicked", "topic", topic, "panic", r)
		}
	}()
	if err := h(topic, payload); err != nil && logger != nil {
		logger.Warn("mqtt message rejected", "topic", topic, "error", err)
	}
}
