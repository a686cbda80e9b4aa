package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/carrick-labs/doorman-core/internal/infrastructure/config"
)

// Logger is the minimal logging surface the client needs. Both
// logging.Logger and slog.Logger satisfy it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives messages for a subscribed topic. Paho invokes
// handlers on its own goroutines; a handler that blocks stalls delivery
// for its subscription. Errors are logged, not redelivered.
type MessageHandler func(topic string, payload []byte) error

// subscription is what resubscribeAll needs to rebuild broker state
// after a reconnect.
type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is a paho wrapper holding the gateway's single broker
// connection. It tracks subscriptions so they survive reconnects,
// announces gateway status on the retained system topic, and shields
// the process from panicking message handlers.
//
// All methods are safe for concurrent use.
type Client struct {
	client      pahomqtt.Client
	statusTopic string
	statusQoS   byte
	clientID    string

	subMu sync.RWMutex
	subs  map[string]subscription

	mu           sync.RWMutex
	connected    bool
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Connect dials the broker and blocks until the connection is up or the
// connect timeout expires. The returned client reconnects on its own
// afterwards; callers observe connection state through IsConnected and
// the SetOnConnect/SetOnDisconnect callbacks.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg)

	c := &Client{
		statusTopic: Topics{Prefix: cfg.TopicPrefix}.SystemStatus(),
		statusQoS:   byte(cfg.QoS),
		clientID:    cfg.Broker.ClientID,
		subs:        make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.brokerUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.brokerDown(err) })

	c.client = pahomqtt.NewClient(opts)
	if err := waitToken(c.client.Connect(), defaultConnectTimeout, ErrConnectionFailed); err != nil {
		return nil, err
	}

	// The OnConnect handler fires asynchronously; mark connected here so
	// IsConnected holds immediately after Connect returns.
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	return c, nil
}

// waitToken blocks on a paho token and folds its outcome into a sentinel.
func waitToken(token pahomqtt.Token, timeout time.Duration, sentinel error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}

func (c *Client) brokerUp() {
	c.mu.Lock()
	c.connected = true
	callback := c.onConnect
	c.mu.Unlock()

	c.resubscribeAll()
	// Retained so late subscribers see the current gateway state.
	c.client.Publish(c.statusTopic, c.statusQoS, true, buildOnlinePayload(c.clientID))

	if callback != nil {
		callback()
	}
}

func (c *Client) brokerDown(err error) {
	c.mu.Lock()
	c.connected = false
	callback := c.onDisconnect
	c.mu.Unlock()

	if callback != nil {
		callback(err)
	}
}

// resubscribeAll rebuilds broker-side subscription state after a
// reconnect. Failures here resolve themselves on the next reconnect
// cycle, so errors are not checked.
func (c *Client) resubscribeAll() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, sub := range c.subs {
		c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// Close announces a graceful shutdown on the status topic, distinct from
// the LWT the broker publishes on a crash, then disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(c.statusTopic, c.statusQoS, true, buildOfflinePayload(c.clientID))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	return nil
}

// HealthCheck reports whether the broker connection is currently up.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetOnConnect registers a callback invoked on the initial connection
// and every reconnect after that.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback invoked when the connection
// drops, with the reason.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger enables handler error and panic logging. Without a logger
// those are discarded.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho's signature and recovers
// panics. A malformed firmware payload must never take the gateway down.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler failed", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
