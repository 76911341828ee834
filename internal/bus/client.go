package bus

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/technosupport/sentry-bridge/internal/config"
)

// Client wraps the MQTT connection. One subscription feeds the intake
// queue; publications are QoS 1 with the retained flag so late joiners see
// the last state per event.
type Client struct {
	conn       mqtt.Client
	log        zerolog.Logger
	maxRetries int

	mu       sync.Mutex
	subTopic string
	handler  func(payload []byte)
}

const (
	publishQoS     = 1
	publishTimeout = 10 * time.Second
	connectTimeout = 15 * time.Second
)

func New(cfg config.BusConfig, log zerolog.Logger) *Client {
	c := &Client{log: log, maxRetries: 3}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetKeepAlive(120 * time.Second).
		SetOrderMatters(true)

	opts.SetOnConnectHandler(func(mc mqtt.Client) {
		log.Info().Str("broker", cfg.Host).Msg("bus connected")
		c.resubscribe()
	})
	opts.SetConnectionLostHandler(func(mc mqtt.Client, err error) {
		log.Warn().Err(err).Msg("bus connection lost, reconnecting")
	})

	c.conn = mqtt.NewClient(opts)
	return c
}

// Connect blocks until the first connection is up or the timeout elapses.
func (c *Client) Connect() error {
	tok := c.conn.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return fmt.Errorf("bus connect timed out after %s", connectTimeout)
	}
	return tok.Error()
}

// Subscribe registers the detection handler. The subscription is replayed
// by the OnConnect handler after every reconnect.
func (c *Client) Subscribe(topic string, handler func(payload []byte)) error {
	c.mu.Lock()
	c.subTopic = topic
	c.handler = handler
	c.mu.Unlock()

	return c.subscribe(topic, handler)
}

func (c *Client) subscribe(topic string, handler func(payload []byte)) error {
	tok := c.conn.Subscribe(topic, publishQoS, func(mc mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s timed out", topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.log.Info().Str("topic", topic).Msg("subscribed")
	return nil
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	topic, handler := c.subTopic, c.handler
	c.mu.Unlock()
	if topic == "" || handler == nil {
		return
	}
	if err := c.subscribe(topic, handler); err != nil {
		c.log.Error().Err(err).Msg("resubscribe failed")
	}
}

// Publish sends one retained QoS-1 message, retrying with a short backoff.
func (c *Client) Publish(topic string, payload []byte) error {
	var err error
	for i := 0; i <= c.maxRetries; i++ {
		tok := c.conn.Publish(topic, publishQoS, true, payload)
		if tok.WaitTimeout(publishTimeout) && tok.Error() == nil {
			return nil
		}
		err = tok.Error()
		if err == nil {
			err = fmt.Errorf("publish timed out")
		}

		// Backoff
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("publish to %s failed after %d retries: %w", topic, c.maxRetries, err)
}

// Close flushes in-flight QoS-1 publications before disconnecting.
func (c *Client) Close(grace time.Duration) {
	c.conn.Disconnect(uint(grace / time.Millisecond))
}

// Connected reports broker liveness for the operational API.
func (c *Client) Connected() bool {
	return c.conn.IsConnectionOpen()
}
