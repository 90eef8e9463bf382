// Package feed implements the MQTT subscriber that carries antenna tag
// reads into the pipeline.
//
// Each reader station publishes to its own topic under a shared prefix:
//
//	warehouse/antenna/{group}
//	Example: warehouse/antenna/EntradaPT
//
// Payloads are either bracketed text lines or structured JSON; the feed
// does not interpret them, it hands raw bytes to the normalizer.
//
// Features:
//   - MQTT auto-reconnect with 1-minute max interval
//   - Resubscription on every (re)connect, so a broker restart cannot
//     silently detach a station
//   - Supervised initial connect with exponential backoff: a broker that
//     is down at startup does not fail the process
//   - Buffered raw-message channel (1000 messages) with non-blocking
//     sends and drop accounting
package feed

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// RawMessage is one payload received from a station topic, untouched.
type RawMessage struct {
	Payload    []byte
	Topic      string
	ReceivedAt time.Time
}

// Client subscribes one station group on the broker and forwards raw
// payloads. The paho library runs callbacks on its own goroutines; the
// output channel is buffered and sends never block.
type Client struct {
	broker string
	port   int
	topic  string // full topic: prefix/group
	group  string

	client       mqtt.Client
	messages     chan RawMessage
	dropped      atomic.Uint64
	faultHandler func(error)

	shutdown chan struct{}
	stopOnce sync.Once
}

// NewClient creates a subscriber for one station group. The topic is
// prefix/group; buffer sizes the output channel (1000 when <= 0).
func NewClient(broker string, port int, prefix, group string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 1000
	}
	return &Client{
		broker:   broker,
		port:     port,
		topic:    prefix + "/" + group,
		group:    group,
		messages: make(chan RawMessage, buffer),
		shutdown: make(chan struct{}),
	}
}

// Topic returns the full subscription topic.
func (c *Client) Topic() string {
	return c.topic
}

// Messages returns the raw payload channel.
func (c *Client) Messages() <-chan RawMessage {
	return c.messages
}

// Dropped returns how many payloads were discarded on a full channel.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// SetFaultHandler registers a callback for connectivity faults: failed
// connect attempts and lost connections. Must be set before Start.
func (c *Client) SetFaultHandler(handler func(error)) {
	c.faultHandler = handler
}

func (c *Client) fault(err error) {
	if c.faultHandler != nil && err != nil {
		c.faultHandler(err)
	}
}

// Start brings the subscription up. It never returns an error: the
// initial connect runs under a supervisor goroutine that retries with
// exponential backoff, and once connected the paho auto-reconnect takes
// over. Subscription happens inside the on-connect handler so a rejoin
// follows every reconnect.
func (c *Client) Start() {
	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", c.broker, c.port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("tagtrack-%s-%d", c.group, time.Now().UnixNano()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqtt.NewClient(opts)

	go c.supervise(brokerURL)
}

// supervise drives the initial connect. Paho only auto-reconnects after
// a first successful connection, so startup failures are retried here.
func (c *Client) supervise(brokerURL string) {
	retry := newBackoff(2*time.Second, time.Minute)
	for {
		select {
		case <-c.shutdown:
			return
		default:
		}

		log.Printf("Feed[%s]: connecting to broker at %s", c.group, brokerURL)
		token := c.client.Connect()
		if token.Wait() && token.Error() == nil {
			// Stop may have run while the handshake was in flight; its
			// Disconnect can be a no-op against a half-open client, so the
			// late connect is torn down here.
			select {
			case <-c.shutdown:
				c.client.Disconnect(250)
			default:
			}
			return // auto-reconnect owns the connection from here
		}

		delay := retry.Next()
		log.Printf("Feed[%s]: connect failed: %v (retrying in %s)", c.group, token.Error(), delay)
		c.fault(token.Error())
		select {
		case <-c.shutdown:
			return
		case <-time.After(delay):
		}
	}
}

// onConnect runs on every connect, including reconnects after a broker
// restart, so the group subscription always comes back.
func (c *Client) onConnect(client mqtt.Client) {
	token := client.Subscribe(c.topic, 0, c.messageHandler)
	if token.Wait() && token.Error() != nil {
		log.Printf("Feed[%s]: subscribe to %s failed: %v", c.group, c.topic, token.Error())
		return
	}
	log.Printf("Feed[%s]: subscribed to %s", c.group, c.topic)
}

func (c *Client) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("Feed[%s]: connection lost: %v, reconnecting", c.group, err)
	c.fault(err)
}

// messageHandler forwards one raw payload. The payload is copied because
// paho reuses its receive buffers.
func (c *Client) messageHandler(client mqtt.Client, msg mqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	raw := RawMessage{
		Payload:    payload,
		Topic:      msg.Topic(),
		ReceivedAt: time.Now().UTC(),
	}
	select {
	case c.messages <- raw:
	default:
		if n := c.dropped.Add(1); n == 1 || n%1000 == 0 {
			log.Printf("Feed[%s]: message channel full, dropped %d payloads", c.group, n)
		}
	}
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Stop leaves the group and disconnects. Safe to call more than once and
// safe before the connection ever came up.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.shutdown)
		if c.client != nil {
			if c.client.IsConnected() {
				c.client.Unsubscribe(c.topic)
			}
			// Unconditional: a connect may still be in flight, and the
			// supervisor handles the handshake that lands after this.
			c.client.Disconnect(250)
		}
		log.Printf("Feed[%s]: stopped", c.group)
	})
}
