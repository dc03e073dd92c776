// Package mqtt publishes firings and entity state changes to an MQTT
// broker.
package mqtt

import (
	"context"
	"net/url"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/homeops/opswatch/internal/conf"
	"github.com/homeops/opswatch/internal/errors"
	"github.com/homeops/opswatch/internal/logger"
)

const (
	connectTimeout    = 10 * time.Second
	reconnectCooldown = 5 * time.Second
	disconnectQuiesce = 250 // ms
	maxReconnectDelay = 2 * time.Minute
)

// Client is a connection to one broker.
type Client interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Publish(ctx context.Context, topic, payload string) error
	PublishWithRetain(ctx context.Context, topic, payload string, retain bool) error
	Disconnect()
}

type client struct {
	cfg  conf.MQTTSettings
	log  logger.Logger
	opts *paho.ClientOptions

	mu          sync.Mutex
	paho        paho.Client
	lastConnect time.Time
}

// NewClient validates cfg and prepares a client. Call Connect before
// publishing.
func NewClient(cfg conf.MQTTSettings, log logger.Logger) (Client, error) {
	if cfg.Broker == "" {
		return nil, errors.Newf("mqtt broker is not configured").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Context("field", "mqtt.broker").
			Build()
	}
	u, err := url.Parse(cfg.Broker)
	if err != nil || u.Host == "" {
		return nil, errors.Newf("invalid mqtt broker url %q", cfg.Broker).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Context("field", "mqtt.broker").
			Build()
	}
	if cfg.ClientID == "" {
		host, _ := os.Hostname()
		cfg.ClientID = "opswatch-" + host
	}

	c := &client{cfg: cfg, log: log.Module("mqtt")}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(maxReconnectDelay)
	opts.SetOrderMatters(false)
	if cfg.TopicPrefix != "" {
		opts.SetWill(StatusTopic(cfg.TopicPrefix), StatusOffline, byte(cfg.QoS), true)
	}
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warn("mqtt connection lost", logger.String("broker", cfg.Broker), logger.Error(err))
	})
	c.opts = opts
	return c, nil
}

func (c *client) onConnect(pc paho.Client) {
	c.log.Info("mqtt connected", logger.String("broker", c.cfg.Broker))
	if c.cfg.TopicPrefix == "" {
		return
	}
	// Runs on paho's goroutine; do not wait on the token here.
	pc.Publish(StatusTopic(c.cfg.TopicPrefix), byte(c.cfg.QoS), true, StatusOnline)
}

// Connect dials the broker. Attempts closer together than the reconnect
// cooldown are rejected.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if since := time.Since(c.lastConnect); !c.lastConnect.IsZero() && since < reconnectCooldown {
		c.mu.Unlock()
		return errors.Newf("connection attempt too recent, wait %s", (reconnectCooldown - since).Round(time.Second)).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Build()
	}
	c.lastConnect = time.Now()
	if c.paho != nil && c.paho.IsConnected() {
		c.mu.Unlock()
		return nil
	}
	pc := paho.NewClient(c.opts)
	c.paho = pc
	c.mu.Unlock()

	if err := wait(ctx, pc.Connect()); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("broker", c.cfg.Broker).
			Build()
	}
	return nil
}

func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paho != nil && c.paho.IsConnected()
}

func (c *client) Publish(ctx context.Context, topic, payload string) error {
	return c.PublishWithRetain(ctx, topic, payload, c.cfg.Retain)
}

func (c *client) PublishWithRetain(ctx context.Context, topic, payload string, retain bool) error {
	c.mu.Lock()
	pc := c.paho
	c.mu.Unlock()

	if pc == nil || !pc.IsConnected() {
		return errors.Newf("mqtt client not connected").
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := wait(ctx, pc.Publish(topic, byte(c.cfg.QoS), retain, payload)); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}
	return nil
}

// Disconnect marks the engine offline and closes the connection.
func (c *client) Disconnect() {
	c.mu.Lock()
	pc := c.paho
	c.paho = nil
	c.mu.Unlock()

	if pc == nil || !pc.IsConnected() {
		return
	}
	if c.cfg.TopicPrefix != "" {
		pc.Publish(StatusTopic(c.cfg.TopicPrefix), byte(c.cfg.QoS), true, StatusOffline).WaitTimeout(time.Second)
	}
	pc.Disconnect(disconnectQuiesce)
	c.log.Info("mqtt disconnected", logger.String("broker", c.cfg.Broker))
}

// wait blocks until the token completes or ctx ends.
func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
