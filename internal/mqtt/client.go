package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/anaghasid/CacheSim/internal/config"
)

// Client wraps the paho MQTT client for the simulator's telemetry stream.
type Client struct {
	client   mqtt.Client
	deviceID string
	logger   *logrus.Logger
}

// schemes maps each accepted URL scheme onto the prefix paho expects and
// whether the connection needs a TLS config.
var schemes = map[string]struct {
	pahoScheme string
	useTLS     bool
}{
	"ws":    {"ws", false},
	"wss":   {"wss", true},
	"mqtt":  {"tcp", false},
	"mqtts": {"ssl", true},
}

// brokerURL rewrites rawURL for paho and reports whether TLS applies.
func brokerURL(rawURL, scheme string) (string, bool, error) {
	s, ok := schemes[scheme]
	if !ok {
		return "", false, fmt.Errorf("unsupported protocol scheme: %s (supported: ws, wss, mqtt, mqtts)", scheme)
	}
	return s.pahoScheme + strings.TrimPrefix(rawURL, scheme), s.useTLS, nil
}

// NewClient creates a connected MQTT client. Both WebSocket and standard
// MQTT URL schemes are supported.
func NewClient(mqttURL, deviceID string, logger *logrus.Logger) (*Client, error) {
	parsedURL, err := url.Parse(mqttURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MQTT URL: %w", err)
	}

	broker, useTLS, err := brokerURL(mqttURL, parsedURL.Scheme)
	if err != nil {
		return nil, err
	}

	clientID := fmt.Sprintf("cachesim-%s", deviceID)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	if useTLS {
		// Allow self-signed broker certificates
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetMaxReconnectInterval(10 * time.Second)

	if parsedURL.User != nil {
		username := parsedURL.User.Username()
		password, _ := parsedURL.User.Password()
		opts.SetUsername(username)
		opts.SetPassword(password)
	}

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.WithFields(logrus.Fields{
		"broker":    cleanURL(mqttURL),
		"protocol":  parsedURL.Scheme,
		"client_id": clientID,
	}).Info("MQTT client connected")

	return &Client{
		client:   client,
		deviceID: deviceID,
		logger:   logger,
	}, nil
}

// Publish publishes a message to the specified topic.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	qos := byte(1) // At least once delivery
	token := c.client.Publish(topic, qos, retained, payload)

	// Wait for completion with a timeout rather than indefinitely.
	if !token.WaitTimeout(config.PublishTimeout) {
		return fmt.Errorf("publish to topic %s timed out after %s", topic, config.PublishTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	c.logger.WithFields(logrus.Fields{
		"topic": topic,
		"size":  len(payload),
	}).Debug("Published MQTT message")

	return nil
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Disconnect disconnects the client.
func (c *Client) Disconnect(quiesce uint) {
	c.client.Disconnect(quiesce)
	c.logger.Debug("MQTT client disconnected")
}

// EventTopic returns the topic observation records are published to.
func (c *Client) EventTopic() string {
	return fmt.Sprintf("cachesim/%s/events", c.deviceID)
}

// cleanURL removes credentials from URL for logging.
func cleanURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if parsed.User != nil {
		parsed.User = url.UserPassword("***", "***")
	}
	return parsed.String()
}
