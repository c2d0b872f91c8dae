// Package mqtt provides a transport.Link that reaches a flight controller
// through an MQTT serial bridge.
//
// The bridge (typically an ESP32 wired to a spare UART) publishes every byte
// it reads from the flight controller to "{prefix}/{deviceID}/rx" and writes
// every message received on "{prefix}/{deviceID}/tx" to the UART. Messages
// carry raw MSP bytes with no additional framing.
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/kabili207/inav-msp-go/transport"
)

// Compile-time interface check.
var _ transport.Link = (*Link)(nil)

const (
	// DefaultTopicPrefix is the default MQTT topic prefix for bridged links.
	DefaultTopicPrefix = "msp"

	// DefaultReadTimeout bounds each Read call.
	DefaultReadTimeout = 10 * time.Millisecond

	// DefaultWriteTimeout bounds each publish.
	DefaultWriteTimeout = time.Second

	// rxQueueSize is the number of inbound messages buffered before drops.
	rxQueueSize = 256
)

// Config holds the configuration for an MQTT link.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "msp").
	TopicPrefix string
	// DeviceID identifies the bridge (e.g., "quad-1").
	DeviceID string
	// ReadTimeout bounds each Read. Defaults to 10ms.
	ReadTimeout time.Duration
	// WriteTimeout bounds each publish. Defaults to 1s.
	WriteTimeout time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Link implements transport.Link over an MQTT serial bridge.
type Link struct {
	cfg    Config
	client paho.Client
	log    *slog.Logger

	rx      chan []byte
	pending []byte
	done    chan struct{}

	mu        sync.RWMutex
	connected bool
	closed    bool
	dropped   uint64
}

// New creates an MQTT link with the given configuration. Call Start to
// connect.
func New(cfg Config) *Link {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Link{
		cfg:  cfg,
		log:  cfg.Logger.WithGroup("mqtt"),
		rx:   make(chan []byte, rxQueueSize),
		done: make(chan struct{}),
	}
}

// Dial creates a link and connects it to the broker.
func Dial(ctx context.Context, cfg Config) (*Link, error) {
	l := New(cfg)
	if err := l.Start(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Start connects to the MQTT broker and subscribes to the bridge's rx topic.
func (l *Link) Start(ctx context.Context) error {
	if l.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}
	if l.cfg.DeviceID == "" {
		return errors.New("device ID is required")
	}

	clientID := l.cfg.ClientID
	if clientID == "" {
		clientID = "msp-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(l.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetOnConnectHandler(l.onConnected).
		SetConnectionLostHandler(l.onConnectionLost).
		SetReconnectingHandler(l.onReconnecting)

	if l.cfg.Username != "" {
		opts.SetUsername(l.cfg.Username)
	}
	if l.cfg.Password != "" {
		opts.SetPassword(l.cfg.Password)
	}
	if l.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	l.client = paho.NewClient(opts)

	token := l.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		l.client.Disconnect(0)
		return ctx.Err()
	case <-time.After(30 * time.Second):
		l.client.Disconnect(0)
		return errors.New("connection timeout")
	}
	if token.Error() != nil {
		l.client.Disconnect(0)
		return fmt.Errorf("connecting to broker: %w", token.Error())
	}

	return nil
}

// Read returns bytes published by the bridge. It waits at most ReadTimeout
// and returns transport.ErrTimeout if nothing arrived.
func (l *Link) Read(p []byte) (int, error) {
	if len(l.pending) > 0 {
		return l.drainPending(p), nil
	}

	timer := time.NewTimer(l.cfg.ReadTimeout)
	defer timer.Stop()

	select {
	case data := <-l.rx:
		l.pending = data
		return l.drainPending(p), nil
	case <-timer.C:
		return 0, transport.ErrTimeout
	case <-l.done:
		return 0, transport.ErrClosed
	}
}

func (l *Link) drainPending(p []byte) int {
	n := copy(p, l.pending)
	l.pending = l.pending[n:]
	return n
}

// Write publishes p to the bridge's tx topic. While the broker connection is
// down, or when the publish does not complete in time, the error wraps
// transport.ErrTimeout so the caller retries.
func (l *Link) Write(p []byte) (int, error) {
	l.mu.RLock()
	closed := l.closed
	connected := l.connected
	l.mu.RUnlock()

	if closed {
		return 0, transport.ErrClosed
	}
	if !connected || l.client == nil {
		return 0, fmt.Errorf("broker not connected: %w", transport.ErrTimeout)
	}

	buf := make([]byte, len(p))
	copy(buf, p)
	token := l.client.Publish(l.txTopic(), 0, false, buf)
	if !token.WaitTimeout(l.cfg.WriteTimeout) {
		return 0, fmt.Errorf("publishing to %s: %w", l.txTopic(), transport.ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return 0, fmt.Errorf("publishing to %s: %w", l.txTopic(), err)
	}
	return len(p), nil
}

// Close disconnects from the broker. Blocked reads return transport.ErrClosed.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.connected = false
	client := l.client
	l.mu.Unlock()

	close(l.done)
	if client != nil {
		client.Disconnect(1000)
	}
	return nil
}

// IsConnected returns true if the link is connected to the broker.
func (l *Link) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected && l.client != nil && l.client.IsConnected()
}

// Dropped returns the number of inbound messages discarded because the
// reader fell behind.
func (l *Link) Dropped() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dropped
}

func (l *Link) rxTopic() string {
	return l.cfg.TopicPrefix + "/" + l.cfg.DeviceID + "/rx"
}

func (l *Link) txTopic() string {
	return l.cfg.TopicPrefix + "/" + l.cfg.DeviceID + "/tx"
}

func (l *Link) subscribe() {
	topic := l.rxTopic()
	l.client.Subscribe(topic, 0, l.handleMessage)
	l.log.Debug("subscribed to bridge topic", "topic", topic)
}

func (l *Link) handleMessage(_ paho.Client, message paho.Message) {
	l.deliver(message.Payload())
}

// deliver queues bytes for Read. The paho callback must not block, so a
// full queue drops the message; the MSP layer recovers by resending.
func (l *Link) deliver(data []byte) {
	if len(data) == 0 {
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case l.rx <- buf:
	default:
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
		l.log.Warn("dropping bridged bytes, reader is behind", "bytes", len(buf))
	}
}

func (l *Link) onConnected(_ paho.Client) {
	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()

	l.subscribe()
	l.log.Info("connected to MQTT broker", "broker", l.cfg.Broker, "device", l.cfg.DeviceID)
}

func (l *Link) onConnectionLost(_ paho.Client, err error) {
	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()

	l.log.Error("MQTT connection lost", "error", err)
}

func (l *Link) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	l.log.Info("reconnecting to MQTT broker")
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}
