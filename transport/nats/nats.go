// Package nats provides a NATS transport for sensor network messages.
//
// Raw messages travel as binary payloads on "{prefix}.{networkID}.raw".
// The transport can also publish decoded records as JSON on sibling subjects
// so that downstream services need not understand the wire format.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/sensornet-go/transport"
	"github.com/nats-io/nats.go"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultSubjectPrefix is the default first subject token.
	DefaultSubjectPrefix = "sensornet"
	// DefaultReconnectWait is the delay between reconnect attempts.
	DefaultReconnectWait = 2 * time.Second
	// DefaultMaxReconnects is the number of reconnect attempts; -1 retries forever.
	DefaultMaxReconnects = -1
)

// Config holds the configuration for a NATS transport.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string
	// Name is the connection name reported to the server.
	Name string
	// SubjectPrefix is the first subject token (default: "sensornet").
	SubjectPrefix string
	// NetworkID identifies the sensor network (e.g., "greenhouse").
	NetworkID string
	// ReconnectWait is the delay between reconnect attempts.
	ReconnectWait time.Duration
	// MaxReconnects limits reconnect attempts. Zero means DefaultMaxReconnects.
	MaxReconnects int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over NATS.
type Transport struct {
	cfg            Config
	log            *slog.Logger
	mu             sync.RWMutex
	conn           *nats.Conn
	sub            *nats.Subscription
	messageHandler transport.MessageHandler
	stateHandler   transport.StateHandler
}

// New creates a new NATS transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = DefaultReconnectWait
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = DefaultMaxReconnects
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("nats"),
	}
}

// RawSubject is the subject raw messages are exchanged on.
func (t *Transport) RawSubject() string {
	return t.cfg.SubjectPrefix + "." + t.cfg.NetworkID + ".raw"
}

// TelemetrySubject is the subject decoded telemetry for a node is published on.
func (t *Transport) TelemetrySubject(node uint8) string {
	return fmt.Sprintf("%s.%s.telemetry.%d", t.cfg.SubjectPrefix, t.cfg.NetworkID, node)
}

// TextSubject is the subject decoded text messages for a node are published on.
func (t *Transport) TextSubject(node uint8) string {
	return fmt.Sprintf("%s.%s.text.%d", t.cfg.SubjectPrefix, t.cfg.NetworkID, node)
}

// Start connects to the NATS server and subscribes to the raw subject.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.URL == "" {
		return errors.New("NATS URL is required")
	}
	if t.cfg.NetworkID == "" {
		return errors.New("network ID is required")
	}

	opts := []nats.Option{
		nats.ReconnectWait(t.cfg.ReconnectWait),
		nats.MaxReconnects(t.cfg.MaxReconnects),
		// Our own publishes must not come back as received messages.
		nats.NoEcho(),
		nats.DisconnectErrHandler(t.onDisconnected),
		nats.ReconnectHandler(t.onReconnected),
	}
	if t.cfg.Name != "" {
		opts = append(opts, nats.Name(t.cfg.Name))
	}

	conn, err := nats.Connect(t.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}

	sub, err := conn.Subscribe(t.RawSubject(), t.handleMsg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("subscribing to %s: %w", t.RawSubject(), err)
	}

	t.mu.Lock()
	t.conn = conn
	t.sub = sub
	handler := t.stateHandler
	t.mu.Unlock()

	t.log.Info("connected to NATS", "url", t.cfg.URL, "subject", t.RawSubject())

	if handler != nil {
		handler(t, transport.EventConnected)
	}

	go func() {
		<-ctx.Done()
		t.Stop()
	}()

	return nil
}

// Stop drains the subscription and closes the connection.
func (t *Transport) Stop() error {
	t.mu.Lock()
	conn := t.conn
	sub := t.sub
	t.conn = nil
	t.sub = nil
	handler := t.stateHandler
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	conn.Close()

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
	return err
}

// IsConnected returns true if the connection to the server is up.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn != nil && t.conn.IsConnected()
}

// SetMessageHandler sets the callback for incoming messages.
func (t *Transport) SetMessageHandler(fn transport.MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = fn
}

// SetStateHandler sets the callback for transport state changes.
func (t *Transport) SetStateHandler(fn transport.StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandler = fn
}

// SendMessage publishes a raw message on the raw subject.
func (t *Transport) SendMessage(data []byte) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	if conn == nil {
		return errors.New("not connected")
	}
	if err := conn.Publish(t.RawSubject(), data); err != nil {
		return fmt.Errorf("publishing message: %w", err)
	}
	return nil
}

// PublishJSON publishes v encoded as JSON on subject.
func (t *Transport) PublishJSON(subject string, v any) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	if conn == nil {
		return errors.New("not connected")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", subject, err)
	}
	if err := conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publishing %s: %w", subject, err)
	}
	return nil
}

func (t *Transport) handleMsg(msg *nats.Msg) {
	t.mu.RLock()
	handler := t.messageHandler
	t.mu.RUnlock()

	if handler == nil || len(msg.Data) == 0 {
		return
	}

	data := make([]byte, len(msg.Data))
	copy(data, msg.Data)
	handler(data, transport.SourceNATS)
}

func (t *Transport) onDisconnected(_ *nats.Conn, err error) {
	t.mu.RLock()
	handler := t.stateHandler
	t.mu.RUnlock()

	if err != nil {
		t.log.Error("NATS connection lost", "error", err)
	}

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}

func (t *Transport) onReconnected(_ *nats.Conn) {
	t.mu.RLock()
	handler := t.stateHandler
	t.mu.RUnlock()

	t.log.Info("reconnected to NATS", "url", t.cfg.URL)

	if handler != nil {
		handler(t, transport.EventConnected)
	}
}
