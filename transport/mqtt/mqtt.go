// Package mqtt carries sensor network messages over an MQTT broker.
//
// Each network uses two topics. Leaves publish on the uplink topic
// "{prefix}/{networkID}/up" and gateways publish on the downlink topic
// "{prefix}/{networkID}/down". A transport subscribes only to the direction
// it does not publish on, so an MQTT 3.1.1 broker never hands a client its
// own messages back. Payloads are the raw message bytes.
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/kabili207/sensornet-go/core/codec"
	"github.com/kabili207/sensornet-go/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultTopicPrefix is the default MQTT topic prefix.
	DefaultTopicPrefix = "sensornet"

	uplinkSuffix   = "up"
	downlinkSuffix = "down"
)

// Role selects which side of the network a transport speaks for.
type Role int

const (
	// RoleGateway subscribes to uplink and publishes downlink.
	RoleGateway Role = iota
	// RoleLeaf subscribes to downlink and publishes uplink.
	RoleLeaf
)

func (r Role) String() string {
	switch r {
	case RoleGateway:
		return "gateway"
	case RoleLeaf:
		return "leaf"
	default:
		return "unknown"
	}
}

// Config holds the configuration for an MQTT transport.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, one is generated
	// from the role and a random UUID.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "sensornet").
	TopicPrefix string
	// NetworkID identifies the sensor network (e.g., "greenhouse").
	NetworkID string
	// Role decides the publish and subscribe directions. Default: gateway.
	Role Role
	// QoS is used for both publishing and subscribing. Must be 0, 1 or 2.
	QoS byte
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over MQTT.
type Transport struct {
	cfg            Config
	client         paho.Client
	log            *slog.Logger
	mu             sync.RWMutex
	connected      bool
	messageHandler transport.MessageHandler
	stateHandler   transport.StateHandler
}

// New creates a new MQTT transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("mqtt").With("role", cfg.Role),
	}
}

// UplinkTopic is the topic leaves publish on.
func (t *Transport) UplinkTopic() string {
	return t.cfg.TopicPrefix + "/" + t.cfg.NetworkID + "/" + uplinkSuffix
}

// DownlinkTopic is the topic gateways publish on.
func (t *Transport) DownlinkTopic() string {
	return t.cfg.TopicPrefix + "/" + t.cfg.NetworkID + "/" + downlinkSuffix
}

func (t *Transport) publishTopic() string {
	if t.cfg.Role == RoleLeaf {
		return t.UplinkTopic()
	}
	return t.DownlinkTopic()
}

func (t *Transport) subscribeTopic() string {
	if t.cfg.Role == RoleLeaf {
		return t.DownlinkTopic()
	}
	return t.UplinkTopic()
}

// Start connects to the MQTT broker and begins listening for messages.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}
	if t.cfg.NetworkID == "" {
		return errors.New("network ID is required")
	}
	if t.cfg.Role != RoleGateway && t.cfg.Role != RoleLeaf {
		return fmt.Errorf("unknown role %d", t.cfg.Role)
	}
	if t.cfg.QoS > 2 {
		return fmt.Errorf("invalid QoS %d", t.cfg.QoS)
	}

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = "sensornet-" + t.cfg.Role.String() + "-" + uuid.NewString()[:8]
	}

	opts := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(t.onConnected).
		SetConnectionLostHandler(t.onConnectionLost).
		SetReconnectingHandler(t.onReconnecting)

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}
	if t.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	client := paho.NewClient(opts)
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return errors.New("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}

	return nil
}

// Stop gracefully disconnects from the MQTT broker.
func (t *Transport) Stop() error {
	t.mu.Lock()
	client := t.client
	t.connected = false
	t.mu.Unlock()

	if client != nil {
		client.Unsubscribe(t.subscribeTopic()).WaitTimeout(time.Second)
		client.Disconnect(1000)
	}
	return nil
}

// IsConnected returns true if the transport is connected to the broker.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && t.client != nil && t.client.IsConnected()
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

// SendMessage publishes a message in this transport's direction.
func (t *Transport) SendMessage(data []byte) error {
	if err := t.checkOutgoing(data); err != nil {
		return err
	}
	if !t.IsConnected() {
		return errors.New("not connected")
	}

	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()

	token := client.Publish(t.publishTopic(), t.cfg.QoS, false, data)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("timeout publishing to MQTT")
	}
	return token.Error()
}

// checkOutgoing rejects messages that cannot travel in this transport's
// direction.
func (t *Transport) checkOutgoing(data []byte) error {
	if len(data) == 0 || len(data) > codec.MaxMessageLen {
		return fmt.Errorf("message length %d out of range", len(data))
	}
	if !allowedFrom(codec.GetMessageType(data), t.cfg.Role) {
		return fmt.Errorf("%s cannot send %s", t.cfg.Role, codec.GetMessageType(data))
	}
	return nil
}

// allowedFrom reports whether a message of type mt may originate from a
// sender in role from. Responses come only from gateways, requests and
// telemetry only from leaves. Text flows both ways.
func allowedFrom(mt codec.MessageType, from Role) bool {
	switch mt {
	case codec.TypeJoinResponse, codec.TypeTimeResponse:
		return from == RoleGateway
	case codec.TypeJoinRequest, codec.TypeTimeRequest, codec.TypeDataMessage:
		return from == RoleLeaf
	default:
		return true
	}
}

// peer is the role of the clients this transport hears from.
func (t *Transport) peer() Role {
	if t.cfg.Role == RoleLeaf {
		return RoleGateway
	}
	return RoleLeaf
}

func (t *Transport) subscribe(client paho.Client) {
	topic := t.subscribeTopic()
	token := client.Subscribe(topic, t.cfg.QoS, t.handleMessage)
	go func() {
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			t.log.Error("subscribe failed", "topic", topic, "error", token.Error())
			return
		}
		t.log.Debug("subscribed", "topic", topic)
	}()
}

func (t *Transport) handleMessage(_ paho.Client, message paho.Message) {
	if message.Topic() != t.subscribeTopic() {
		t.log.Debug("ignoring message on unexpected topic", "topic", message.Topic())
		return
	}

	t.mu.RLock()
	handler := t.messageHandler
	t.mu.RUnlock()

	if handler == nil {
		return
	}

	payload := message.Payload()
	if len(payload) == 0 || len(payload) > codec.MaxMessageLen {
		t.log.Debug("dropping payload with bad length", "len", len(payload))
		return
	}
	if mt := codec.GetMessageType(payload); !allowedFrom(mt, t.peer()) {
		t.log.Debug("dropping message sent in the wrong direction", "type", mt)
		return
	}

	data := make([]byte, len(payload))
	copy(data, payload)
	handler(data, transport.SourceMQTT)
}

func (t *Transport) onConnected(client paho.Client) {
	t.mu.Lock()
	t.connected = true
	handler := t.stateHandler
	t.mu.Unlock()

	t.subscribe(client)
	t.log.Info("connected to MQTT broker", "broker", t.cfg.Broker)

	if handler != nil {
		handler(t, transport.EventConnected)
	}
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	t.log.Error("MQTT connection lost", "error", err)

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}

func (t *Transport) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	t.mu.RLock()
	handler := t.stateHandler
	t.mu.RUnlock()

	t.log.Info("reconnecting to MQTT broker")

	if handler != nil {
		handler(t, transport.EventReconnecting)
	}
}
