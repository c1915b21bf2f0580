package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/clawinfra/applytrack/internal/actions"
)

// MQTTClient is the subset of the paho client the beacon uses.
// Tests substitute their own implementation.
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// MQTTConfig configures the MQTT beacon.
type MQTTConfig struct {
	Broker   string
	Port     int
	ClientID string
	Username string
	Password string
	Topic    string
}

// beaconMessage is what lands on the broker for each flushed action.
type beaconMessage struct {
	ActionID string            `json:"actionId"`
	Kind     string            `json:"kind"`
	Method   string            `json:"method"`
	Endpoint string            `json:"endpoint"`
	Headers  map[string]string `json:"headers,omitempty"`
	Payload  map[string]any    `json:"payload,omitempty"`
	SentAt   time.Time         `json:"sentAt"`
}

// MQTTBeacon publishes actions at QoS 0 and never waits for the token.
type MQTTBeacon struct {
	cfg           MQTTConfig
	logger        *slog.Logger
	clientFactory func(opts *mqtt.ClientOptions) MQTTClient

	mu     sync.Mutex
	client MQTTClient
}

// NewMQTTBeacon creates a beacon backed by the paho client.
func NewMQTTBeacon(cfg MQTTConfig, logger *slog.Logger) *MQTTBeacon {
	return NewMQTTBeaconWithClient(cfg, logger, func(opts *mqtt.ClientOptions) MQTTClient {
		return mqtt.NewClient(opts)
	})
}

// NewMQTTBeaconWithClient is NewMQTTBeacon with a custom client factory.
func NewMQTTBeaconWithClient(cfg MQTTConfig, logger *slog.Logger, clientFactory func(*mqtt.ClientOptions) MQTTClient) *MQTTBeacon {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 1883
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "applytrack-beacon"
	}
	if cfg.Topic == "" {
		cfg.Topic = "applytrack/actions/beacon"
	}
	return &MQTTBeacon{
		cfg:           cfg,
		logger:        logger.With("component", "mqtt-beacon"),
		clientFactory: clientFactory,
	}
}

// Connect dials the broker. Call it at startup; teardown is too late to
// wait on a handshake.
func (m *MQTTBeacon) Connect() error {
	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", m.cfg.Broker, m.cfg.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(m.cfg.ClientID)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		m.logger.Warn("mqtt connection lost", "error", err)
	})

	client := m.clientFactory(opts)

	m.logger.Info("connecting to mqtt broker", "broker", brokerURL)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt: %w", err)
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()
	return nil
}

// Beacon publishes a without waiting for delivery.
func (m *MQTTBeacon) Beacon(a actions.Action) {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil || !client.IsConnected() {
		m.logger.Debug("mqtt beacon skipped, not connected", "action_id", a.ID)
		return
	}

	data, err := json.Marshal(beaconMessage{
		ActionID: a.ID,
		Kind:     a.Kind,
		Method:   a.Method,
		Endpoint: a.Endpoint,
		Headers:  a.Headers,
		Payload:  a.Payload,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return
	}
	client.Publish(m.cfg.Topic, 0, false, data)
}

// Close disconnects, giving queued publishes a short window to drain.
func (m *MQTTBeacon) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.Disconnect(250)
		m.client = nil
	}
	return nil
}

var _ Beacon = (*MQTTBeacon)(nil)
