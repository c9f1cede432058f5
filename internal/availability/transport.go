package availability

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/serviya/platform/pkg/logging"
)

// Transport abstracts the pub/sub bus. Tests inject an in-process fake; the
// real implementation rides paho MQTT.
type Transport interface {
	// Publish sends payload to topic, bounded by ctx.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers handler for topic and keeps the subscription
	// alive across reconnects until the process exits.
	Subscribe(topic string, handler func(payload []byte)) error
}

// MQTTConfig carries the broker connection settings.
type MQTTConfig struct {
	BrokerURL string
	Username  string
	Password  string
	QoS       byte
	ClientID  string
}

// MQTTTransport is the paho-backed Transport: one connection per process,
// mutex-guarded (re)connect, automatic resubscription.
type MQTTTransport struct {
	cfg    MQTTConfig
	logger *logging.Logger

	mu     sync.Mutex
	client mqtt.Client

	subMu sync.Mutex
	subs  map[string]func(payload []byte)
}

func NewMQTTTransport(cfg MQTTConfig, logger *logging.Logger) *MQTTTransport {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "serviya-broker-" + uuid.NewString()[:8]
	}
	return &MQTTTransport{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[string]func(payload []byte)),
	}
}

// connect lazily builds the shared client. Safe for concurrent callers.
func (t *MQTTTransport) connect() (mqtt.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil && t.client.IsConnectionOpen() {
		return t.client, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(t.cfg.BrokerURL).
		SetClientID(t.cfg.ClientID).
		SetUsername(t.cfg.Username).
		SetPassword(t.cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetOrderMatters(false).
		SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		t.resubscribe(client)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.logger.Warn("mqtt connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("availability: mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("availability: mqtt connect: %w", err)
	}

	t.client = client
	return client, nil
}

func (t *MQTTTransport) resubscribe(client mqtt.Client) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for topic, handler := range t.subs {
		h := handler
		token := client.Subscribe(topic, t.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			h(msg.Payload())
		})
		if token.WaitTimeout(10*time.Second) && token.Error() == nil {
			t.logger.Info("mqtt subscribed", "topic", topic)
		} else {
			t.logger.Warn("mqtt resubscribe failed", "topic", topic, "error", token.Error())
		}
	}
}

func (t *MQTTTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	client, err := t.connect()
	if err != nil {
		return err
	}

	token := client.Publish(topic, t.cfg.QoS, false, payload)
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-done:
		if err := token.Error(); err != nil {
			return fmt.Errorf("availability: mqtt publish: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("availability: mqtt publish: %w", ctx.Err())
	}
}

func (t *MQTTTransport) Subscribe(topic string, handler func(payload []byte)) error {
	t.subMu.Lock()
	t.subs[topic] = handler
	t.subMu.Unlock()

	client, err := t.connect()
	if err != nil {
		return err
	}

	token := client.Subscribe(topic, t.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("availability: mqtt subscribe timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("availability: mqtt subscribe: %w", err)
	}
	return nil
}

// Close disconnects the shared client.
func (t *MQTTTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		t.client.Disconnect(250)
		t.client = nil
	}
}
