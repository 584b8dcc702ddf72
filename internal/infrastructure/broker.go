// services/gateway/internal/infrastructure/broker.go
package infrastructure

import (
	"fmt"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/gateway/config"
)

// Broker wraps the embedded mochi-mqtt server. The gateway consumes it as a
// black box: frame parsing, session persistence and retained delivery are
// the engine's concern; the gateway only attaches hooks and publishes
// through the inline client.
type Broker struct {
	server *mqtt.Server
	addr   string
	logger *logrus.Logger
}

// NewBroker creates the broker engine. The inline client is enabled so the
// gateway can publish feedback and relayed commands without a session.
func NewBroker(cfg config.MQTTConfig, logger *logrus.Logger) *Broker {
	return &Broker{
		server: mqtt.New(&mqtt.Options{InlineClient: true}),
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		logger: logger,
	}
}

// AddHook attaches a hook to the broker engine.
func (b *Broker) AddHook(hook mqtt.Hook, hookCfg any) error {
	return b.server.AddHook(hook, hookCfg)
}

// Start binds the TCP listener and serves connections in the background.
// A bind failure (port already in use) is returned immediately and is fatal
// to the caller; later engine faults arrive on the returned channel.
func (b *Broker) Start() (<-chan error, error) {
	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: b.addr})
	if err := b.server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("failed to bind MQTT listener on %s: %w", b.addr, err)
	}

	fatal := make(chan error, 1)
	go func() {
		if err := b.server.Serve(); err != nil {
			fatal <- err
		}
	}()

	b.logger.WithField("addr", b.addr).Info("MQTT Gateway initialized")
	return fatal, nil
}

// Publish sends a message through the inline client.
func (b *Broker) Publish(topic string, payload []byte, retain bool, qos byte) error {
	return b.server.Publish(topic, payload, retain, qos)
}

// Close stops accepting connections, lets in-flight deliveries finish and
// closes existing sessions.
func (b *Broker) Close() error {
	return b.server.Close()
}
