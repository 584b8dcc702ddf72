// services/gateway/internal/infrastructure/hook.go
package infrastructure

import (
	"bytes"
	"context"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/gateway/internal/core"
)

// Per-callback budget for backend calls made from broker hooks.
const hookCallTimeout = 30 * time.Second

// GatewayHook bridges the broker engine's callbacks into the gateway core:
// authentication, topic authorization, forward filtering, message routing,
// lifecycle notification and command delivery acknowledgment.
type GatewayHook struct {
	mqtt.HookBase
	gateway *core.Gateway
	backend core.Backend
	logger  *logrus.Logger
}

// NewGatewayHook creates the broker hook.
func NewGatewayHook(gateway *core.Gateway, backend core.Backend, logger *logrus.Logger) *GatewayHook {
	return &GatewayHook{
		gateway: gateway,
		backend: backend,
		logger:  logger,
	}
}

// ID returns the hook identifier.
func (h *GatewayHook) ID() string {
	return "gateway"
}

// Provides indicates which hook methods this hook implements.
func (h *GatewayHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
		mqtt.OnSelectSubscribers,
		mqtt.OnPublished,
		mqtt.OnSessionEstablished,
		mqtt.OnDisconnect,
		mqtt.OnQosComplete,
	}, []byte{b})
}

// OnConnectAuthenticate checks the static connection credentials before any
// topic-level authorization runs.
func (h *GatewayHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	ctx, cancel := h.callContext()
	defer cancel()
	return h.gateway.Authorizer.Authenticate(ctx, cl.ID, string(pk.Connect.Username), string(pk.Connect.Password))
}

// OnACLCheck authorizes publish (write) and subscribe (read) operations.
func (h *GatewayHook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	ctx, cancel := h.callContext()
	defer cancel()
	if write {
		return h.gateway.Authorizer.AuthorizePublish(ctx, cl.ID, topic)
	}
	return h.gateway.Authorizer.AuthorizeSubscribe(ctx, cl.ID, topic)
}

// OnSelectSubscribers drops subscribers that are not registered devices;
// forwarding is strictly gated on registration.
func (h *GatewayHook) OnSelectSubscribers(subs *mqtt.Subscribers, pk packets.Packet) *mqtt.Subscribers {
	ctx, cancel := h.callContext()
	defer cancel()
	for clientID := range subs.Subscriptions {
		if !h.gateway.Authorizer.AuthorizeForward(ctx, clientID) {
			delete(subs.Subscriptions, clientID)
		}
	}
	return subs
}

// OnPublished routes each client publish once the engine has accepted it.
// Inline publishes (feedback, relayed commands) are not routed again.
func (h *GatewayHook) OnPublished(cl *mqtt.Client, pk packets.Packet) {
	if cl == nil || cl.Net.Inline {
		return
	}
	ctx, cancel := h.callContext()
	defer cancel()
	h.gateway.Router.Route(ctx, core.InboundEnvelope{
		Topic:    pk.TopicName,
		Payload:  pk.Payload,
		SenderID: cl.ID,
		QoS:      pk.FixedHeader.Qos,
		Retain:   pk.FixedHeader.Retain,
	})
}

// OnSessionEstablished reports a device connection to the backend. Purely
// observational; it never denies the connection.
func (h *GatewayHook) OnSessionEstablished(cl *mqtt.Client, pk packets.Packet) {
	ctx, cancel := h.callContext()
	defer cancel()
	h.logger.WithField("device", cl.ID).Info("MQTT Gateway Device Connection received")
	if err := h.backend.NotifyConnection(ctx, cl.ID); err != nil {
		h.logger.WithError(err).WithField("device", cl.ID).Warn("Failed to notify device connection")
	}
}

// OnDisconnect reports a device disconnection to the backend.
func (h *GatewayHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	ctx, cancel := h.callContext()
	defer cancel()
	h.logger.WithField("device", cl.ID).Info("MQTT Gateway Device Disconnection received")
	if nerr := h.backend.NotifyDisconnection(ctx, cl.ID); nerr != nil {
		h.logger.WithError(nerr).WithField("device", cl.ID).Warn("Failed to notify device disconnection")
	}
}

// OnQosComplete fires when the engine finishes the QoS handshake for a
// delivered message. Relayed commands always target the device's own topic,
// but so does router feedback; the relay matches the delivered payload
// against its in-flight commands before treating this as an acknowledgment.
func (h *GatewayHook) OnQosComplete(cl *mqtt.Client, pk packets.Packet) {
	if cl == nil || pk.TopicName != cl.ID {
		return
	}
	ctx, cancel := h.callContext()
	defer cancel()
	h.gateway.Relay.Acknowledge(ctx, cl.ID, pk.Payload)
}

func (h *GatewayHook) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), hookCallTimeout)
}
