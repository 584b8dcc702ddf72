// services/gateway/internal/infrastructure/messaging.go
package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/gateway/config"
	"example.com/backstage/services/gateway/internal/core"
)

// ServiceBusBackend implements core.Backend over the integration bus.
// Outbound calls become typed queue messages; inbound backend events arrive
// on a separate event queue and surface as a typed channel.
type ServiceBusBackend struct {
	client   *azservicebus.Client
	sender   *azservicebus.Sender
	receiver *azservicebus.Receiver
	logger   *logrus.Logger
}

// NewServiceBusBackend connects to the integration bus.
func NewServiceBusBackend(cfg config.ServiceBusConfig, logger *logrus.Logger) (*ServiceBusBackend, error) {
	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create service bus client: %w", err)
	}

	sender, err := client.NewSender(cfg.OutboundQueue, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create sender: %w", err)
	}

	receiver, err := client.NewReceiverForQueue(cfg.EventQueue, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create event receiver: %w", err)
	}

	return &ServiceBusBackend{
		client:   client,
		sender:   sender,
		receiver: receiver,
		logger:   logger,
	}, nil
}

func (m *ServiceBusBackend) send(ctx context.Context, kind string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", kind, err)
	}

	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"type":      kind,
			"timestamp": time.Now().Unix(),
		},
	}

	return m.sender.SendMessage(ctx, msg, nil)
}

// NotifyConnection reports a device connection.
func (m *ServiceBusBackend) NotifyConnection(ctx context.Context, deviceID string) error {
	return m.send(ctx, "notifyConnection", map[string]interface{}{"device": deviceID})
}

// NotifyDisconnection reports a device disconnection.
func (m *ServiceBusBackend) NotifyDisconnection(ctx context.Context, deviceID string) error {
	return m.send(ctx, "notifyDisconnection", map[string]interface{}{"device": deviceID})
}

// ProcessData forwards a validated telemetry payload verbatim.
func (m *ServiceBusBackend) ProcessData(ctx context.Context, deviceID string, payload []byte) error {
	return m.send(ctx, "processData", map[string]interface{}{
		"device": deviceID,
		"data":   json.RawMessage(payload),
	})
}

// SendMessageToDevice relays a device-to-device message.
func (m *ServiceBusBackend) SendMessageToDevice(ctx context.Context, target string, payload []byte) error {
	return m.send(ctx, "sendMessageToDevice", map[string]interface{}{
		"device":  target,
		"message": string(payload),
	})
}

// SendMessageToGroup relays a message addressed to a device group.
func (m *ServiceBusBackend) SendMessageToGroup(ctx context.Context, group string, payload []byte) error {
	return m.send(ctx, "sendMessageToGroup", map[string]interface{}{
		"deviceGroup": group,
		"message":     string(payload),
	})
}

// SendCommandResponse reports command delivery state.
func (m *ServiceBusBackend) SendCommandResponse(ctx context.Context, commandID, status string) error {
	return m.send(ctx, "sendCommandResponse", map[string]interface{}{
		"commandId": commandID,
		"status":    status,
	})
}

// Log forwards a structured log record.
func (m *ServiceBusBackend) Log(ctx context.Context, record interface{}) error {
	return m.send(ctx, "log", map[string]interface{}{"record": record})
}

// LogException forwards an exception record.
func (m *ServiceBusBackend) LogException(ctx context.Context, cause error) error {
	return m.send(ctx, "logException", map[string]interface{}{"error": cause.Error()})
}

// Events consumes the backend event queue until ctx is cancelled. Messages
// that cannot be decoded are dead-lettered.
func (m *ServiceBusBackend) Events(ctx context.Context) <-chan core.Event {
	out := make(chan core.Event)
	go func() {
		defer close(out)
		for {
			messages, err := m.receiver.ReceiveMessages(ctx, 10, nil)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				m.logger.WithError(err).Warn("Failed to receive backend events")
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}

			for _, msg := range messages {
				ev, err := decodeEvent(msg)
				if err != nil {
					m.logger.WithError(err).Warn("Discarding undecodable backend event")
					if dlErr := m.receiver.DeadLetterMessage(ctx, msg, nil); dlErr != nil {
						m.logger.WithError(dlErr).Warn("Failed to dead-letter backend event")
					}
					continue
				}

				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}

				if err := m.receiver.CompleteMessage(ctx, msg, nil); err != nil {
					m.logger.WithError(err).Warn("Failed to complete backend event")
				}
			}
		}
	}()
	return out
}

func decodeEvent(msg *azservicebus.ReceivedMessage) (core.Event, error) {
	kind, _ := msg.ApplicationProperties["type"].(string)
	if kind == "" {
		return core.Event{}, fmt.Errorf("backend event has no type property")
	}

	ev := core.Event{Kind: core.EventKind(kind)}
	switch ev.Kind {
	case core.EventReady:
		var body struct {
			Devices []core.DeviceRecord `json:"registeredDevices"`
		}
		if err := json.Unmarshal(msg.Body, &body); err != nil {
			return core.Event{}, fmt.Errorf("failed to decode ready event: %w", err)
		}
		ev.Devices = body.Devices
	case core.EventAddDevice, core.EventRemoveDevice:
		var rec core.DeviceRecord
		if err := json.Unmarshal(msg.Body, &rec); err != nil {
			return core.Event{}, fmt.Errorf("failed to decode %s event: %w", kind, err)
		}
		if rec.ID == "" {
			return core.Event{}, fmt.Errorf("%s event has no device id", kind)
		}
		ev.Device = &rec
	case core.EventCommand:
		var cmd core.CommandRequest
		if err := json.Unmarshal(msg.Body, &cmd); err != nil {
			return core.Event{}, fmt.Errorf("failed to decode command event: %w", err)
		}
		ev.Command = &cmd
	case core.EventClose:
		// No body.
	default:
		return core.Event{}, fmt.Errorf("unknown backend event type %q", kind)
	}
	return ev, nil
}

// Close shuts down the bus connections.
func (m *ServiceBusBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if m.receiver != nil {
		if err := m.receiver.Close(ctx); err != nil {
			return err
		}
	}
	if m.sender != nil {
		if err := m.sender.Close(ctx); err != nil {
			return err
		}
	}
	if m.client != nil {
		return m.client.Close(ctx)
	}
	return nil
}
