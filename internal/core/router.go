// services/gateway/internal/core/router.go
package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Default payload field names for the command and group-message channels.
const (
	DefaultDeviceField  = "device"
	DefaultMessageField = "message"
	DefaultGroupField   = "deviceGroup"
)

// RouterConfig configures a Router. DeviceField, MessageField and
// GroupField override the payload schema field names.
type RouterConfig struct {
	Topics       *TopicSet
	Backend      Backend
	Publisher    Publisher
	QoS          byte
	DeviceField  string
	MessageField string
	GroupField   string
	Logger       *logrus.Logger
}

// Router classifies each published message by topic, validates its payload,
// invokes the matching backend call and publishes synchronous feedback to
// the sender's own topic. Topics outside the three configured channels are
// ignored.
type Router struct {
	topics       *TopicSet
	backend      Backend
	publisher    Publisher
	qos          byte
	deviceField  string
	messageField string
	groupField   string
	logger       *logrus.Logger
}

// NewRouter creates a message router.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.DeviceField == "" {
		cfg.DeviceField = DefaultDeviceField
	}
	if cfg.MessageField == "" {
		cfg.MessageField = DefaultMessageField
	}
	if cfg.GroupField == "" {
		cfg.GroupField = DefaultGroupField
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Router{
		topics:       cfg.Topics,
		backend:      cfg.Backend,
		publisher:    cfg.Publisher,
		qos:          cfg.QoS,
		deviceField:  cfg.DeviceField,
		messageField: cfg.MessageField,
		groupField:   cfg.GroupField,
		logger:       cfg.Logger,
	}
}

// Route dispatches one published message by topic equality.
func (r *Router) Route(ctx context.Context, env InboundEnvelope) {
	switch env.Topic {
	case r.topics.Data():
		r.routeData(ctx, env)
	case r.topics.Command():
		r.routeMessage(ctx, env, false)
	case r.topics.GroupMessage():
		r.routeMessage(ctx, env, true)
	}
}

// routeData forwards a telemetry payload to the backend's data ingest. The
// raw payload travels verbatim; parsing only validates shape.
func (r *Router) routeData(ctx context.Context, env InboundEnvelope) {
	raw := string(env.Payload)

	if _, err := parseObject(env.Payload); err != nil {
		feedback := fmt.Sprintf("Invalid data sent. Data must be a valid JSON String. Raw Message: %s\n", raw)
		r.feedback(env.SenderID, feedback, 0)
		r.logger.WithFields(logrus.Fields{
			"device": env.SenderID,
			"raw":    raw,
		}).Warn("Invalid data sent. Data must be a valid JSON String.")
		r.backendLog(ctx, fmt.Sprintf("Invalid data sent. Data must be a valid JSON String. Raw Message: %s", raw))
		return
	}

	if err := r.backend.ProcessData(ctx, env.SenderID, env.Payload); err != nil {
		r.logger.WithError(err).WithField("device", env.SenderID).Error("Failed to forward data to backend")
		r.backendLogException(ctx, err)
		return
	}

	r.feedback(env.SenderID, fmt.Sprintf("Data Received. Device ID: %s. Data: %s\n", env.SenderID, raw), 0)
	r.backendLog(ctx, map[string]interface{}{
		"title":  "MQTT Gateway - Data Received",
		"device": env.SenderID,
		"data":   json.RawMessage(env.Payload),
	})
	r.logger.WithField("device", env.SenderID).Info("MQTT Gateway - Data Received")
}

// routeMessage handles the command and group-message channels. Both require
// non-empty string target and message fields; only the target semantics and
// the backend call differ.
func (r *Router) routeMessage(ctx context.Context, env InboundEnvelope, group bool) {
	raw := string(env.Payload)
	targetField := r.deviceField
	if group {
		targetField = r.groupField
	}

	obj, err := parseObject(env.Payload)
	target := stringField(obj, targetField)
	message := stringField(obj, r.messageField)
	if err != nil || target == "" || message == "" {
		feedback := fmt.Sprintf("Invalid message or command. Message must be a valid JSON String with %q and %q fields. %q is the target. %q is the payload.\n",
			targetField, r.messageField, targetField, r.messageField)
		r.feedback(env.SenderID, feedback, 0)
		denial := fmt.Errorf("invalid message or command from %s: missing %q or %q field", env.SenderID, targetField, r.messageField)
		r.logger.WithFields(logrus.Fields{
			"device": env.SenderID,
			"raw":    raw,
		}).Warn("Invalid message or command")
		r.backendLogException(ctx, denial)
		return
	}

	if group {
		err = r.backend.SendMessageToGroup(ctx, target, []byte(message))
	} else {
		err = r.backend.SendMessageToDevice(ctx, target, []byte(message))
	}
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"source": env.SenderID,
			"target": target,
		}).Error("Failed to relay message to backend")
		r.backendLogException(ctx, err)
		return
	}

	r.feedback(env.SenderID, fmt.Sprintf("Message Received. Device ID: %s. Message: %s\n", env.SenderID, raw), r.qos)
	r.backendLog(ctx, map[string]interface{}{
		"title":   "MQTT Gateway - Message Received",
		"source":  env.SenderID,
		"target":  target,
		"message": json.RawMessage(env.Payload),
	})
	r.logger.WithFields(logrus.Fields{
		"source": env.SenderID,
		"target": target,
	}).Info("MQTT Gateway - Message Received")
}

// feedback publishes a plain-text message to the sender's own topic. Never
// broadcast, never retained.
func (r *Router) feedback(clientID, text string, qos byte) {
	if err := r.publisher.Publish(clientID, []byte(text), false, qos); err != nil {
		r.logger.WithError(err).WithField("client", clientID).Error("Failed to publish feedback")
	}
}

func (r *Router) backendLog(ctx context.Context, record interface{}) {
	if err := r.backend.Log(ctx, record); err != nil {
		r.logger.WithError(err).Warn("Failed to send log record to backend")
	}
}

func (r *Router) backendLogException(ctx context.Context, cause error) {
	if err := r.backend.LogException(ctx, cause); err != nil {
		r.logger.WithError(err).Warn("Failed to report exception to backend")
	}
}

// parseObject decodes a payload as a JSON object. Empty payloads, non-object
// values and empty objects all fail with ErrMalformedPayload.
func parseObject(payload []byte) (map[string]interface{}, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, ErrMalformedPayload
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(obj) == 0 {
		return nil, ErrMalformedPayload
	}
	return obj, nil
}

// stringField returns the named field if it is a non-empty string.
func stringField(obj map[string]interface{}, name string) string {
	if obj == nil {
		return ""
	}
	if value, ok := obj[name].(string); ok {
		return value
	}
	return ""
}
