// services/gateway/internal/core/relay.go
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Delivery statuses reported back to the backend.
const (
	ResponseCommandSent         = "Command Sent"
	ResponseCommandAcknowledged = "Command Acknowledged"
)

// RelayConfig configures a Relay. Groups and Journal may be nil; without a
// group directory, group-addressed commands fail.
type RelayConfig struct {
	Publisher Publisher
	Backend   Backend
	Groups    GroupDirectory
	Journal   CommandStore
	QoS       byte
	Logger    *logrus.Logger
}

type pendingAck struct {
	commandID     string
	correlationID string
	payload       string
}

// Relay delivers backend-originated commands to device topics. A group
// target fans out into one independent delivery per member; offline devices
// are served by the broker's persistent-session queueing, so the relay's
// contract is "durably queued", not "instantly delivered".
type Relay struct {
	publisher Publisher
	backend   Backend
	groups    GroupDirectory
	journal   CommandStore
	qos       byte
	logger    *logrus.Logger

	// pending holds in-flight QoS handshakes per device, oldest first.
	mu      sync.Mutex
	pending map[string][]pendingAck
}

// NewRelay creates a command relay.
func NewRelay(cfg RelayConfig) *Relay {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Relay{
		publisher: cfg.Publisher,
		backend:   cfg.Backend,
		groups:    cfg.Groups,
		journal:   cfg.Journal,
		qos:       cfg.QoS,
		logger:    cfg.Logger,
		pending:   make(map[string][]pendingAck),
	}
}

// Deliver relays one backend command to its target device, or resolves the
// target group through the directory and fans out to every member. A failed
// delivery to one member never blocks the others.
func (rl *Relay) Deliver(ctx context.Context, req CommandRequest) error {
	if req.Group != "" {
		return rl.deliverGroup(ctx, req)
	}
	if req.Device == "" {
		return ErrNoCommandTarget
	}
	return rl.deliverOne(ctx, req.Device, "", req)
}

func (rl *Relay) deliverGroup(ctx context.Context, req CommandRequest) error {
	if rl.groups == nil {
		return fmt.Errorf("resolve group %s: %w", req.Group, ErrGroupNotFound)
	}

	members, err := rl.groups.GroupMembers(ctx, req.Group)
	if err != nil {
		rl.reportException(ctx, fmt.Errorf("resolve group %s: %w", req.Group, err))
		return fmt.Errorf("resolve group %s: %w", req.Group, err)
	}

	var failed int
	for _, deviceID := range members {
		if err := rl.deliverOne(ctx, deviceID, req.Group, req); err != nil {
			failed++
			rl.logger.WithError(err).WithFields(logrus.Fields{
				"group":  req.Group,
				"device": deviceID,
			}).Error("Command relay to group member failed")
		}
	}

	if failed == len(members) && len(members) > 0 {
		return fmt.Errorf("command relay to group %s failed for all %d members", req.Group, len(members))
	}
	return nil
}

func (rl *Relay) deliverOne(ctx context.Context, deviceID, groupID string, req CommandRequest) error {
	commandID := uuid.NewString()
	record := &CommandRecord{
		CommandID:     commandID,
		CorrelationID: req.CorrelationID,
		DeviceID:      deviceID,
		GroupID:       groupID,
		Payload:       string(req.Command),
		Status:        CommandStatusSent,
		SentAt:        time.Now().UTC(),
	}

	if err := rl.publisher.Publish(deviceID, req.Command, false, rl.qos); err != nil {
		record.Status = CommandStatusFailed
		record.FailureReason = err.Error()
		rl.journalCreate(ctx, record)
		rl.reportException(ctx, fmt.Errorf("publish command %s to device %s: %w", commandID, deviceID, err))
		return fmt.Errorf("publish command to device %s: %w", deviceID, err)
	}

	rl.journalCreate(ctx, record)
	if rl.qos > 0 {
		// QoS 0 publishes have no delivery handshake to wait for.
		rl.trackPending(deviceID, commandID, req.CorrelationID, string(req.Command))
	}

	if rl.backend != nil {
		if err := rl.backend.SendCommandResponse(ctx, req.CorrelationID, ResponseCommandSent); err != nil {
			rl.logger.WithError(err).WithField("commandId", req.CorrelationID).Warn("Failed to report command delivery")
		}
		if err := rl.backend.Log(ctx, map[string]interface{}{
			"title":     "Command Sent",
			"device":    deviceID,
			"commandId": commandID,
			"command":   string(req.Command),
		}); err != nil {
			rl.logger.WithError(err).Warn("Failed to send log record to backend")
		}
	}

	rl.logger.WithFields(logrus.Fields{
		"device":    deviceID,
		"commandId": commandID,
	}).Info("Command Sent")
	return nil
}

// Acknowledge resolves the oldest in-flight command whose payload matches
// the delivered message. The broker completes QoS handshakes for everything
// sent to a device's own topic, router feedback included, so a completion
// only counts as a command acknowledgment when it carries a payload the
// relay actually published. Commands to one device publish sequentially, so
// FIFO order holds among equal payloads.
func (rl *Relay) Acknowledge(ctx context.Context, deviceID string, payload []byte) {
	rl.mu.Lock()
	queue := rl.pending[deviceID]
	idx := -1
	for i, p := range queue {
		if p.payload == string(payload) {
			idx = i
			break
		}
	}
	if idx < 0 {
		rl.mu.Unlock()
		return
	}
	ack := queue[idx]
	queue = append(queue[:idx:idx], queue[idx+1:]...)
	if len(queue) == 0 {
		delete(rl.pending, deviceID)
	} else {
		rl.pending[deviceID] = queue
	}
	rl.mu.Unlock()

	if rl.journal != nil {
		if err := rl.journal.MarkAcknowledged(ctx, ack.commandID); err != nil {
			rl.logger.WithError(err).WithField("commandId", ack.commandID).Warn("Failed to mark command acknowledged")
		}
	}
	if rl.backend != nil {
		if err := rl.backend.SendCommandResponse(ctx, ack.correlationID, ResponseCommandAcknowledged); err != nil {
			rl.logger.WithError(err).WithField("commandId", ack.correlationID).Warn("Failed to report command acknowledgment")
		}
	}

	rl.logger.WithFields(logrus.Fields{
		"device":    deviceID,
		"commandId": ack.commandID,
	}).Info("Command Acknowledged")
}

// PendingCount returns the number of unacknowledged in-flight commands for
// a device.
func (rl *Relay) PendingCount(deviceID string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.pending[deviceID])
}

func (rl *Relay) trackPending(deviceID, commandID, correlationID, payload string) {
	rl.mu.Lock()
	rl.pending[deviceID] = append(rl.pending[deviceID], pendingAck{
		commandID:     commandID,
		correlationID: correlationID,
		payload:       payload,
	})
	rl.mu.Unlock()
}

func (rl *Relay) journalCreate(ctx context.Context, record *CommandRecord) {
	if rl.journal == nil {
		return
	}
	if err := rl.journal.Create(ctx, record); err != nil {
		rl.logger.WithError(err).WithField("commandId", record.CommandID).Warn("Failed to journal command")
	}
}

func (rl *Relay) reportException(ctx context.Context, cause error) {
	if rl.backend == nil {
		return
	}
	if err := rl.backend.LogException(ctx, cause); err != nil {
		rl.logger.WithError(err).Warn("Failed to report exception to backend")
	}
}
