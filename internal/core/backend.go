// services/gateway/internal/core/backend.go
package core

import "context"

// Backend is the outbound surface of the integration bus. Implementations
// deliver each call to the platform; the gateway never depends on a specific
// transport.
type Backend interface {
	NotifyConnection(ctx context.Context, deviceID string) error
	NotifyDisconnection(ctx context.Context, deviceID string) error
	ProcessData(ctx context.Context, deviceID string, payload []byte) error
	SendMessageToDevice(ctx context.Context, target string, payload []byte) error
	SendMessageToGroup(ctx context.Context, group string, payload []byte) error
	SendCommandResponse(ctx context.Context, commandID, status string) error
	Log(ctx context.Context, record interface{}) error
	LogException(ctx context.Context, err error) error
}

// EventKind identifies an inbound backend event.
type EventKind string

// Inbound backend events.
const (
	EventReady        EventKind = "ready"
	EventAddDevice    EventKind = "adddevice"
	EventRemoveDevice EventKind = "removedevice"
	EventCommand      EventKind = "command"
	EventClose        EventKind = "close"
)

// Event is one typed inbound backend event.
type Event struct {
	Kind    EventKind
	Devices []DeviceRecord  // ready: registered device snapshot
	Device  *DeviceRecord   // adddevice / removedevice
	Command *CommandRequest // command
}

// DeviceInfoProvider answers device lookups by id. Implementations must
// honor the context deadline; a missing device is ErrDeviceNotFound.
type DeviceInfoProvider interface {
	DeviceInfo(ctx context.Context, deviceID string) (*DeviceRecord, error)
}

// GroupDirectory resolves a device group into its member device ids.
type GroupDirectory interface {
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
}

// Publisher publishes a message through the broker engine.
type Publisher interface {
	Publish(topic string, payload []byte, retain bool, qos byte) error
}

// SnapshotMirror persists device records outside process memory so restarts
// and sibling gateway instances share one snapshot.
type SnapshotMirror interface {
	Store(ctx context.Context, rec DeviceRecord) error
	Remove(ctx context.Context, deviceID string) error
	Load(ctx context.Context, deviceID string) (*DeviceRecord, error)
}
