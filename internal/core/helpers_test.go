// services/gateway/internal/core/helpers_test.go
package core

import (
	"context"
	"sync"
)

// fakeBackend records every outbound backend call.
type fakeBackend struct {
	mu sync.Mutex

	connections    []string
	disconnections []string
	data           []backendData
	deviceMessages []backendMessage
	groupMessages  []backendMessage
	responses      []commandResponse
	logs           []interface{}
	exceptions     []error

	processDataErr error
	sendMessageErr error
}

type backendData struct {
	deviceID string
	payload  string
}

type backendMessage struct {
	target  string
	payload string
}

type commandResponse struct {
	commandID string
	status    string
}

func (b *fakeBackend) NotifyConnection(_ context.Context, deviceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connections = append(b.connections, deviceID)
	return nil
}

func (b *fakeBackend) NotifyDisconnection(_ context.Context, deviceID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnections = append(b.disconnections, deviceID)
	return nil
}

func (b *fakeBackend) ProcessData(_ context.Context, deviceID string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.processDataErr != nil {
		return b.processDataErr
	}
	b.data = append(b.data, backendData{deviceID: deviceID, payload: string(payload)})
	return nil
}

func (b *fakeBackend) SendMessageToDevice(_ context.Context, target string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendMessageErr != nil {
		return b.sendMessageErr
	}
	b.deviceMessages = append(b.deviceMessages, backendMessage{target: target, payload: string(payload)})
	return nil
}

func (b *fakeBackend) SendMessageToGroup(_ context.Context, group string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendMessageErr != nil {
		return b.sendMessageErr
	}
	b.groupMessages = append(b.groupMessages, backendMessage{target: group, payload: string(payload)})
	return nil
}

func (b *fakeBackend) SendCommandResponse(_ context.Context, commandID, status string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses = append(b.responses, commandResponse{commandID: commandID, status: status})
	return nil
}

func (b *fakeBackend) Log(_ context.Context, record interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs = append(b.logs, record)
	return nil
}

func (b *fakeBackend) LogException(_ context.Context, err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exceptions = append(b.exceptions, err)
	return nil
}

// fakePublisher records broker publishes; failTopics force publish errors.
type fakePublisher struct {
	mu         sync.Mutex
	published  []publishedMessage
	failTopics map[string]error
}

type publishedMessage struct {
	topic   string
	payload string
	retain  bool
	qos     byte
}

func (p *fakePublisher) Publish(topic string, payload []byte, retain bool, qos byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.failTopics[topic]; ok {
		return err
	}
	p.published = append(p.published, publishedMessage{
		topic:   topic,
		payload: string(payload),
		retain:  retain,
		qos:     qos,
	})
	return nil
}

func (p *fakePublisher) toTopic(topic string) []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedMessage
	for _, msg := range p.published {
		if msg.topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// providerFunc adapts a function to DeviceInfoProvider.
type providerFunc func(ctx context.Context, deviceID string) (*DeviceRecord, error)

func (f providerFunc) DeviceInfo(ctx context.Context, deviceID string) (*DeviceRecord, error) {
	return f(ctx, deviceID)
}

// fakeGroups resolves groups from a static map.
type fakeGroups struct {
	members map[string][]string
}

func (g *fakeGroups) GroupMembers(_ context.Context, groupID string) ([]string, error) {
	members, ok := g.members[groupID]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return members, nil
}

// memoryJournal is an in-memory CommandStore.
type memoryJournal struct {
	mu      sync.Mutex
	records []*CommandRecord
}

func (j *memoryJournal) Create(_ context.Context, record *CommandRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	copied := *record
	j.records = append(j.records, &copied)
	return nil
}

func (j *memoryJournal) MarkAcknowledged(_ context.Context, commandID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, rec := range j.records {
		if rec.CommandID == commandID {
			rec.Status = CommandStatusAcknowledged
		}
	}
	return nil
}

func (j *memoryJournal) MarkRedelivered(_ context.Context, commandID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, rec := range j.records {
		if rec.CommandID == commandID {
			rec.Status = CommandStatusRedelivered
		}
	}
	return nil
}

func (j *memoryJournal) ListUnacknowledged(_ context.Context, limit int) ([]*CommandRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*CommandRecord
	for _, rec := range j.records {
		if rec.Status == CommandStatusSent {
			out = append(out, rec)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (j *memoryJournal) ListRecent(_ context.Context, limit int) ([]*CommandRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := append([]*CommandRecord(nil), j.records...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (j *memoryJournal) byStatus(status string) []*CommandRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*CommandRecord
	for _, rec := range j.records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out
}

// memoryMirror is an in-memory SnapshotMirror.
type memoryMirror struct {
	mu      sync.Mutex
	records map[string]DeviceRecord
}

func newMemoryMirror() *memoryMirror {
	return &memoryMirror{records: make(map[string]DeviceRecord)}
}

func (m *memoryMirror) Store(_ context.Context, rec DeviceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *memoryMirror) Remove(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, deviceID)
	return nil
}

func (m *memoryMirror) Load(_ context.Context, deviceID string) (*DeviceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[deviceID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}
