// services/gateway/internal/core/router_test.go
package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(backend *fakeBackend, publisher *fakePublisher) *Router {
	return NewRouter(RouterConfig{
		Topics:    ResolveTopics(TopicConfig{}),
		Backend:   backend,
		Publisher: publisher,
		QoS:       1,
	})
}

func TestRouteDataForwardsOnce(t *testing.T) {
	backend := &fakeBackend{}
	publisher := &fakePublisher{}
	router := newTestRouter(backend, publisher)

	payload := `{"temperature": 21.5}`
	router.Route(context.Background(), InboundEnvelope{
		Topic:    "data",
		Payload:  []byte(payload),
		SenderID: "d1",
	})

	// Exactly one forward, payload verbatim.
	require.Len(t, backend.data, 1)
	assert.Equal(t, "d1", backend.data[0].deviceID)
	assert.Equal(t, payload, backend.data[0].payload)

	feedback := publisher.toTopic("d1")
	require.Len(t, feedback, 1)
	assert.Equal(t, "Data Received. Device ID: d1. Data: {\"temperature\": 21.5}\n", feedback[0].payload)
	assert.Equal(t, byte(0), feedback[0].qos)
	assert.False(t, feedback[0].retain)
}

func TestRouteDataRejectsInvalidJSON(t *testing.T) {
	backend := &fakeBackend{}
	publisher := &fakePublisher{}
	router := newTestRouter(backend, publisher)

	for _, payload := range []string{"not-json", "", "[]", "{}", `"string"`, "42"} {
		router.Route(context.Background(), InboundEnvelope{
			Topic:    "data",
			Payload:  []byte(payload),
			SenderID: "d1",
		})
	}

	// Nothing reaches the backend's data ingest.
	assert.Empty(t, backend.data)

	feedback := publisher.toTopic("d1")
	require.Len(t, feedback, 6)
	assert.Equal(t, "Invalid data sent. Data must be a valid JSON String. Raw Message: not-json\n", feedback[0].payload)
	assert.Equal(t, byte(0), feedback[0].qos)
}

func TestRouteCommandMessage(t *testing.T) {
	backend := &fakeBackend{}
	publisher := &fakePublisher{}
	router := newTestRouter(backend, publisher)

	payload := `{"device": "d2", "message": "turnoff"}`
	router.Route(context.Background(), InboundEnvelope{
		Topic:    "command",
		Payload:  []byte(payload),
		SenderID: "d1",
	})

	require.Len(t, backend.deviceMessages, 1)
	assert.Equal(t, "d2", backend.deviceMessages[0].target)
	assert.Equal(t, "turnoff", backend.deviceMessages[0].payload)

	feedback := publisher.toTopic("d1")
	require.Len(t, feedback, 1)
	assert.Equal(t, "Message Received. Device ID: d1. Message: "+payload+"\n", feedback[0].payload)
	assert.Equal(t, byte(1), feedback[0].qos)
}

func TestRouteGroupMessage(t *testing.T) {
	backend := &fakeBackend{}
	publisher := &fakePublisher{}
	router := newTestRouter(backend, publisher)

	router.Route(context.Background(), InboundEnvelope{
		Topic:    "groupmessage",
		Payload:  []byte(`{"deviceGroup": "floor-1", "message": "reboot"}`),
		SenderID: "d1",
	})

	require.Len(t, backend.groupMessages, 1)
	assert.Equal(t, "floor-1", backend.groupMessages[0].target)
	assert.Equal(t, "reboot", backend.groupMessages[0].payload)
	assert.Empty(t, backend.deviceMessages)
}

func TestRouteMessageRejectsMissingFields(t *testing.T) {
	backend := &fakeBackend{}
	publisher := &fakePublisher{}
	router := newTestRouter(backend, publisher)

	cases := []string{
		`{"device": "d2"}`,
		`{"message": "hi"}`,
		`{"device": "", "message": "hi"}`,
		`{"device": 42, "message": "hi"}`,
		`not-json`,
	}
	for _, payload := range cases {
		router.Route(context.Background(), InboundEnvelope{
			Topic:    "command",
			Payload:  []byte(payload),
			SenderID: "d1",
		})
	}

	assert.Empty(t, backend.deviceMessages)
	assert.Len(t, backend.exceptions, len(cases))

	feedback := publisher.toTopic("d1")
	require.Len(t, feedback, len(cases))
	assert.Contains(t, feedback[0].payload, `"device"`)
	assert.Contains(t, feedback[0].payload, `"message"`)
}

func TestRouteCustomFieldNames(t *testing.T) {
	backend := &fakeBackend{}
	publisher := &fakePublisher{}
	router := NewRouter(RouterConfig{
		Topics:       ResolveTopics(TopicConfig{}),
		Backend:      backend,
		Publisher:    publisher,
		DeviceField:  "target",
		MessageField: "body",
	})

	router.Route(context.Background(), InboundEnvelope{
		Topic:    "command",
		Payload:  []byte(`{"target": "d2", "body": "ping"}`),
		SenderID: "d1",
	})
	require.Len(t, backend.deviceMessages, 1)
	assert.Equal(t, "d2", backend.deviceMessages[0].target)

	// The default names are no longer recognized, and the error feedback
	// names the configured fields.
	router.Route(context.Background(), InboundEnvelope{
		Topic:    "command",
		Payload:  []byte(`{"device": "d2", "message": "ping"}`),
		SenderID: "d1",
	})
	assert.Len(t, backend.deviceMessages, 1)

	feedback := publisher.toTopic("d1")
	require.Len(t, feedback, 2)
	assert.Contains(t, feedback[1].payload, `"target"`)
	assert.Contains(t, feedback[1].payload, `"body"`)
}

func TestRouteIgnoresUnmatchedTopics(t *testing.T) {
	backend := &fakeBackend{}
	publisher := &fakePublisher{}
	router := newTestRouter(backend, publisher)

	router.Route(context.Background(), InboundEnvelope{
		Topic:    "status",
		Payload:  []byte(`{"up": true}`),
		SenderID: "d1",
	})

	assert.Empty(t, backend.data)
	assert.Empty(t, backend.deviceMessages)
	assert.Empty(t, backend.groupMessages)
	assert.Empty(t, publisher.toTopic("d1"))
}

func TestRouteDataBackendFailure(t *testing.T) {
	backend := &fakeBackend{processDataErr: assert.AnError}
	publisher := &fakePublisher{}
	router := newTestRouter(backend, publisher)

	router.Route(context.Background(), InboundEnvelope{
		Topic:    "data",
		Payload:  []byte(`{"temperature": 20}`),
		SenderID: "d1",
	})

	// No success feedback when the backend rejects the data.
	assert.Empty(t, publisher.toTopic("d1"))
	assert.Len(t, backend.exceptions, 1)
}
