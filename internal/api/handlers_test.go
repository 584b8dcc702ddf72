// services/gateway/internal/api/handlers_test.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/gateway/internal/core"
)

type nullBackend struct{}

func (nullBackend) NotifyConnection(context.Context, string) error            { return nil }
func (nullBackend) NotifyDisconnection(context.Context, string) error         { return nil }
func (nullBackend) ProcessData(context.Context, string, []byte) error         { return nil }
func (nullBackend) SendMessageToDevice(context.Context, string, []byte) error { return nil }
func (nullBackend) SendMessageToGroup(context.Context, string, []byte) error  { return nil }
func (nullBackend) SendCommandResponse(context.Context, string, string) error { return nil }
func (nullBackend) Log(context.Context, interface{}) error                    { return nil }
func (nullBackend) LogException(context.Context, error) error                 { return nil }

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *capturePublisher) Publish(topic string, _ []byte, _ bool, _ byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func newTestServer(t *testing.T) (*gin.Engine, *core.Gateway, *capturePublisher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	publisher := &capturePublisher{}
	registry := core.NewRegistry(core.RegistryConfig{Logger: logger})
	topics := core.ResolveTopics(core.TopicConfig{})
	authorizer := core.NewAuthorizer(core.AuthorizerConfig{Registry: registry, Topics: topics, Backend: nullBackend{}, Logger: logger})
	router := core.NewRouter(core.RouterConfig{Topics: topics, Backend: nullBackend{}, Publisher: publisher, Logger: logger})
	relay := core.NewRelay(core.RelayConfig{Publisher: publisher, Backend: nullBackend{}, Logger: logger})
	gateway := core.NewGateway(registry, authorizer, router, relay, logger)

	engine := gin.New()
	SetupRoutes(engine, NewHandlers(gateway, nil, logger))
	return engine, gateway, publisher
}

func TestHealth(t *testing.T) {
	engine, gateway, _ := newTestServer(t)
	gateway.Registry.Upsert(core.DeviceRecord{ID: "d1"})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["devices"])
}

func TestListDevices(t *testing.T) {
	engine, gateway, _ := newTestServer(t)
	gateway.Registry.Upsert(core.DeviceRecord{ID: "d1", Name: "sensor"})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var devices []core.DeviceRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &devices))
	require.Len(t, devices, 1)
	assert.Equal(t, "sensor", devices[0].Name)
}

func TestGetDevice(t *testing.T) {
	engine, gateway, _ := newTestServer(t)
	gateway.Registry.Upsert(core.DeviceRecord{ID: "d1"})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/devices/d1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/devices/ghost", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListCommandsWithoutJournal(t *testing.T) {
	engine, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/commands", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRelayCommand(t *testing.T) {
	engine, _, publisher := newTestServer(t)

	body := `{"device": "d1", "command": {"action": "reboot"}, "commandId": "corr-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"d1"}, publisher.topics)
}

func TestRelayCommandRequiresTarget(t *testing.T) {
	engine, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(`{"command": {}}`))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
