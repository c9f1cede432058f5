package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	appconfig "github.com/serviya/platform/internal/config"
	"github.com/serviya/platform/pkg/logging"
)

func testConfig(t *testing.T) *appconfig.Config {
	t.Helper()
	mr := miniredis.RunT(t)
	return &appconfig.Config{
		Port:     "8080",
		Env:      "test",
		LogLevel: "error",

		RedisURL: "redis://" + mr.Addr(),

		MQTTHost:           "localhost",
		MQTTPort:           1883,
		MQTTQoS:            1,
		MQTTPublishTimeout: time.Second,
		MQTTTemaSolicitud:  "av-proveedores/solicitud",
		MQTTTemaRespuesta:  "av-proveedores/respuesta",

		AvailabilityTimeout:      2 * time.Second,
		AvailabilityAcceptGrace:  time.Second,
		AvailabilityStateTTL:     time.Minute,
		AvailabilityPollInterval: 100 * time.Millisecond,

		FlowTTL:         time.Hour,
		ProfileCacheTTL: time.Minute,

		SimulatorEnabled: true,
	}
}

func TestBuildWiresMemoryBackend(t *testing.T) {
	cfg := testConfig(t)
	s, err := Build(context.Background(), cfg, logging.New("error"))
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	require.Nil(t, s.Pool, "no DATABASE_URL means no postgres pool")
	require.NotNil(t, s.Repos.Customers)
	require.NotNil(t, s.Orchestrator)
	require.NotNil(t, s.Simulator)
	require.Nil(t, s.LLM, "no API keys configured")
}

func TestRouterServesCoreRoutes(t *testing.T) {
	cfg := testConfig(t)
	s, err := Build(context.Background(), cfg, logging.New("error"))
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	r := s.Router()

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/simulator/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestWebhookEndToEndThroughBuild(t *testing.T) {
	cfg := testConfig(t)
	s, err := Build(context.Background(), cfg, logging.New("error"))
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	body := strings.NewReader(`{"phone":"593999123456","message":"hola"}`)
	req := httptest.NewRequest(http.MethodPost, "/handle-whatsapp-message", body)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	text, _ := resp["response"].(string)
	require.Contains(t, text, "ServiYa", "first contact gets the consent prompt")
}
