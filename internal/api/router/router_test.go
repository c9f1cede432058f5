package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serviya/platform/internal/conversation"
	"github.com/serviya/platform/internal/flow"
	"github.com/serviya/platform/internal/http/handlers"
	"github.com/serviya/platform/internal/outbound"
	"github.com/serviya/platform/internal/sessions"
)

type echoProcessor struct{}

func (echoProcessor) Handle(ctx context.Context, msg conversation.Inbound) ([]outbound.Reply, error) {
	return []outbound.Reply{outbound.Text("ok: " + msg.Text())}, nil
}

func newTestRouter(t *testing.T, adminSecret string) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	flows := flow.NewStore(client, time.Hour, nil)
	log := sessions.NewLog(client, time.Hour, nil)
	return New(&Config{
		Conversation:   handlers.NewConversationHandler(echoProcessor{}, flows, nil),
		Sessions:       handlers.NewSessionsHandler(log, nil),
		Health:         handlers.NewHealthHandler(client, "serviya-broker"),
		AdminJWTSecret: adminSecret,
	})
}

func TestHealthRoute(t *testing.T) {
	r := newTestRouter(t, "")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookRoute(t *testing.T) {
	r := newTestRouter(t, "")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/handle-whatsapp-message",
		strings.NewReader(`{"from_number":"593999000111","content":"hola"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok: hola")
}

func TestSessionMutationsRequireAdminToken(t *testing.T) {
	r := newTestRouter(t, "topsecret")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sessions/593999000111", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Reads stay open.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/593999000111", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("topsecret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/sessions/593999000111", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionMutationsOpenWithoutSecret(t *testing.T) {
	r := newTestRouter(t, "")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions",
		strings.NewReader(`{"phone":"593999000111","message":"hola"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
}
