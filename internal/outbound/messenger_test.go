package outbound

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serviya/platform/internal/sessions"
)

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) Send(ctx context.Context, phone, message string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, phone+"|"+message)
	return nil
}

func newTestMessenger(t *testing.T, sender *fakeSender) (*Messenger, *sessions.Log) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	log := sessions.NewLog(client, time.Hour, nil)
	return NewMessenger(sender, log, nil, nil), log
}

func TestPushSendsAndLogs(t *testing.T) {
	sender := &fakeSender{}
	m, log := newTestMessenger(t, sender)
	ctx := context.Background()

	m.Push(ctx, "593999111222", "⏳ Buscando proveedores...")

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "593999111222|⏳ Buscando proveedores...", sender.sent[0])

	turns, err := log.List(ctx, "593999111222", 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.True(t, turns[0].IsBot)
}

func TestPushSwallowsSendFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("adapter down")}
	m, log := newTestMessenger(t, sender)
	ctx := context.Background()

	m.Push(ctx, "593999111222", "hola")

	// The transcript still records the turn.
	turns, err := log.List(ctx, "593999111222", 0)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestReplyHelpers(t *testing.T) {
	plain := Text("hola")
	assert.Equal(t, "hola", plain.Response)
	assert.Nil(t, plain.UI)

	buttons := WithButtons("elige", "1) Sí", "2) No")
	require.NotNil(t, buttons.UI)
	assert.Equal(t, "buttons", buttons.UI.Type)
	assert.Len(t, buttons.UI.Buttons, 2)
}
