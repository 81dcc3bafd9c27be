package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/Nirovitsky/baltek-chat-gateway/internal/models"
)

func newRelayServer(t *testing.T, persist Persister) *httptest.Server {
	t.Helper()
	registry := NewRegistry()
	hub := NewHub(registry)
	go hub.Run()

	relay := &RelayHandler{Hub: hub, Registry: registry, Persist: persist}
	srv := httptest.NewServer(http.HandlerFunc(relay.ServeWS))
	t.Cleanup(srv.Close)
	return srv
}

func dialRelay(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeEvent(t *testing.T, conn *websocket.Conn, eventType string, data any) {
	t.Helper()
	frame, err := NewEnvelope(eventType, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readEvent(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, raw, err := conn.ReadMessage()
	require.Error(t, err, "expected no frame, got %s", raw)
}

func TestRelayFanOut(t *testing.T) {
	srv := newRelayServer(t, nil)

	a := dialRelay(t, srv, "")
	b := dialRelay(t, srv, "")
	c := dialRelay(t, srv, "")

	for _, conn := range []*websocket.Conn{a, b, c} {
		writeEvent(t, conn, EventAuthenticate, AuthenticateData{Token: "tok"})
		require.Equal(t, EventAuthSuccess, readEvent(t, conn).Type)
	}
	writeEvent(t, a, EventJoinConversation, JoinConversationData{ConversationID: 7})
	writeEvent(t, b, EventJoinConversation, JoinConversationData{ConversationID: 7})
	writeEvent(t, c, EventJoinConversation, JoinConversationData{ConversationID: 9})

	// join_conversation has no reply; give the reads a moment to land.
	time.Sleep(50 * time.Millisecond)

	writeEvent(t, a, EventSendMessage, SendMessageData{Room: 7, Text: "hi", CorrelationID: "c-1"})

	env := readEvent(t, a)
	require.Equal(t, EventMessageDelivered, env.Type)
	var delivered MessageData
	require.NoError(t, json.Unmarshal(env.Data, &delivered))
	require.Equal(t, 7, delivered.Room)
	require.Equal(t, "hi", delivered.Message.Text)
	require.Equal(t, models.StatusDelivered, delivered.Message.Status)
	require.Equal(t, "c-1", delivered.CorrelationID)
	require.NotEmpty(t, delivered.Message.ID)

	env = readEvent(t, b)
	require.Equal(t, EventReceiveMessage, env.Type)
	var received MessageData
	require.NoError(t, json.Unmarshal(env.Data, &received))
	require.Equal(t, delivered.Message.ID, received.Message.ID)
	require.Equal(t, "hi", received.Message.Text)
	require.Empty(t, received.CorrelationID)

	// The sender gets no receive_message and the other room gets nothing.
	expectSilence(t, a)
	expectSilence(t, c)
}

func TestRelayRejectsUnauthenticatedSend(t *testing.T) {
	srv := newRelayServer(t, nil)
	conn := dialRelay(t, srv, "")

	writeEvent(t, conn, EventSendMessage, SendMessageData{Room: 1, Text: "hello"})

	env := readEvent(t, conn)
	require.Equal(t, EventMessageError, env.Type)
	var data ErrorData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Contains(t, data.Error, "not authenticated")
}

func TestRelayQueryTokenAuthenticates(t *testing.T) {
	srv := newRelayServer(t, nil)
	conn := dialRelay(t, srv, "?token=tok-abc")

	require.Equal(t, EventAuthSuccess, readEvent(t, conn).Type)

	writeEvent(t, conn, EventSendMessage, SendMessageData{Room: 3, Text: "hello"})
	require.Equal(t, EventMessageDelivered, readEvent(t, conn).Type)
}

func TestRelayToleratesMalformedFrames(t *testing.T) {
	srv := newRelayServer(t, nil)
	conn := dialRelay(t, srv, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	// Connection survives and keeps processing.
	writeEvent(t, conn, EventAuthenticate, AuthenticateData{Token: "tok"})
	require.Equal(t, EventAuthSuccess, readEvent(t, conn).Type)
}

type fakePersister struct {
	msg models.Message
	err error
}

func (f *fakePersister) CreateMessage(ctx context.Context, room int, text string, attachments []models.Attachment) (models.Message, error) {
	if f.err != nil {
		return models.Message{}, f.err
	}
	m := f.msg
	m.Room = room
	m.Text = text
	return m, nil
}

func TestRelayPersistsWhenConfigured(t *testing.T) {
	persist := &fakePersister{msg: models.Message{ID: "999", DateCreated: 1700000000}}
	srv := newRelayServer(t, persist)
	conn := dialRelay(t, srv, "?token=tok")
	require.Equal(t, EventAuthSuccess, readEvent(t, conn).Type)

	writeEvent(t, conn, EventSendMessage, SendMessageData{Room: 7, Text: "stored", CorrelationID: "c-2"})

	env := readEvent(t, conn)
	require.Equal(t, EventMessageDelivered, env.Type)
	var data MessageData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Equal(t, models.FlexID("999"), data.Message.ID)
	require.Equal(t, "c-2", data.CorrelationID)
}

func TestRelayReportsPersistFailure(t *testing.T) {
	persist := &fakePersister{err: errors.New("upstream down")}
	srv := newRelayServer(t, persist)
	conn := dialRelay(t, srv, "?token=tok")
	require.Equal(t, EventAuthSuccess, readEvent(t, conn).Type)

	writeEvent(t, conn, EventSendMessage, SendMessageData{Room: 7, Text: "lost"})

	env := readEvent(t, conn)
	require.Equal(t, EventMessageError, env.Type)
	var data ErrorData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Contains(t, data.Error, "upstream down")
}

func TestOwnerFromToken(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 42})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	require.Equal(t, 42, ownerFromToken(signed))
	require.Equal(t, 0, ownerFromToken("not-a-jwt"))

	token = jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "17"})
	signed, err = token.SignedString([]byte("secret"))
	require.NoError(t, err)
	require.Equal(t, 17, ownerFromToken(signed))
}

func TestRelayTearsDownAfterWriteFailure(t *testing.T) {
	registry := NewRegistry()
	hub := NewHub(registry)
	go hub.Run()
	relay := &RelayHandler{Hub: hub, Registry: registry}
	srv := httptest.NewServer(http.HandlerFunc(relay.ServeWS))
	t.Cleanup(srv.Close)

	a := dialRelay(t, srv, "?token=tok")
	b := dialRelay(t, srv, "?token=tok")
	require.Equal(t, EventAuthSuccess, readEvent(t, a).Type)
	require.Equal(t, EventAuthSuccess, readEvent(t, b).Type)
	writeEvent(t, a, EventJoinConversation, JoinConversationData{ConversationID: 7})
	writeEvent(t, b, EventJoinConversation, JoinConversationData{ConversationID: 7})
	require.Equal(t, 2, registry.Len())

	// Drop b's socket without a close handshake so the relay only finds out
	// when a write to it fails.
	require.NoError(t, b.UnderlyingConn().Close())

	writeEvent(t, a, EventSendMessage, SendMessageData{Room: 7, Text: "hi"})
	require.Equal(t, EventMessageDelivered, readEvent(t, a).Type)

	require.Eventually(t, func() bool { return registry.Len() == 1 },
		2*time.Second, 20*time.Millisecond, "dead connection should be evicted")
}
