package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Nirovitsky/baltek-chat-gateway/internal/models"
	"github.com/Nirovitsky/baltek-chat-gateway/internal/ws"
)

// Full delivery path: two sessions connected through the relay, one send,
// sender reconciled to delivered, receiver sees the incoming message.
func TestDeliveryPathEndToEnd(t *testing.T) {
	registry := ws.NewRegistry()
	hub := ws.NewHub(registry)
	go hub.Run()
	relay := &ws.RelayHandler{Hub: hub, Registry: registry}
	srv := httptest.NewServer(http.HandlerFunc(relay.ServeWS))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	type endpoint struct {
		conn    *Conn
		session *Session
	}
	newEndpoint := func(self int) *endpoint {
		e := &endpoint{}
		e.conn = NewConn(ConnConfig{URL: wsURL, Token: "tok"})
		e.session = NewSession(e.conn, Config{Self: self})
		e.conn.cfg.OnFrame = e.session.HandleFrame
		e.session.SelectConversation(models.Conversation{
			ID:            7,
			ContentObject: models.ContentObject{Status: models.ConversationActive},
		})
		go e.conn.Run(ctx)
		require.Eventually(t, e.conn.IsOpen, 2*time.Second, 10*time.Millisecond)

		join, err := ws.NewEnvelope(ws.EventJoinConversation, ws.JoinConversationData{ConversationID: 7})
		require.NoError(t, err)
		require.NoError(t, e.conn.Send(join))
		return e
	}

	alice := newEndpoint(1)
	bob := newEndpoint(2)

	// Give the relay a moment to process both joins.
	time.Sleep(50 * time.Millisecond)

	msg, err := alice.session.SendMessage("hello bob", nil)
	require.NoError(t, err)
	require.Equal(t, models.StatusSending, msg.Status)

	require.Eventually(t, func() bool {
		view := alice.session.Messages()
		return len(view) == 1 && view[0].Status == models.StatusDelivered && !view[0].ID.IsTemp()
	}, 2*time.Second, 10*time.Millisecond, "sender should reconcile to delivered")

	require.Eventually(t, func() bool {
		view := bob.session.Messages()
		return len(view) == 1 && view[0].Text == "hello bob"
	}, 2*time.Second, 10*time.Millisecond, "receiver should observe the message")

	// The sender must not also receive its own message as incoming.
	time.Sleep(100 * time.Millisecond)
	require.Len(t, alice.session.Messages(), 1)
}
