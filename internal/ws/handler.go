package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Nirovitsky/baltek-chat-gateway/internal/models"
)

// Persister is the boundary to upstream message storage. When nil the relay
// is a pure in-memory fan-out and fabricates its own confirmations.
type Persister interface {
	CreateMessage(ctx context.Context, room int, text string, attachments []models.Attachment) (models.Message, error)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RelayHandler upgrades chat sockets and dispatches the inbound event types.
type RelayHandler struct {
	Hub      *Hub
	Registry *Registry
	Persist  Persister
	Log      *slog.Logger

	// Now is swappable for tests; defaults to time.Now.
	Now func() time.Time
}

func (h *RelayHandler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func (h *RelayHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// ServeWS handles the /ws endpoint. A token supplied as a query parameter
// authenticates the connection at upgrade time, matching the production
// connect URL; otherwise the client is expected to send an authenticate
// frame before its first send_message.
func (h *RelayHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger().Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{Conn: conn, Send: make(chan []byte, 256)}
	h.Registry.Add(client)
	h.Hub.Register <- client

	if token := r.URL.Query().Get("token"); token != "" {
		h.authenticate(client, token)
	}

	go h.writePump(client)
	go h.readPump(client)
}

func (h *RelayHandler) writePump(client *Client) {
	for message := range client.Send {
		if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger().Warn("websocket write failed", "error", err)
			// Closing the socket here ends the read pump too, so the
			// connection tears down fully instead of lingering half-dead.
			client.Conn.Close()
			return
		}
	}
}

func (h *RelayHandler) readPump(client *Client) {
	defer func() {
		h.Hub.Unregister <- client
		h.Registry.Remove(client)
		client.Conn.Close()
	}()

	for {
		_, raw, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger().Warn("websocket read failed", "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			// Malformed frames are dropped; the connection stays up.
			h.logger().Warn("discarding malformed frame", "error", err)
			continue
		}

		switch env.Type {
		case EventAuthenticate:
			var data AuthenticateData
			if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
				h.sendError(client, "authenticate requires a token")
				continue
			}
			h.authenticate(client, data.Token)
		case EventJoinConversation:
			var data JoinConversationData
			if err := json.Unmarshal(env.Data, &data); err != nil {
				h.sendError(client, "join_conversation requires a conversation_id")
				continue
			}
			h.Registry.Join(client, data.ConversationID)
		case EventSendMessage:
			var data SendMessageData
			if err := json.Unmarshal(env.Data, &data); err != nil {
				h.sendError(client, "invalid send_message payload")
				continue
			}
			h.handleSend(client, data)
		default:
			h.logger().Info("unknown event type", "type", env.Type)
		}
	}
}

func (h *RelayHandler) authenticate(client *Client, token string) {
	h.Registry.Authenticate(client, token, ownerFromToken(token))
	h.send(client, EventAuthSuccess, nil)
}

// handleSend confirms the message to the sender and fans it out to every
// other open connection joined to the same room.
func (h *RelayHandler) handleSend(client *Client, data SendMessageData) {
	state, ok := h.Registry.Lookup(client)
	if !ok || !state.Authenticated() {
		h.sendError(client, "not authenticated, send an authenticate message first")
		return
	}

	msg := models.Message{
		ID:          models.FlexID(uuid.NewString()),
		Room:        data.Room,
		Owner:       state.UserID,
		Text:        data.Text,
		Status:      models.StatusDelivered,
		Attachments: data.Attachments,
		DateCreated: h.now().Unix(),
	}

	if h.Persist != nil {
		stored, err := h.Persist.CreateMessage(context.Background(), data.Room, data.Text, data.Attachments)
		if err != nil {
			h.logger().Error("upstream message create failed", "room", data.Room, "error", err)
			h.sendError(client, err.Error())
			return
		}
		stored.Owner = msg.Owner
		stored.Status = models.StatusDelivered
		msg = stored
	}

	delivered, err := NewEnvelope(EventMessageDelivered, MessageData{
		Room:          data.Room,
		Message:       msg,
		CorrelationID: data.CorrelationID,
	})
	if err != nil {
		h.sendError(client, err.Error())
		return
	}
	h.enqueue(client, delivered)

	received, err := NewEnvelope(EventReceiveMessage, MessageData{Room: data.Room, Message: msg})
	if err != nil {
		h.logger().Error("encoding receive_message failed", "error", err)
		return
	}
	h.Hub.Broadcast <- BroadcastMessage{Room: data.Room, Sender: client, Data: received}
}

func (h *RelayHandler) send(client *Client, eventType string, data any) {
	frame, err := NewEnvelope(eventType, data)
	if err != nil {
		h.logger().Error("encoding frame failed", "type", eventType, "error", err)
		return
	}
	h.enqueue(client, frame)
}

func (h *RelayHandler) sendError(client *Client, message string) {
	h.send(client, EventMessageError, ErrorData{Error: message})
}

func (h *RelayHandler) enqueue(client *Client, frame []byte) {
	if !client.TrySend(frame) {
		h.logger().Warn("dropping frame for closed or slow client")
	}
}

// ownerFromToken pulls the user_id claim out of the bearer token. The token
// is not verified here: validation belongs to the upstream API and the relay
// only passes the bearer through, but the claim is still the best available
// sender identity for fabricated messages.
func ownerFromToken(token string) int {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return 0
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return 0
	}
	switch id := claims["user_id"].(type) {
	case float64:
		return int(id)
	case string:
		var n int
		for _, r := range id {
			if r < '0' || r > '9' {
				return 0
			}
			n = n*10 + int(r-'0')
		}
		return n
	default:
		return 0
	}
}
