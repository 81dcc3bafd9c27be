package ws

import (
	"encoding/json"

	"github.com/Nirovitsky/baltek-chat-gateway/internal/models"
)

// Event types exchanged over the chat socket. message_delivered is the one
// canonical confirmation name on the wire, for both the relay and the client.
const (
	EventAuthenticate     = "authenticate"
	EventJoinConversation = "join_conversation"
	EventSendMessage      = "send_message"

	EventAuthSuccess      = "auth_success"
	EventMessageDelivered = "message_delivered"
	EventReceiveMessage   = "receive_message"
	EventMessageError     = "message_error"
)

// Envelope is the frame wrapper: a type tag plus a type-specific payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into a framed event ready to write to a socket.
func NewEnvelope(eventType string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: eventType, Data: raw})
}

type AuthenticateData struct {
	Token string `json:"token"`
}

type JoinConversationData struct {
	ConversationID int `json:"conversation_id"`
}

type SendMessageData struct {
	Room          int                 `json:"room"`
	Text          string              `json:"text"`
	Attachments   []models.Attachment `json:"attachments,omitempty"`
	CorrelationID string              `json:"correlation_id,omitempty"`
}

// MessageData carries a confirmed or relayed message. CorrelationID is only
// set on message_delivered, echoed from the originating send_message so the
// sender can reconcile its optimistic entry exactly.
type MessageData struct {
	Room          int            `json:"room"`
	Message       models.Message `json:"message"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

type ErrorData struct {
	Error string `json:"error"`
}
