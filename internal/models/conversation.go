package models

const (
	ConversationActive  = "active"
	ConversationExpired = "expired"
)

// ContentObject is the polymorphic reference a conversation points at. For
// chat rooms this is always a job application context.
type ContentObject struct {
	ID     int    `json:"id"`
	Title  string `json:"title,omitempty"`
	Status string `json:"status,omitempty"` // active or expired
}

// Conversation mirrors the upstream chat room record. It is owned by the
// upstream API and never mutated locally; expired conversations are
// read-only.
type Conversation struct {
	ID                     int           `json:"id"`
	ContentType            string        `json:"content_type,omitempty"`
	ObjectID               int           `json:"object_id,omitempty"`
	ContentObject          ContentObject `json:"content_object"`
	UnreadMessageCount     int           `json:"unread_message_count"`
	LastMessageText        string        `json:"last_message_text,omitempty"`
	LastMessageDateCreated int64         `json:"last_message_date_created,omitempty"`
}

// Expired reports whether the conversation no longer accepts new messages.
func (c Conversation) Expired() bool {
	return c.ContentObject.Status == ConversationExpired
}
