package models

import (
	"encoding/json"
	"strings"
)

// DeliveryStatus tracks a message through its lifecycle on the client side.
// Server-confirmed messages arrive as "delivered" (or "read" once the other
// party has seen them); "sending" and "failed" only ever describe local
// optimistic entries.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
	StatusRead      DeliveryStatus = "read"
)

// FlexID accepts both the numeric ids the upstream API hands out and the
// string temp ids generated for optimistic messages.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// IsTemp reports whether the id was locally generated for a not-yet-confirmed
// message.
func (f FlexID) IsTemp() bool {
	return strings.HasPrefix(string(f), "temp-")
}

type Attachment struct {
	ID          FlexID `json:"id"`
	Name        string `json:"name,omitempty"`
	URL         string `json:"url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

type Message struct {
	ID            FlexID         `json:"id"`
	Room          int            `json:"room"`
	Owner         int            `json:"owner"`
	Text          string         `json:"text"`
	Status        DeliveryStatus `json:"status"`
	Attachments   []Attachment   `json:"attachments,omitempty"`
	DateCreated   int64          `json:"date_created"`
	IsOptimistic  bool           `json:"is_optimistic,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// UploadedFile is the descriptor returned by the upstream POST /files/
// endpoint. Different deployments have returned the URL under different
// field names, so all three are kept and resolved through FileLocation.
type UploadedFile struct {
	ID          FlexID `json:"id"`
	FileURL     string `json:"file_url,omitempty"`
	URL         string `json:"url,omitempty"`
	Path        string `json:"path,omitempty"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// FileLocation returns the first populated URL-ish field.
func (u UploadedFile) FileLocation() string {
	switch {
	case u.FileURL != "":
		return u.FileURL
	case u.URL != "":
		return u.URL
	default:
		return u.Path
	}
}

// Attachment converts an uploaded file descriptor into the attachment
// metadata embedded in an outgoing message.
func (u UploadedFile) Attachment() Attachment {
	return Attachment{
		ID:          u.ID,
		Name:        u.Name,
		URL:         u.FileLocation(),
		ContentType: u.ContentType,
		Size:        u.Size,
	}
}
