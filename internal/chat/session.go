// Package chat implements the client side of the delivery path: an
// optimistic message buffer reconciled against relay confirmations, with a
// per-message delivery timer and manual retry on failure.
package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Nirovitsky/baltek-chat-gateway/internal/models"
	"github.com/Nirovitsky/baltek-chat-gateway/internal/ws"
)

const DefaultSendTimeout = 30 * time.Second

var (
	ErrNoConversation      = errors.New("no conversation selected")
	ErrConversationExpired = errors.New("this conversation has expired and is read-only")
	ErrNotConnected        = errors.New("not connected to chat server")
)

// Sender is the socket surface the session transmits through.
type Sender interface {
	Send(frame []byte) error
	IsOpen() bool
}

// Notice is a user-visible error surfaced by the session; the UI layer
// renders these as destructive toasts.
type Notice struct {
	Title       string
	Description string
}

type Config struct {
	// Self is the local user id, stamped as owner on optimistic entries.
	Self int

	// SendTimeout bounds how long a message may sit in "sending" before it
	// is marked failed. Zero means DefaultSendTimeout.
	SendTimeout time.Duration

	// Notify, when set, receives user-visible failures.
	Notify func(Notice)

	// OnChange, when set, fires after any mutation of the merged view.
	OnChange func()

	Log *slog.Logger
}

// Session maintains the merged message view for one selected conversation:
// history fetched once over REST plus a local buffer of in-flight and newly
// arrived messages.
type Session struct {
	mu     sync.Mutex
	cfg    Config
	sender Sender

	conversation *models.Conversation
	api          []models.Message
	local        []models.Message
	timers       map[models.FlexID]*time.Timer
}

func NewSession(sender Sender, cfg Config) *Session {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Session{
		cfg:    cfg,
		sender: sender,
		timers: make(map[models.FlexID]*time.Timer),
	}
}

// SelectConversation switches the session to a conversation, dropping all
// local state from the previous one. History is loaded separately through
// SetHistory once the REST fetch completes.
func (s *Session) SelectConversation(conv models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation = &conv
	s.api = nil
	s.local = nil
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// SetHistory installs the REST-fetched message history for the selected
// conversation. It is fetched once per selection and never mutated.
func (s *Session) SetHistory(msgs []models.Message) {
	s.mu.Lock()
	s.api = append([]models.Message(nil), msgs...)
	s.mu.Unlock()
	s.changed()
}

// SendMessage creates an optimistic entry, transmits send_message, and arms
// the delivery timer. The guards run in order and each aborts without
// touching the socket or the local buffer.
func (s *Session) SendMessage(text string, attachments []models.Attachment) (models.Message, error) {
	s.mu.Lock()
	if s.conversation == nil {
		s.mu.Unlock()
		s.notify("Error", ErrNoConversation.Error())
		return models.Message{}, ErrNoConversation
	}
	if s.conversation.Expired() {
		s.mu.Unlock()
		s.notify("Error", "This conversation has expired and is read-only")
		return models.Message{}, ErrConversationExpired
	}
	if !s.sender.IsOpen() {
		s.mu.Unlock()
		s.notify("Error", "Not connected to chat server. Please refresh the page.")
		return models.Message{}, ErrNotConnected
	}

	msg := models.Message{
		ID:            tempID(),
		Room:          s.conversation.ID,
		Owner:         s.cfg.Self,
		Text:          text,
		Status:        models.StatusSending,
		Attachments:   attachments,
		DateCreated:   time.Now().Unix(),
		IsOptimistic:  true,
		CorrelationID: uuid.NewString(),
	}
	s.local = append(s.local, msg)
	room := s.conversation.ID
	s.mu.Unlock()
	s.changed()

	if err := s.transmit(room, msg); err != nil {
		s.markFailed(msg.ID, "Failed to send message")
		s.notify("Error", "Failed to send message")
		return s.snapshot(msg.ID), errors.Wrap(err, "transmit")
	}

	s.armTimer(msg.ID)
	return msg, nil
}

// Retry re-flips a failed entry to sending and re-transmits the identical
// payload, with a fresh delivery timer.
func (s *Session) Retry(id models.FlexID) error {
	s.mu.Lock()
	idx := s.indexOfLocal(id)
	if idx < 0 || s.local[idx].Status != models.StatusFailed {
		s.mu.Unlock()
		return errors.Errorf("no failed message with id %s", id)
	}
	if !s.sender.IsOpen() {
		s.mu.Unlock()
		s.notify("Error", "Not connected to chat server. Please refresh the page.")
		return ErrNotConnected
	}
	s.local[idx].Status = models.StatusSending
	s.local[idx].Error = ""
	msg := s.local[idx]
	s.mu.Unlock()
	s.changed()

	if err := s.transmit(msg.Room, msg); err != nil {
		s.markFailed(msg.ID, "Failed to send message")
		s.notify("Error", "Failed to send message")
		return errors.Wrap(err, "transmit")
	}
	s.armTimer(msg.ID)
	return nil
}

// Cancel discards a failed entry.
func (s *Session) Cancel(id models.FlexID) {
	s.mu.Lock()
	idx := s.indexOfLocal(id)
	if idx >= 0 && s.local[idx].Status == models.StatusFailed {
		s.local = append(s.local[:idx], s.local[idx+1:]...)
	}
	s.stopTimer(id)
	s.mu.Unlock()
	s.changed()
}

// HandleFrame feeds a raw inbound socket frame through reconciliation.
func (s *Session) HandleFrame(raw []byte) {
	var env ws.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.cfg.Log.Warn("discarding malformed frame", "error", err)
		return
	}

	switch env.Type {
	case ws.EventMessageDelivered:
		var data ws.MessageData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			s.cfg.Log.Warn("bad message_delivered payload", "error", err)
			return
		}
		s.reconcileDelivered(data)
	case ws.EventReceiveMessage:
		var data ws.MessageData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			s.cfg.Log.Warn("bad receive_message payload", "error", err)
			return
		}
		s.appendIncoming(data)
	case ws.EventMessageError:
		var data ws.ErrorData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			s.cfg.Log.Warn("bad message_error payload", "error", err)
			return
		}
		s.failLatestInFlight(data.Error)
	case ws.EventAuthSuccess:
		s.cfg.Log.Info("chat socket authenticated")
	default:
		s.cfg.Log.Info("unknown event type", "type", env.Type)
	}
}

// Messages returns the merged view: history plus local buffer, de-duplicated
// by id (first occurrence wins) and sorted ascending by creation time.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make([]models.Message, 0, len(s.api)+len(s.local))
	seen := make(map[models.FlexID]bool, len(s.api)+len(s.local))
	for _, list := range [][]models.Message{s.api, s.local} {
		for _, m := range list {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			merged = append(merged, m)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].DateCreated < merged[j].DateCreated
	})
	return merged
}

// reconcileDelivered matches the confirmation against the optimistic entry
// that produced it: by correlation id when the relay echoes one, falling
// back to the most recent in-flight entry with equal text. With no match
// (for example after a timeout already flipped the entry to failed) the
// confirmed message is appended instead, guarded by an id check.
func (s *Session) reconcileDelivered(data ws.MessageData) {
	confirmed := data.Message
	confirmed.IsOptimistic = false
	if confirmed.Status == "" || confirmed.Status == models.StatusSending {
		confirmed.Status = models.StatusDelivered
	}

	s.mu.Lock()
	idx := -1
	if data.CorrelationID != "" {
		for i := len(s.local) - 1; i >= 0; i-- {
			m := s.local[i]
			if m.IsOptimistic && m.Status == models.StatusSending && m.CorrelationID == data.CorrelationID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		for i := len(s.local) - 1; i >= 0; i-- {
			m := s.local[i]
			if m.IsOptimistic && m.Status == models.StatusSending && m.Text == confirmed.Text {
				idx = i
				break
			}
		}
	}

	if idx >= 0 {
		s.stopTimer(s.local[idx].ID)
		s.local[idx] = confirmed
	} else if !s.containsID(confirmed.ID) {
		s.local = append(s.local, confirmed)
	}
	s.mu.Unlock()
	s.changed()
}

// appendIncoming adds a message from another party. Incoming messages are
// never matched against optimistic entries; only the sender's own
// message_delivered does that.
func (s *Session) appendIncoming(data ws.MessageData) {
	msg := data.Message
	if msg.Status == "" {
		msg.Status = models.StatusDelivered
	}

	s.mu.Lock()
	if s.containsID(msg.ID) {
		s.mu.Unlock()
		return
	}
	s.local = append(s.local, msg)
	s.mu.Unlock()
	s.changed()
}

// failLatestInFlight marks the most recent in-flight optimistic entry failed
// with the server-supplied reason.
func (s *Session) failLatestInFlight(reason string) {
	s.mu.Lock()
	for i := len(s.local) - 1; i >= 0; i-- {
		if s.local[i].IsOptimistic && s.local[i].Status == models.StatusSending {
			s.local[i].Status = models.StatusFailed
			s.local[i].Error = reason
			s.stopTimer(s.local[i].ID)
			break
		}
	}
	s.mu.Unlock()
	s.changed()
	s.notify("Failed to send message", reason)
}

func (s *Session) transmit(room int, msg models.Message) error {
	frame, err := ws.NewEnvelope(ws.EventSendMessage, ws.SendMessageData{
		Room:          room,
		Text:          msg.Text,
		Attachments:   msg.Attachments,
		CorrelationID: msg.CorrelationID,
	})
	if err != nil {
		return err
	}
	return s.sender.Send(frame)
}

// armTimer starts the single delivery timer owned by the sending state. It
// is stopped on any transition out of sending; if it fires first, the entry
// is failed with a retry hint.
func (s *Session) armTimer(id models.FlexID) {
	s.mu.Lock()
	if old, ok := s.timers[id]; ok {
		old.Stop()
	}
	s.timers[id] = time.AfterFunc(s.cfg.SendTimeout, func() {
		s.deliveryTimeout(id)
	})
	s.mu.Unlock()
}

func (s *Session) deliveryTimeout(id models.FlexID) {
	s.mu.Lock()
	delete(s.timers, id)
	idx := s.indexOfLocal(id)
	if idx < 0 || s.local[idx].Status != models.StatusSending {
		s.mu.Unlock()
		return
	}
	s.local[idx].Status = models.StatusFailed
	s.local[idx].Error = "Message timeout - please retry"
	s.mu.Unlock()
	s.changed()
}

func (s *Session) markFailed(id models.FlexID, reason string) {
	s.mu.Lock()
	idx := s.indexOfLocal(id)
	if idx >= 0 {
		s.local[idx].Status = models.StatusFailed
		s.local[idx].Error = reason
	}
	s.stopTimer(id)
	s.mu.Unlock()
	s.changed()
}

// stopTimer must be called with s.mu held.
func (s *Session) stopTimer(id models.FlexID) {
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// indexOfLocal must be called with s.mu held.
func (s *Session) indexOfLocal(id models.FlexID) int {
	for i, m := range s.local {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// containsID must be called with s.mu held.
func (s *Session) containsID(id models.FlexID) bool {
	for _, m := range s.local {
		if m.ID == id {
			return true
		}
	}
	for _, m := range s.api {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (s *Session) snapshot(id models.FlexID) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOfLocal(id); idx >= 0 {
		return s.local[idx]
	}
	return models.Message{}
}

func (s *Session) notify(title, description string) {
	if s.cfg.Notify != nil {
		s.cfg.Notify(Notice{Title: title, Description: description})
	}
}

func (s *Session) changed() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange()
	}
}

func tempID() models.FlexID {
	return models.FlexID(fmt.Sprintf("temp-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8]))
}
