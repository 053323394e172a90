// Package chat implements per-trade conversations between the user,
// the assigned admin, and the platform itself.
//
// Every trade carries one chat thread. Payment details, proof
// references, and verification outcomes all flow through it, so the
// thread doubles as the trade's audit trail. System messages are
// emitted by the trade engine on every status transition and can never
// be posted through the HTTP surface.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/swiftramp/swiftramp/internal/idgen"
	"github.com/swiftramp/swiftramp/internal/metrics"
	"github.com/swiftramp/swiftramp/internal/pagination"
)

var (
	// ErrMessageNotFound is returned when a message does not exist.
	ErrMessageNotFound = errors.New("message not found")
	// ErrEmptyBody is returned for blank message bodies.
	ErrEmptyBody = errors.New("message body is empty")
	// ErrSystemRole is returned when a caller tries to post as the system.
	ErrSystemRole = errors.New("system messages cannot be posted directly")
	// ErrNotParticipant is returned when the sender is not on the trade.
	ErrNotParticipant = errors.New("sender is not a participant of this trade")
	// ErrBodyTooLong is returned for bodies over the length limit.
	ErrBodyTooLong = errors.New("message body exceeds maximum length")
	// ErrInvalidType is returned for message types callers may not use.
	ErrInvalidType = errors.New("unsupported message type")
)

// Sender roles.
const (
	RoleUser   = "user"
	RoleAdmin  = "admin"
	RoleSystem = "system"
)

// Message types. Image references carry a pointer to externally stored
// payment evidence, not the image itself.
const (
	TypeText     = "text"
	TypeSystem   = "system"
	TypeImageRef = "image_ref"
)

const maxBodyLength = 2000

// Message is one chat line in a trade thread.
type Message struct {
	ID        string    `json:"id"`
	TradeID   string    `json:"tradeId"`
	SenderID  string    `json:"senderId"`
	Role      string    `json:"role"` // user, admin, system
	Type      string    `json:"type"` // text, system, image_ref
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists chat messages.
type Store interface {
	Append(ctx context.Context, m *Message) error
	// ListSince returns messages for a trade ordered by (created_at, id)
	// ascending, starting after the cursor position when given.
	ListSince(ctx context.Context, tradeID string, after *pagination.Cursor, limit int) ([]*Message, error)
}

// Participants resolves who may post on a trade's thread.
// Implemented by the trade service.
type Participants interface {
	TradeParticipants(ctx context.Context, tradeID string) (userID, adminID string, err error)
}

// EventEmitter receives appended messages for real-time delivery.
type EventEmitter interface {
	MessageAppended(m *Message)
}

// Service appends and lists trade chat messages.
type Service struct {
	store        Store
	participants Participants
	events       EventEmitter
	now          func() time.Time
}

// NewService creates a chat service.
func NewService(store Store, participants Participants) *Service {
	return &Service{store: store, participants: participants, now: time.Now}
}

// WithEvents adds a real-time event sink for appended messages.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// Post appends a message from a user or admin. The sender must be a
// participant of the trade, and the system role and type are rejected
// outright. An empty msgType defaults to text; image_ref marks the body
// as a reference to stored payment evidence.
func (s *Service) Post(ctx context.Context, tradeID, senderID, role, body, msgType string) (*Message, error) {
	if role == RoleSystem {
		return nil, ErrSystemRole
	}
	if role != RoleUser && role != RoleAdmin {
		return nil, ErrNotParticipant
	}
	if msgType == "" {
		msgType = TypeText
	}
	if msgType != TypeText && msgType != TypeImageRef {
		return nil, ErrInvalidType
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > maxBodyLength {
		return nil, ErrBodyTooLong
	}

	userID, adminID, err := s.participants.TradeParticipants(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	switch role {
	case RoleUser:
		if senderID != userID {
			return nil, ErrNotParticipant
		}
	case RoleAdmin:
		if senderID != adminID {
			return nil, ErrNotParticipant
		}
	}

	return s.append(ctx, tradeID, senderID, role, body, msgType)
}

// PostSystem appends a platform-generated message. Only the trade
// engine calls this; it never arrives via HTTP.
func (s *Service) PostSystem(ctx context.Context, tradeID, body string) (*Message, error) {
	return s.append(ctx, tradeID, "system", RoleSystem, body, TypeSystem)
}

func (s *Service) append(ctx context.Context, tradeID, senderID, role, body, msgType string) (*Message, error) {
	m := &Message{
		ID:        idgen.WithPrefix("msg_"),
		TradeID:   tradeID,
		SenderID:  senderID,
		Role:      role,
		Type:      msgType,
		Body:      body,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Append(ctx, m); err != nil {
		return nil, err
	}
	metrics.ChatMessagesTotal.WithLabelValues(role).Inc()
	if s.events != nil {
		s.events.MessageAppended(m)
	}
	return m, nil
}

// IsParticipant reports whether the actor is the trade's user or its
// assigned admin.
func (s *Service) IsParticipant(ctx context.Context, tradeID, actorID string) (bool, error) {
	userID, adminID, err := s.participants.TradeParticipants(ctx, tradeID)
	if err != nil {
		return false, err
	}
	return actorID == userID || actorID == adminID, nil
}

// List returns a page of a trade's thread, oldest first. The returned
// cursor resumes after the last message of the page.
func (s *Service) List(ctx context.Context, tradeID, cursor string, limit int) ([]*Message, string, bool, error) {
	after, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", false, err
	}
	if limit <= 0 {
		limit = 50
	}

	// Fetch one extra row to learn whether another page exists.
	msgs, err := s.store.ListSince(ctx, tradeID, after, limit+1)
	if err != nil {
		return nil, "", false, err
	}
	page, next, hasMore := pagination.ComputePage(msgs, limit, func(m *Message) (time.Time, string) {
		return m.CreatedAt, m.ID
	})
	return page, next, hasMore, nil
}
