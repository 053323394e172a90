package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// fakeParticipants wires a fixed (user, admin) pair for every trade.
type fakeParticipants struct {
	userID  string
	adminID string
	err     error
}

func (f *fakeParticipants) TradeParticipants(ctx context.Context, tradeID string) (string, string, error) {
	return f.userID, f.adminID, f.err
}

func newTestService() *Service {
	return NewService(NewMemoryStore(), &fakeParticipants{userID: "usr_1", adminID: "adm_1"})
}

func TestPost_UserAndAdminCanPost(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.Post(ctx, "trd_1", "usr_1", RoleUser, "I have sent the payment", TypeText); err != nil {
		t.Fatalf("User post failed: %v", err)
	}
	if _, err := s.Post(ctx, "trd_1", "adm_1", RoleAdmin, "Checking now", TypeText); err != nil {
		t.Fatalf("Admin post failed: %v", err)
	}
}

func TestPost_RejectsSystemRole(t *testing.T) {
	s := newTestService()
	if _, err := s.Post(context.Background(), "trd_1", "usr_1", RoleSystem, "hi", TypeText); !errors.Is(err, ErrSystemRole) {
		t.Errorf("Expected ErrSystemRole, got %v", err)
	}
}

func TestPost_RejectsNonParticipants(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.Post(ctx, "trd_1", "usr_2", RoleUser, "hello", TypeText); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("Expected ErrNotParticipant for wrong user, got %v", err)
	}
	if _, err := s.Post(ctx, "trd_1", "adm_2", RoleAdmin, "hello", TypeText); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("Expected ErrNotParticipant for wrong admin, got %v", err)
	}
}

func TestPost_RejectsEmptyBody(t *testing.T) {
	s := newTestService()
	if _, err := s.Post(context.Background(), "trd_1", "usr_1", RoleUser, "   ", TypeText); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("Expected ErrEmptyBody, got %v", err)
	}
}

func TestPost_ImageReference(t *testing.T) {
	s := newTestService()
	msg, err := s.Post(context.Background(), "trd_1", "usr_1", RoleUser, "evidence/trd_1/receipt.png", TypeImageRef)
	if err != nil {
		t.Fatalf("Image reference post failed: %v", err)
	}
	if msg.Type != TypeImageRef {
		t.Errorf("Expected type %q, got %q", TypeImageRef, msg.Type)
	}
}

func TestPost_DefaultsToTextType(t *testing.T) {
	s := newTestService()
	msg, err := s.Post(context.Background(), "trd_1", "usr_1", RoleUser, "hello", "")
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if msg.Type != TypeText {
		t.Errorf("Expected type %q, got %q", TypeText, msg.Type)
	}
}

func TestPost_RejectsReservedAndUnknownTypes(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	// The system type is reserved for engine-generated messages.
	if _, err := s.Post(ctx, "trd_1", "usr_1", RoleUser, "hi", TypeSystem); !errors.Is(err, ErrInvalidType) {
		t.Errorf("Expected ErrInvalidType for system type, got %v", err)
	}
	if _, err := s.Post(ctx, "trd_1", "usr_1", RoleUser, "hi", "video"); !errors.Is(err, ErrInvalidType) {
		t.Errorf("Expected ErrInvalidType for unknown type, got %v", err)
	}
}

func TestPost_RejectsOverlongBody(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	// Multibyte runes: the limit counts runes, not bytes.
	if _, err := s.Post(ctx, "trd_1", "usr_1", RoleUser, strings.Repeat("é", maxBodyLength+1), TypeText); !errors.Is(err, ErrBodyTooLong) {
		t.Errorf("Expected ErrBodyTooLong, got %v", err)
	}

	msg, err := s.Post(ctx, "trd_1", "usr_1", RoleUser, strings.Repeat("é", maxBodyLength), TypeText)
	if err != nil {
		t.Fatalf("Post at the limit failed: %v", err)
	}
	if got := len([]rune(msg.Body)); got != maxBodyLength {
		t.Errorf("Expected body kept intact at %d runes, got %d", maxBodyLength, got)
	}
}

func TestPostSystem_BypassesParticipantCheck(t *testing.T) {
	s := NewService(NewMemoryStore(), &fakeParticipants{err: errors.New("should not be called")})
	msg, err := s.PostSystem(context.Background(), "trd_1", "Trade assigned to adm_1")
	if err != nil {
		t.Fatalf("PostSystem failed: %v", err)
	}
	if msg.Role != RoleSystem {
		t.Errorf("Expected system role, got %s", msg.Role)
	}
}

func TestList_OrderedAndPaginated(t *testing.T) {
	store := NewMemoryStore()
	s := NewService(store, &fakeParticipants{userID: "usr_1", adminID: "adm_1"})
	ctx := context.Background()

	base := time.Now().UTC()
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for i := 0; i < 5; i++ {
		if _, err := s.Post(ctx, "trd_1", "usr_1", RoleUser, fmt.Sprintf("message %d", i), TypeText); err != nil {
			t.Fatalf("Post failed: %v", err)
		}
	}

	page1, cursor, hasMore, err := s.List(ctx, "trd_1", "", 3)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page1) != 3 || !hasMore {
		t.Fatalf("Expected full first page, got %d hasMore=%v", len(page1), hasMore)
	}

	page2, _, hasMore, err := s.List(ctx, "trd_1", cursor, 3)
	if err != nil {
		t.Fatalf("List page 2 failed: %v", err)
	}
	if len(page2) != 2 || hasMore {
		t.Fatalf("Expected final page of 2, got %d hasMore=%v", len(page2), hasMore)
	}

	// Timestamps never decrease across the full listing.
	all := append(page1, page2...)
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.Before(all[i-1].CreatedAt) {
			t.Errorf("Timestamps decreased at index %d", i)
		}
	}

	// No message appears twice across pages.
	seen := map[string]bool{}
	for _, m := range all {
		if seen[m.ID] {
			t.Errorf("Duplicate message %s across pages", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestList_RejectsBadCursor(t *testing.T) {
	s := newTestService()
	if _, _, _, err := s.List(context.Background(), "trd_1", "garbage!!!", 10); err == nil {
		t.Error("Expected error for malformed cursor")
	}
}

func TestAppend_DuplicateMessageIDIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	m := &Message{ID: "msg_1", TradeID: "trd_1", SenderID: "usr_1", Role: RoleUser, Type: TypeText, Body: "hi", CreatedAt: time.Now()}

	if err := store.Append(ctx, m); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, m); err != nil {
		t.Fatalf("Replayed append failed: %v", err)
	}

	msgs, err := store.ListSince(ctx, "trd_1", nil, 10)
	if err != nil {
		t.Fatalf("ListSince failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("Expected 1 message after replay, got %d", len(msgs))
	}
}
