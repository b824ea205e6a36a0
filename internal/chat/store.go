// Package chat holds the ordered message list of one conversation.
package chat

import (
	"fmt"
	"iter"
	"time"

	"github.com/ashureev/digdeeper/internal/domain"
	"github.com/containerd/errdefs"
	"github.com/google/uuid"
)

const messageKind = "message"

// Store is an ordered, mutable conversation history with stable per-message
// identity. It is not safe for concurrent use; the owning session serialises
// access.
type Store struct {
	messages []domain.Message
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp messages appended without a
// timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty message store.
func NewStore(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore rebuilds a store from a snapshot. Duplicate ids and unknown roles
// are rejected.
func Restore(msgs []domain.Message, opts ...Option) (*Store, error) {
	s := NewStore(opts...)
	for _, m := range msgs {
		if m.ID == "" {
			return nil, fmt.Errorf("restore message: empty id: %w", errdefs.ErrInvalidArgument)
		}
		if _, err := s.Append(m); err != nil {
			return nil, fmt.Errorf("restore message: %w", err)
		}
	}
	return s, nil
}

// Append inserts msg at the end of the conversation. An empty id is replaced
// with a fresh UUID. A zero timestamp is stamped with the store clock, and a
// timestamp earlier than the last message is raised to it so that timestamps
// never decrease.
func (s *Store) Append(msg domain.Message) (domain.Message, error) {
	if !msg.Role.Valid() {
		return domain.Message{}, fmt.Errorf("append message: unknown role %q: %w", msg.Role, errdefs.ErrInvalidArgument)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if s.IndexOf(msg.ID) >= 0 {
		return domain.Message{}, &domain.DuplicateIDError{Kind: messageKind, ID: msg.ID}
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	if n := len(s.messages); n > 0 && msg.Timestamp.Before(s.messages[n-1].Timestamp) {
		msg.Timestamp = s.messages[n-1].Timestamp
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

// EditContent replaces the content of the message with the given id. Id,
// role, timestamp and position are left alone.
func (s *Store) EditContent(id, content string) error {
	i := s.IndexOf(id)
	if i < 0 {
		return &domain.NotFoundError{Kind: messageKind, ID: id}
	}
	s.messages[i].Content = content
	return nil
}

// TruncateAfter removes every message strictly after the message with the
// given id and returns how many were removed.
func (s *Store) TruncateAfter(id string) (int, error) {
	i := s.IndexOf(id)
	if i < 0 {
		return 0, &domain.NotFoundError{Kind: messageKind, ID: id}
	}
	removed := len(s.messages) - (i + 1)
	clear(s.messages[i+1:])
	s.messages = s.messages[:i+1]
	return removed, nil
}

// ListFrom yields the messages from position index to the end. The store is
// re-read on every step, so messages truncated during iteration are not
// yielded.
func (s *Store) ListFrom(index int) iter.Seq[domain.Message] {
	return func(yield func(domain.Message) bool) {
		for i := max(index, 0); i < len(s.messages); i++ {
			if !yield(s.messages[i]) {
				return
			}
		}
	}
}

// IndexOf returns the position of the message with the given id, or -1.
func (s *Store) IndexOf(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Get returns the message with the given id.
func (s *Store) Get(id string) (domain.Message, bool) {
	i := s.IndexOf(id)
	if i < 0 {
		return domain.Message{}, false
	}
	return s.messages[i], true
}

// Last returns the final message, if any.
func (s *Store) Last() (domain.Message, bool) {
	if len(s.messages) == 0 {
		return domain.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Len returns the number of messages.
func (s *Store) Len() int {
	return len(s.messages)
}

// Window returns a copy of the last n messages.
func (s *Store) Window(n int) []domain.Message {
	if n <= 0 {
		return nil
	}
	start := max(len(s.messages)-n, 0)
	out := make([]domain.Message, len(s.messages)-start)
	copy(out, s.messages[start:])
	return out
}

// Snapshot returns a copy of every message in order.
func (s *Store) Snapshot() []domain.Message {
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}
