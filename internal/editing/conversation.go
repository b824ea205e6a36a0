package editing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/digdeeper/internal/chat"
	"github.com/ashureev/digdeeper/internal/domain"
	"github.com/ashureev/digdeeper/internal/generate"
	"github.com/containerd/errdefs"
	"github.com/google/uuid"
)

const (
	replyKey = "reply"
	titleKey = "title"

	conversationKind = "conversation"
)

// ErrEmptySummary is the cause reported when the summariser returns nothing.
var ErrEmptySummary = errors.New("summary is empty")

// Conversation coordinates one chat: it owns the message store and applies
// replies from the generator once they arrive, if they still apply.
//
// The mutex stands in for the single logical thread of the owning UI
// session: every mutation runs under it, and it is released while waiting
// on the generator so that other edits can interleave.
type Conversation struct {
	mu        sync.Mutex
	id        string
	title     string
	createdAt time.Time
	updatedAt time.Time
	store     *chat.Store
	tracker   *Tracker
	gen       generate.Generator
	now       func() time.Time
	closed    bool
}

// NewConversation starts an empty conversation.
func NewConversation(gen generate.Generator, opts ...Option) *Conversation {
	o := buildOptions(opts)
	now := o.now()
	return &Conversation{
		id:        uuid.NewString(),
		createdAt: now,
		updatedAt: now,
		store:     chat.NewStore(chat.WithClock(o.now)),
		tracker:   NewTracker(),
		gen:       gen,
		now:       o.now,
	}
}

// RestoreConversation rebuilds a conversation from a snapshot.
func RestoreConversation(snap domain.ConversationSnapshot, gen generate.Generator, opts ...Option) (*Conversation, error) {
	if snap.ID == "" {
		return nil, fmt.Errorf("restore conversation: empty id: %w", errdefs.ErrInvalidArgument)
	}
	o := buildOptions(opts)
	store, err := chat.Restore(snap.Messages, chat.WithClock(o.now))
	if err != nil {
		return nil, fmt.Errorf("restore conversation %s: %w", snap.ID, err)
	}
	return &Conversation{
		id:        snap.ID,
		title:     snap.Title,
		createdAt: snap.CreatedAt,
		updatedAt: snap.UpdatedAt,
		store:     store,
		tracker:   NewTracker(),
		gen:       gen,
		now:       o.now,
	}, nil
}

// ID returns the conversation id.
func (c *Conversation) ID() string { return c.id }

// Send appends a user message and waits for the assistant's reply.
func (c *Conversation) Send(ctx context.Context, content string) (domain.Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.Message{}, c.gone()
	}
	userMsg, err := c.store.Append(domain.Message{Role: domain.RoleUser, Content: content})
	if err != nil {
		c.mu.Unlock()
		return domain.Message{}, err
	}
	c.touch()
	tk := c.tracker.Begin(replyKey)
	history := c.store.Snapshot()
	c.mu.Unlock()

	return c.awaitReply(ctx, tk, userMsg.ID, history)
}

// Edit replaces a message's content and discards every later message. When
// the edited message is the user's, a fresh reply is requested and returned;
// editing an assistant message only truncates.
func (c *Conversation) Edit(ctx context.Context, id, content string) (*domain.Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, c.gone()
	}
	msg, ok := c.store.Get(id)
	if !ok {
		c.mu.Unlock()
		return nil, &domain.NotFoundError{Kind: "message", ID: id}
	}
	// Truncation happens before the reply is requested so a stale reply never
	// sits next to the edited prompt.
	if err := c.store.EditContent(id, content); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if _, err := c.store.TruncateAfter(id); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.touch()

	if msg.Role != domain.RoleUser {
		c.tracker.Cancel(replyKey)
		c.mu.Unlock()
		return nil, nil
	}
	tk := c.tracker.Begin(replyKey)
	history := c.store.Snapshot()
	c.mu.Unlock()

	reply, err := c.awaitReply(ctx, tk, id, history)
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

// Regenerate drops the assistant turns after the last user message and
// requests a new reply.
func (c *Conversation) Regenerate(ctx context.Context) (domain.Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.Message{}, c.gone()
	}
	msgs := c.store.Snapshot()
	var anchor domain.Message
	found := false
	for j := len(msgs) - 1; j >= 0; j-- {
		if msgs[j].Role == domain.RoleUser {
			anchor, found = msgs[j], true
			break
		}
	}
	if !found {
		c.mu.Unlock()
		return domain.Message{}, fmt.Errorf("regenerate: no user message: %w", errdefs.ErrFailedPrecondition)
	}
	if n, _ := c.store.TruncateAfter(anchor.ID); n > 0 {
		c.touch()
	}
	tk := c.tracker.Begin(replyKey)
	history := c.store.Snapshot()
	c.mu.Unlock()

	return c.awaitReply(ctx, tk, anchor.ID, history)
}

// awaitReply runs the generator outside the lock and applies the result only
// if the request is still current and its anchor is still the last message.
func (c *Conversation) awaitReply(ctx context.Context, tk Ticket, anchorID string, history []domain.Message) (domain.Message, error) {
	text, genErr := c.gen.Reply(ctx, history)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.Message{}, c.gone()
	}
	if !c.tracker.Current(tk) {
		return domain.Message{}, domain.ErrSuperseded
	}
	c.tracker.Finish(tk)
	if genErr != nil {
		if ctx.Err() != nil {
			return domain.Message{}, ctx.Err()
		}
		return domain.Message{}, &domain.ExternalCollaboratorError{Op: "reply", Cause: genErr}
	}

	if c.store.IndexOf(anchorID) < 0 {
		return domain.Message{}, &domain.NotFoundError{Kind: "message", ID: anchorID}
	}
	if last, _ := c.store.Last(); last.ID != anchorID {
		return domain.Message{}, domain.ErrSuperseded
	}
	reply, err := c.store.Append(domain.Message{Role: domain.RoleAssistant, Content: text})
	if err != nil {
		return domain.Message{}, err
	}
	c.touch()
	return reply, nil
}

// Summarize asks the generator for a title over the last window messages and
// stores it. An empty title is reported as a collaborator failure.
func (c *Conversation) Summarize(ctx context.Context, window int) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", c.gone()
	}
	msgs := c.store.Window(window)
	if len(msgs) == 0 {
		c.mu.Unlock()
		return "", fmt.Errorf("summarize: no messages: %w", errdefs.ErrFailedPrecondition)
	}
	tk := c.tracker.Begin(titleKey)
	c.mu.Unlock()

	title, genErr := c.gen.Summarize(ctx, msgs)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", c.gone()
	}
	if !c.tracker.Current(tk) {
		return "", domain.ErrSuperseded
	}
	c.tracker.Finish(tk)
	if genErr != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &domain.ExternalCollaboratorError{Op: "summarize", Cause: genErr}
	}
	title = generate.CleanTitle(title)
	if title == "" {
		return "", &domain.ExternalCollaboratorError{Op: "summarize", Cause: ErrEmptySummary}
	}
	c.title = title
	c.touch()
	return title, nil
}

// Cancel discards any reply or title request in flight.
func (c *Conversation) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracker.Cancel(replyKey, titleKey)
}

// Close cancels everything in flight and rejects further operations.
func (c *Conversation) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.tracker.CancelAll()
}

// Closed reports whether Close has been called.
func (c *Conversation) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Pending reports how many generation requests are in flight.
func (c *Conversation) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.Pending()
}

// Messages returns the messages from position index to the end.
func (c *Conversation) Messages(index int) []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Collect(c.store.ListFrom(index))
}

// Snapshot returns a copy of the conversation.
func (c *Conversation) Snapshot() domain.ConversationSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.ConversationSnapshot{
		ID:        c.id,
		Title:     c.title,
		Messages:  c.store.Snapshot(),
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
	}
}

func (c *Conversation) touch() {
	c.updatedAt = c.now()
}

func (c *Conversation) gone() error {
	return &domain.NotFoundError{Kind: conversationKind, ID: c.id}
}
