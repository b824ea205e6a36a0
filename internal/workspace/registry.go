// Package workspace keeps the open explorations and conversations of each
// anonymous owner in memory, loading them from the repository on first use
// and closing them when the owner goes idle.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/digdeeper/internal/domain"
	"github.com/ashureev/digdeeper/internal/editing"
	"github.com/ashureev/digdeeper/internal/explore"
	"github.com/ashureev/digdeeper/internal/generate"
	"github.com/ashureev/digdeeper/internal/store"
	"github.com/patrickmn/go-cache"
)

const flushTimeout = 10 * time.Second

// workspace holds one owner's open coordinators.
type workspace struct {
	owner         string
	mu            sync.Mutex
	explorers     map[string]*editing.Explorer
	conversations map[string]*editing.Conversation
}

func newWorkspace(owner string) *workspace {
	return &workspace{
		owner:         owner,
		explorers:     make(map[string]*editing.Explorer),
		conversations: make(map[string]*editing.Conversation),
	}
}

// Config tunes a Registry.
type Config struct {
	// IdleTTL is how long a workspace stays open without being touched.
	IdleTTL time.Duration
	// DepthLimit caps segment depth; zero means no cap.
	DepthLimit int
}

// Registry maps owners to their workspaces. Idle workspaces are evicted by
// EvictIdle, which the Sweeper calls periodically; eviction closes every
// coordinator and persists its final snapshot.
type Registry struct {
	cache  *cache.Cache
	repo   store.Repository
	gen    generate.Generator
	cfg    Config
	logger *slog.Logger

	// createMu serialises workspace creation so two requests for a new owner
	// share one workspace.
	createMu sync.Mutex
}

// NewRegistry creates a registry. The cache janitor is disabled; expiry is
// driven by EvictIdle.
func NewRegistry(repo store.Repository, gen generate.Generator, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	r := &Registry{
		cache:  cache.New(ttl, 0),
		repo:   repo,
		gen:    gen,
		cfg:    cfg,
		logger: logger,
	}
	r.cache.OnEvicted(func(owner string, v interface{}) {
		ws, ok := v.(*workspace)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		r.flush(ctx, ws)
	})
	return r
}

// workspace returns the owner's workspace, creating it if needed, and
// refreshes its idle deadline. The cache reports an expired workspace as
// missing, so on a miss expired workspaces are evicted (closed and flushed)
// before a new one takes the owner's slot.
func (r *Registry) workspace(owner string) *workspace {
	r.createMu.Lock()
	defer r.createMu.Unlock()

	var ws *workspace
	if v, found := r.cache.Get(owner); found {
		ws = v.(*workspace)
	} else {
		r.cache.DeleteExpired()
		ws = newWorkspace(owner)
	}
	r.cache.Set(owner, ws, cache.DefaultExpiration)
	return ws
}

func (r *Registry) exploreOptions() []explore.Option {
	if r.cfg.DepthLimit > 0 {
		return []explore.Option{explore.WithDepthLimit(r.cfg.DepthLimit)}
	}
	return nil
}

// CreateExploration starts a new exploration for owner and persists it.
func (r *Registry) CreateExploration(ctx context.Context, owner, rootTopic, fullContent string) (*editing.Explorer, error) {
	return r.register(ctx, owner, explore.New(rootTopic, fullContent, r.exploreOptions()...))
}

// CreateDemo seeds the demo exploration for owner.
func (r *Registry) CreateDemo(ctx context.Context, owner string) (*editing.Explorer, error) {
	exp, err := explore.Demo(r.exploreOptions()...)
	if err != nil {
		return nil, fmt.Errorf("build demo exploration: %w", err)
	}
	return r.register(ctx, owner, exp)
}

func (r *Registry) register(ctx context.Context, owner string, exp *explore.Exploration) (*editing.Explorer, error) {
	x := editing.NewExplorer(exp, r.gen)
	if err := r.repo.SaveExploration(ctx, owner, x.Snapshot()); err != nil {
		return nil, fmt.Errorf("save exploration: %w", err)
	}
	ws := r.workspace(owner)
	ws.mu.Lock()
	ws.explorers[x.ID()] = x
	ws.mu.Unlock()
	return x, nil
}

// Explorer returns the coordinator for an exploration, loading it from the
// repository when it is not open yet.
func (r *Registry) Explorer(ctx context.Context, owner, id string) (*editing.Explorer, error) {
	ws := r.workspace(owner)
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if x, ok := ws.explorers[id]; ok {
		return x, nil
	}
	snap, err := r.repo.GetExploration(ctx, owner, id)
	if err != nil {
		return nil, fmt.Errorf("load exploration: %w", err)
	}
	if snap == nil {
		return nil, &domain.NotFoundError{Kind: "exploration", ID: id}
	}
	exp, err := explore.Restore(*snap, r.exploreOptions()...)
	if err != nil {
		return nil, err
	}
	x := editing.NewExplorer(exp, r.gen)
	ws.explorers[id] = x
	return x, nil
}

// SaveExploration writes the explorer's current snapshot through to the
// repository and returns it. A closed explorer has been deleted or evicted
// and is not written.
func (r *Registry) SaveExploration(ctx context.Context, owner string, x *editing.Explorer) (domain.ExplorationSnapshot, error) {
	snap := x.Snapshot()
	if x.Closed() {
		return snap, &domain.NotFoundError{Kind: "exploration", ID: snap.ID}
	}
	if err := r.repo.SaveExploration(ctx, owner, snap); err != nil {
		return snap, fmt.Errorf("save exploration: %w", err)
	}
	return snap, nil
}

// DeleteExploration closes the exploration's coordinator, cancelling pending
// digs, and deletes its snapshot.
func (r *Registry) DeleteExploration(ctx context.Context, owner, id string) error {
	ws := r.workspace(owner)
	ws.mu.Lock()
	x, open := ws.explorers[id]
	delete(ws.explorers, id)
	ws.mu.Unlock()
	if open {
		x.Close()
	}

	deleted, err := r.repo.DeleteExploration(ctx, owner, id)
	if err != nil {
		return err
	}
	if !deleted && !open {
		return &domain.NotFoundError{Kind: "exploration", ID: id}
	}
	return nil
}

// ListExplorations lists the owner's explorations.
func (r *Registry) ListExplorations(ctx context.Context, owner string) ([]domain.ExplorationSummary, error) {
	return r.repo.ListExplorations(ctx, owner)
}

// CreateConversation starts an empty conversation for owner and persists it.
func (r *Registry) CreateConversation(ctx context.Context, owner string) (*editing.Conversation, error) {
	c := editing.NewConversation(r.gen)
	if err := r.repo.SaveConversation(ctx, owner, c.Snapshot()); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}
	ws := r.workspace(owner)
	ws.mu.Lock()
	ws.conversations[c.ID()] = c
	ws.mu.Unlock()
	return c, nil
}

// Conversation returns the coordinator for a conversation, loading it from
// the repository when it is not open yet.
func (r *Registry) Conversation(ctx context.Context, owner, id string) (*editing.Conversation, error) {
	ws := r.workspace(owner)
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if c, ok := ws.conversations[id]; ok {
		return c, nil
	}
	snap, err := r.repo.GetConversation(ctx, owner, id)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if snap == nil {
		return nil, &domain.NotFoundError{Kind: "conversation", ID: id}
	}
	c, err := editing.RestoreConversation(*snap, r.gen)
	if err != nil {
		return nil, err
	}
	ws.conversations[id] = c
	return c, nil
}

// SaveConversation writes the conversation's current snapshot through to
// the repository and returns it. A closed conversation is not written.
func (r *Registry) SaveConversation(ctx context.Context, owner string, c *editing.Conversation) (domain.ConversationSnapshot, error) {
	snap := c.Snapshot()
	if c.Closed() {
		return snap, &domain.NotFoundError{Kind: "conversation", ID: snap.ID}
	}
	if err := r.repo.SaveConversation(ctx, owner, snap); err != nil {
		return snap, fmt.Errorf("save conversation: %w", err)
	}
	return snap, nil
}

// DeleteConversation closes the conversation's coordinator and deletes its
// snapshot.
func (r *Registry) DeleteConversation(ctx context.Context, owner, id string) error {
	ws := r.workspace(owner)
	ws.mu.Lock()
	c, open := ws.conversations[id]
	delete(ws.conversations, id)
	ws.mu.Unlock()
	if open {
		c.Close()
	}

	deleted, err := r.repo.DeleteConversation(ctx, owner, id)
	if err != nil {
		return err
	}
	if !deleted && !open {
		return &domain.NotFoundError{Kind: "conversation", ID: id}
	}
	return nil
}

// ListConversations lists the owner's conversations.
func (r *Registry) ListConversations(ctx context.Context, owner string) ([]domain.ConversationSummary, error) {
	return r.repo.ListConversations(ctx, owner)
}

// Len returns the number of open workspaces, expired or not.
func (r *Registry) Len() int {
	return r.cache.ItemCount()
}

// EvictIdle closes and persists every workspace past its idle deadline.
func (r *Registry) EvictIdle() {
	r.cache.DeleteExpired()
}

// Close flushes every open workspace. The registry must not be used
// afterwards.
func (r *Registry) Close(ctx context.Context) {
	r.cache.DeleteExpired()
	for owner, item := range r.cache.Items() {
		if ws, ok := item.Object.(*workspace); ok {
			r.flush(ctx, ws)
		}
		r.cache.Delete(owner)
	}
}

// flush closes all coordinators of ws and persists their final snapshots.
// Errors are logged; there is no caller to return them to.
func (r *Registry) flush(ctx context.Context, ws *workspace) {
	ws.mu.Lock()
	explorers := ws.explorers
	conversations := ws.conversations
	ws.explorers = make(map[string]*editing.Explorer)
	ws.conversations = make(map[string]*editing.Conversation)
	ws.mu.Unlock()

	for id, x := range explorers {
		x.Close()
		if err := r.repo.SaveExploration(ctx, ws.owner, x.Snapshot()); err != nil {
			r.logger.Warn("failed to persist exploration on eviction", "error", err, "owner_id", ws.owner, "exploration_id", id)
		}
	}
	for id, c := range conversations {
		c.Close()
		if err := r.repo.SaveConversation(ctx, ws.owner, c.Snapshot()); err != nil {
			r.logger.Warn("failed to persist conversation on eviction", "error", err, "owner_id", ws.owner, "conversation_id", id)
		}
	}
	if n := len(explorers) + len(conversations); n > 0 {
		r.logger.Debug("workspace flushed", "owner_id", ws.owner, "closed", n)
	}
}
