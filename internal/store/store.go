// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/digdeeper/internal/domain"
)

// Repository persists exploration and conversation snapshots per owner.
// Lookups of missing rows return (nil, nil).
type Repository interface {
	// SaveExploration creates or replaces an exploration snapshot.
	SaveExploration(ctx context.Context, ownerID string, snap domain.ExplorationSnapshot) error

	// GetExploration retrieves one exploration owned by ownerID.
	GetExploration(ctx context.Context, ownerID, id string) (*domain.ExplorationSnapshot, error)

	// ListExplorations returns summaries, most recently updated first.
	ListExplorations(ctx context.Context, ownerID string) ([]domain.ExplorationSummary, error)

	// DeleteExploration removes an exploration. It reports whether a row was deleted.
	DeleteExploration(ctx context.Context, ownerID, id string) (bool, error)

	// SaveConversation creates or replaces a conversation snapshot.
	SaveConversation(ctx context.Context, ownerID string, snap domain.ConversationSnapshot) error

	// GetConversation retrieves one conversation owned by ownerID.
	GetConversation(ctx context.Context, ownerID, id string) (*domain.ConversationSnapshot, error)

	// ListConversations returns summaries, most recently updated first.
	ListConversations(ctx context.Context, ownerID string) ([]domain.ConversationSummary, error)

	// DeleteConversation removes a conversation. It reports whether a row was deleted.
	DeleteConversation(ctx context.Context, ownerID, id string) (bool, error)

	// CleanupStale removes snapshots not updated within olderThan.
	CleanupStale(ctx context.Context, olderThan time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
