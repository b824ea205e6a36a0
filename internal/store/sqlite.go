package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/digdeeper/internal/domain"
	"github.com/ashureev/digdeeper/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS explorations (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		root_topic TEXT NOT NULL,
		title TEXT NOT NULL,
		full_content TEXT NOT NULL,
		segments_json TEXT NOT NULL,
		segment_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_explorations_owner ON explorations(owner_id, updated_at);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		messages_json TEXT NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id, updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveExploration creates or replaces an exploration snapshot. A row that
// belongs to another owner, or that holds a newer snapshot, is left alone.
func (s *SQLiteStore) SaveExploration(ctx context.Context, ownerID string, snap domain.ExplorationSnapshot) error {
	segs := snap.Segments
	if segs == nil {
		segs = []domain.Segment{}
	}
	segmentsJSON, err := json.Marshal(segs)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}

	query := `
	INSERT INTO explorations (id, owner_id, root_topic, title, full_content, segments_json, segment_count, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		root_topic = excluded.root_topic,
		title = excluded.title,
		full_content = excluded.full_content,
		segments_json = excluded.segments_json,
		segment_count = excluded.segment_count,
		updated_at = excluded.updated_at
	WHERE explorations.owner_id = excluded.owner_id
		AND explorations.updated_at <= excluded.updated_at`

	return shared.RetryOnConflict(ctx, "save exploration", func() error {
		_, err := s.db.ExecContext(ctx, query,
			snap.ID, ownerID, snap.RootTopic, snap.Title, snap.FullContent,
			string(segmentsJSON), len(segs),
			snap.CreatedAt.UnixMilli(), snap.UpdatedAt.UnixMilli(),
		)
		return err
	})
}

// GetExploration retrieves one exploration owned by ownerID.
func (s *SQLiteStore) GetExploration(ctx context.Context, ownerID, id string) (*domain.ExplorationSnapshot, error) {
	query := `
		SELECT id, root_topic, title, full_content, segments_json, created_at, updated_at
		FROM explorations WHERE id = ? AND owner_id = ?`

	var snap domain.ExplorationSnapshot
	var segmentsJSON string
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, id, ownerID).Scan(
		&snap.ID, &snap.RootTopic, &snap.Title, &snap.FullContent,
		&segmentsJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan exploration row: %w", err)
	}
	if err := json.Unmarshal([]byte(segmentsJSON), &snap.Segments); err != nil {
		return nil, fmt.Errorf("decode segments of %s: %w", id, err)
	}
	snap.CreatedAt = time.UnixMilli(createdAt).UTC()
	snap.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return &snap, nil
}

// ListExplorations returns exploration summaries for ownerID, most recently
// updated first.
func (s *SQLiteStore) ListExplorations(ctx context.Context, ownerID string) ([]domain.ExplorationSummary, error) {
	query := `
		SELECT id, root_topic, title, segment_count, created_at, updated_at
		FROM explorations WHERE owner_id = ? ORDER BY updated_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query explorations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close exploration rows", "error", closeErr)
		}
	}()

	out := []domain.ExplorationSummary{}
	for rows.Next() {
		var sum domain.ExplorationSummary
		var createdAt, updatedAt int64
		if err := rows.Scan(&sum.ID, &sum.RootTopic, &sum.Title, &sum.SegmentCount, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan exploration summary: %w", err)
		}
		sum.CreatedAt = time.UnixMilli(createdAt).UTC()
		sum.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate explorations: %w", err)
	}
	return out, nil
}

// DeleteExploration removes an exploration owned by ownerID.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) DeleteExploration(ctx context.Context, ownerID, id string) (bool, error) {
	return s.deleteRow(ctx, "delete exploration", `DELETE FROM explorations WHERE id = ? AND owner_id = ?`, id, ownerID)
}

// SaveConversation creates or replaces a conversation snapshot. A row that
// belongs to another owner is left alone.
func (s *SQLiteStore) SaveConversation(ctx context.Context, ownerID string, snap domain.ConversationSnapshot) error {
	msgs := snap.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	messagesJSON, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}

	query := `
	INSERT INTO conversations (id, owner_id, title, messages_json, message_count, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		messages_json = excluded.messages_json,
		message_count = excluded.message_count,
		updated_at = excluded.updated_at
	WHERE conversations.owner_id = excluded.owner_id
		AND conversations.updated_at <= excluded.updated_at`

	return shared.RetryOnConflict(ctx, "save conversation", func() error {
		_, err := s.db.ExecContext(ctx, query,
			snap.ID, ownerID, snap.Title, string(messagesJSON), len(msgs),
			snap.CreatedAt.UnixMilli(), snap.UpdatedAt.UnixMilli(),
		)
		return err
	})
}

// GetConversation retrieves one conversation owned by ownerID.
func (s *SQLiteStore) GetConversation(ctx context.Context, ownerID, id string) (*domain.ConversationSnapshot, error) {
	query := `
		SELECT id, title, messages_json, created_at, updated_at
		FROM conversations WHERE id = ? AND owner_id = ?`

	var snap domain.ConversationSnapshot
	var messagesJSON string
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, id, ownerID).Scan(
		&snap.ID, &snap.Title, &messagesJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	if err := json.Unmarshal([]byte(messagesJSON), &snap.Messages); err != nil {
		return nil, fmt.Errorf("decode messages of %s: %w", id, err)
	}
	snap.CreatedAt = time.UnixMilli(createdAt).UTC()
	snap.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return &snap, nil
}

// ListConversations returns conversation summaries for ownerID, most
// recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, ownerID string) ([]domain.ConversationSummary, error) {
	query := `
		SELECT id, title, message_count, created_at, updated_at
		FROM conversations WHERE owner_id = ? ORDER BY updated_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close conversation rows", "error", closeErr)
		}
	}()

	out := []domain.ConversationSummary{}
	for rows.Next() {
		var sum domain.ConversationSummary
		var createdAt, updatedAt int64
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.MessageCount, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation summary: %w", err)
		}
		sum.CreatedAt = time.UnixMilli(createdAt).UTC()
		sum.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

// DeleteConversation removes a conversation owned by ownerID.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, ownerID, id string) (bool, error) {
	return s.deleteRow(ctx, "delete conversation", `DELETE FROM conversations WHERE id = ? AND owner_id = ?`, id, ownerID)
}

func (s *SQLiteStore) deleteRow(ctx context.Context, op, query string, args ...any) (bool, error) {
	var rows int64
	err := shared.RetryOnConflict(ctx, op, func() error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// CleanupStale removes explorations and conversations not updated within
// olderThan.
func (s *SQLiteStore) CleanupStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	threshold := time.Now().Add(-olderThan).UnixMilli()

	var total int64
	for _, table := range []string{"explorations", "conversations"} {
		result, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE updated_at < ?`, threshold)
		if err != nil {
			return total, fmt.Errorf("cleanup stale %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("cleanup stale %s rows affected: %w", table, err)
		}
		total += n
	}
	return total, nil
}

var _ Repository = (*SQLiteStore)(nil)
