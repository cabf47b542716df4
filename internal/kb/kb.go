// Package kb manages knowledge base metadata and the lifecycle of the
// vector collections behind them.
package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors for knowledge base operations.
var (
	// ErrNotFound indicates the knowledge base does not exist within the
	// requester's tenant. A knowledge base owned by another tenant is
	// reported identically.
	ErrNotFound = errors.New("knowledge base not found")

	// ErrInvalidScope indicates an unrecognized sharing scope.
	ErrInvalidScope = errors.New("invalid knowledge base scope")

	// ErrInvalidName indicates an empty or missing name.
	ErrInvalidName = errors.New("invalid knowledge base name")
)

// Scope is a knowledge base's sharing level.
type Scope string

const (
	ScopePersonal     Scope = "personal"
	ScopeTeam         Scope = "team"
	ScopeDepartment   Scope = "department"
	ScopeOrganization Scope = "organization"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopePersonal, ScopeTeam, ScopeDepartment, ScopeOrganization:
		return true
	}
	return false
}

// KnowledgeBase is one searchable corpus within a tenant.
type KnowledgeBase struct {
	ID       uuid.UUID
	TenantID string
	Name     string
	Scope    Scope

	// CustomInstructions, when set, replaces the default assistant persona
	// for conversations over this knowledge base.
	CustomInstructions string

	// GroundedOnly restricts answers to retrieved content.
	GroundedOnly bool

	CreatedAt time.Time
}

// CollectionID is the identifier of the vector collection backing this
// knowledge base.
func (k KnowledgeBase) CollectionID() string {
	return k.ID.String()
}

// Querier defines the database operations the metadata store needs.
// *pgxpool.Pool satisfies it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists knowledge base rows. Safe for concurrent use.
type Store struct {
	db     Querier
	logger *slog.Logger
}

// NewStore creates a metadata store. A nil logger falls back to
// slog.Default().
func NewStore(db Querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Create inserts a knowledge base row.
func (s *Store) Create(ctx context.Context, kb KnowledgeBase) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO knowledge_bases
			(id, tenant_id, name, scope, custom_instructions, grounded_only, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		kb.ID, kb.TenantID, kb.Name, string(kb.Scope),
		kb.CustomInstructions, kb.GroundedOnly, kb.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create knowledge base %q: %w", kb.Name, err)
	}
	return nil
}

// Get fetches one knowledge base within a tenant.
func (s *Store) Get(ctx context.Context, tenantID string, id uuid.UUID) (KnowledgeBase, error) {
	var kb KnowledgeBase
	var scope string
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, name, scope, custom_instructions, grounded_only, created_at
		 FROM knowledge_bases
		 WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	).Scan(&kb.ID, &kb.TenantID, &kb.Name, &scope,
		&kb.CustomInstructions, &kb.GroundedOnly, &kb.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return KnowledgeBase{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return KnowledgeBase{}, fmt.Errorf("failed to get knowledge base %s: %w", id, err)
	}
	kb.Scope = Scope(scope)
	return kb, nil
}

// List returns a tenant's knowledge bases, newest first.
func (s *Store) List(ctx context.Context, tenantID string) ([]KnowledgeBase, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, name, scope, custom_instructions, grounded_only, created_at
		 FROM knowledge_bases
		 WHERE tenant_id = $1
		 ORDER BY created_at DESC, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge bases: %w", err)
	}
	defer rows.Close()

	var out []KnowledgeBase
	for rows.Next() {
		var kb KnowledgeBase
		var scope string
		if err := rows.Scan(&kb.ID, &kb.TenantID, &kb.Name, &scope,
			&kb.CustomInstructions, &kb.GroundedOnly, &kb.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge base row: %w", err)
		}
		kb.Scope = Scope(scope)
		out = append(out, kb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list knowledge bases: %w", err)
	}
	return out, nil
}

// Delete removes a knowledge base row within a tenant.
func (s *Store) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM knowledge_bases WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge base %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// collections is the vector-collection lifecycle the manager drives.
// Implemented by vectorstore.Store.
type collections interface {
	CreateCollection(ctx context.Context, kbID string, vectorSize int) error
	DeleteCollection(ctx context.Context, kbID string) error
}

// invalidator drops cached retrieval results for a knowledge base.
// Implemented by semcache.Cache.
type invalidator interface {
	Invalidate(ctx context.Context, tenantID, kbID string) error
}

// Manager couples knowledge base metadata with its vector collection and
// cached results, keeping the three consistent across create and delete.
type Manager struct {
	store      *Store
	vectors    collections
	cache      invalidator // nil disables cache invalidation
	vectorSize int
	logger     *slog.Logger
}

// NewManager creates a Manager. vectorSize is the embedding dimension used
// for new collections; cache may be nil.
func NewManager(store *Store, vectors collections, cache invalidator, vectorSize int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      store,
		vectors:    vectors,
		cache:      cache,
		vectorSize: vectorSize,
		logger:     logger,
	}
}

// Create provisions a knowledge base: the metadata row first, then its
// vector collection. If the collection cannot be created the row is removed
// again so a failed create leaves nothing behind.
func (m *Manager) Create(ctx context.Context, tenantID, name string, scope Scope, customInstructions string, groundedOnly bool) (KnowledgeBase, error) {
	if tenantID == "" {
		return KnowledgeBase{}, fmt.Errorf("%w: tenant ID is required", ErrInvalidName)
	}
	if name == "" {
		return KnowledgeBase{}, fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if !scope.Valid() {
		return KnowledgeBase{}, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}

	kb := KnowledgeBase{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		Name:               name,
		Scope:              scope,
		CustomInstructions: customInstructions,
		GroundedOnly:       groundedOnly,
		CreatedAt:          time.Now().UTC(),
	}

	if err := m.store.Create(ctx, kb); err != nil {
		return KnowledgeBase{}, err
	}
	if err := m.vectors.CreateCollection(ctx, kb.CollectionID(), m.vectorSize); err != nil {
		if delErr := m.store.Delete(ctx, tenantID, kb.ID); delErr != nil {
			m.logger.Error("orphaned knowledge base row after failed collection create",
				"kb_id", kb.ID, "error", delErr)
		}
		return KnowledgeBase{}, fmt.Errorf("failed to provision collection for %q: %w", name, err)
	}

	m.logger.Info("created knowledge base",
		"kb_id", kb.ID, "tenant", tenantID, "name", name, "scope", scope)
	return kb, nil
}

// Get fetches one knowledge base within a tenant.
func (m *Manager) Get(ctx context.Context, tenantID string, id uuid.UUID) (KnowledgeBase, error) {
	return m.store.Get(ctx, tenantID, id)
}

// List returns a tenant's knowledge bases.
func (m *Manager) List(ctx context.Context, tenantID string) ([]KnowledgeBase, error) {
	return m.store.List(ctx, tenantID)
}

// Delete tears a knowledge base down: vectors first, then cached results,
// then the metadata row. Ordered so that an interrupted delete leaves the
// knowledge base discoverable for a retry rather than silently half-gone.
func (m *Manager) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	kb, err := m.store.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	if err := m.vectors.DeleteCollection(ctx, kb.CollectionID()); err != nil {
		return fmt.Errorf("failed to delete collection for %s: %w", id, err)
	}
	if m.cache != nil {
		if err := m.cache.Invalidate(ctx, tenantID, kb.CollectionID()); err != nil {
			// Entries expire by TTL anyway; deletion proceeds.
			m.logger.Warn("cache invalidation failed during delete", "kb_id", id, "error", err)
		}
	}
	if err := m.store.Delete(ctx, tenantID, id); err != nil {
		return err
	}

	m.logger.Info("deleted knowledge base", "kb_id", id, "tenant", tenantID)
	return nil
}
