// Package vectorstore persists chunk vectors in PostgreSQL + pgvector and
// serves similarity search with tenant and ACL filtering pushed into SQL.
//
// Each knowledge base gets its own chunk table (one collection per knowledge
// base), tracked in a collections registry. Access control is enforced
// server-side: every search query carries the requester's tenant, user, and
// group identifiers, and rows the requester cannot read never leave the
// database.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// Sentinel errors for vector store operations.
var (
	// ErrStore indicates a storage backend failure.
	ErrStore = errors.New("vector store failure")

	// ErrDimensionMismatch indicates a vector whose length does not match
	// the collection's configured dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrMissingTenant indicates a point or filter without a tenant ID.
	// Tenant isolation depends on this field; operations refuse to proceed
	// without it rather than defaulting to anything permissive.
	ErrMissingTenant = errors.New("missing tenant ID")

	// ErrCollectionNotFound indicates an operation against a knowledge base
	// whose collection was never created.
	ErrCollectionNotFound = errors.New("collection not found")
)

// BatchError reports points that failed during a bulk upsert. Points not
// listed were written successfully.
type BatchError struct {
	Failed []string // point IDs that failed
	cause  error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d points failed to upsert: %v", len(e.Failed), e.cause)
}

func (e *BatchError) Unwrap() error { return e.cause }

// defaultQueryTimeout bounds a single search query.
const defaultQueryTimeout = 10 * time.Second

// upsertBatchSize is the number of points queued per database round trip.
const upsertBatchSize = 100

// Point is one stored chunk vector with its payload.
type Point struct {
	ID          uuid.UUID
	Vector      []float32
	DocumentID  string
	ChunkIndex  int
	Text        string
	StartOffset int
	EndOffset   int
	Filename    string
	Page        int // 0 when the source has no page structure
	TenantID    string
	ACLUsers    []string
	ACLGroups   []string
}

// ACLFilter identifies the requester for a search. A row is visible when its
// tenant matches and the requester is listed in acl_users or shares at least
// one group with acl_groups.
type ACLFilter struct {
	TenantID string
	UserID   string
	GroupIDs []string
}

// Hit is one search result, most similar first.
type Hit struct {
	ID          uuid.UUID
	Score       float32 // cosine similarity in [0, 1] for normalized vectors
	Text        string
	DocumentID  string
	ChunkIndex  int
	StartOffset int
	EndOffset   int
	Filename    string
	Page        int
}

// Pool defines the database operations the store needs. *pgxpool.Pool
// satisfies it; tests substitute a fake.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store manages per-knowledge-base vector collections.
// Safe for concurrent use.
type Store struct {
	pool   Pool
	logger *slog.Logger
}

// New creates a Store. A nil logger falls back to slog.Default().
func New(pool Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// tableName maps a knowledge base ID to its chunk table. Identifiers cannot
// be query parameters, so the ID is validated strictly before interpolation:
// only lowercase hex and dashes (UUID alphabet) are accepted.
func tableName(kbID string) (string, error) {
	if kbID == "" {
		return "", fmt.Errorf("%w: empty knowledge base ID", ErrStore)
	}
	for _, r := range kbID {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		default:
			return "", fmt.Errorf("%w: invalid knowledge base ID %q", ErrStore, kbID)
		}
	}
	return "kb_" + strings.ReplaceAll(kbID, "-", "_"), nil
}

// CreateCollection provisions the chunk table for a knowledge base.
// Idempotent: recreating with the same vector size is a no-op; recreating
// with a different size returns ErrDimensionMismatch.
func (s *Store) CreateCollection(ctx context.Context, kbID string, vectorSize int) error {
	if vectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive, got %d", ErrStore, vectorSize)
	}
	table, err := tableName(kbID)
	if err != nil {
		return err
	}

	var existing int
	err = s.pool.QueryRow(ctx,
		`SELECT vector_size FROM collections WHERE kb_id = $1`, kbID,
	).Scan(&existing)
	switch {
	case err == nil:
		if existing != vectorSize {
			return fmt.Errorf("%w: collection %s has dimension %d, requested %d",
				ErrDimensionMismatch, kbID, existing, vectorSize)
		}
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		// Fall through to create.
	default:
		return fmt.Errorf("%w: lookup collection %s: %w", ErrStore, kbID, err)
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id UUID PRIMARY KEY,
			embedding vector(%[2]d) NOT NULL,
			document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset INTEGER NOT NULL,
			filename TEXT NOT NULL DEFAULT '',
			page INTEGER NOT NULL DEFAULT 0,
			tenant_id TEXT NOT NULL,
			acl_users TEXT[] NOT NULL DEFAULT '{}',
			acl_groups TEXT[] NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS %[1]s_tenant_idx ON %[1]s (tenant_id);
		CREATE INDEX IF NOT EXISTS %[1]s_document_idx ON %[1]s (document_id);
		CREATE INDEX IF NOT EXISTS %[1]s_acl_users_idx ON %[1]s USING GIN (acl_users);
		CREATE INDEX IF NOT EXISTS %[1]s_acl_groups_idx ON %[1]s USING GIN (acl_groups);
		CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx ON %[1]s
			USING hnsw (embedding vector_cosine_ops);`, table, vectorSize)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("%w: create collection %s: %w", ErrStore, kbID, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO collections (kb_id, vector_size, metric)
		 VALUES ($1, $2, 'cosine')
		 ON CONFLICT (kb_id) DO NOTHING`, kbID, vectorSize)
	if err != nil {
		return fmt.Errorf("%w: register collection %s: %w", ErrStore, kbID, err)
	}

	s.logger.Info("created collection", "kb_id", kbID, "vector_size", vectorSize)
	return nil
}

// Upsert writes points into a knowledge base's collection in batches.
// All points are validated before any write: a point without a tenant ID or
// with a wrong-sized vector rejects the whole call. Database-level failures
// after validation are collected per point into a *BatchError so one bad row
// does not discard the rest of the batch.
func (s *Store) Upsert(ctx context.Context, kbID string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	table, err := tableName(kbID)
	if err != nil {
		return err
	}

	var vectorSize int
	err = s.pool.QueryRow(ctx,
		`SELECT vector_size FROM collections WHERE kb_id = $1`, kbID,
	).Scan(&vectorSize)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, kbID)
		}
		return fmt.Errorf("%w: lookup collection %s: %w", ErrStore, kbID, err)
	}

	for i, p := range points {
		if p.TenantID == "" {
			return fmt.Errorf("%w: point %d (document %q)", ErrMissingTenant, i, p.DocumentID)
		}
		if len(p.Vector) != vectorSize {
			return fmt.Errorf("%w: point %d has %d dimensions, collection %s expects %d",
				ErrDimensionMismatch, i, len(p.Vector), kbID, vectorSize)
		}
	}

	sql := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, document_id, chunk_index, content,
			start_offset, end_offset, filename, page, tenant_id, acl_users, acl_groups)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			document_id = EXCLUDED.document_id,
			chunk_index = EXCLUDED.chunk_index,
			content = EXCLUDED.content,
			start_offset = EXCLUDED.start_offset,
			end_offset = EXCLUDED.end_offset,
			filename = EXCLUDED.filename,
			page = EXCLUDED.page,
			tenant_id = EXCLUDED.tenant_id,
			acl_users = EXCLUDED.acl_users,
			acl_groups = EXCLUDED.acl_groups`, table)

	var failed []string
	var cause error
	for start := 0; start < len(points); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		chunk := points[start:end]

		batch := &pgx.Batch{}
		for _, p := range chunk {
			batch.Queue(sql,
				p.ID, pgvector.NewVector(p.Vector), p.DocumentID, p.ChunkIndex, p.Text,
				p.StartOffset, p.EndOffset, p.Filename, p.Page,
				p.TenantID, p.ACLUsers, p.ACLGroups)
		}

		br := s.pool.SendBatch(ctx, batch)
		for _, p := range chunk {
			if _, execErr := br.Exec(); execErr != nil {
				failed = append(failed, p.ID.String())
				cause = execErr
			}
		}
		if closeErr := br.Close(); closeErr != nil && cause == nil {
			cause = closeErr
		}
	}

	if len(failed) > 0 {
		return &BatchError{Failed: failed, cause: fmt.Errorf("%w: %w", ErrStore, cause)}
	}
	if cause != nil {
		return fmt.Errorf("%w: upsert into %s: %w", ErrStore, kbID, cause)
	}

	s.logger.Debug("upserted points", "kb_id", kbID, "count", len(points))
	return nil
}

// Search returns up to limit hits for the query vector, filtered server-side
// by tenant and ACL, with similarity at or above threshold. Results are
// ordered by similarity descending with (document_id, chunk_index) as a
// deterministic tiebreak.
//
// A requester with no matching ACL entries gets an empty result, not an
// error: invisible rows are indistinguishable from absent rows.
func (s *Store) Search(ctx context.Context, kbID string, vector []float32, filter ACLFilter, threshold float32, limit int) ([]Hit, error) {
	if filter.TenantID == "" {
		return nil, fmt.Errorf("%w: search requires a tenant", ErrMissingTenant)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrStore, limit)
	}
	table, err := tableName(kbID)
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	groups := filter.GroupIDs
	if groups == nil {
		groups = []string{}
	}

	sql := fmt.Sprintf(`
		SELECT id, 1 - (embedding <=> $1) AS similarity, content,
			document_id, chunk_index, start_offset, end_offset, filename, page
		FROM %s
		WHERE tenant_id = $2
		  AND (acl_users @> ARRAY[$3]::text[] OR acl_groups && $4::text[])
		  AND 1 - (embedding <=> $1) >= $5
		ORDER BY similarity DESC, document_id, chunk_index
		LIMIT $6`, table)

	rows, err := s.pool.Query(queryCtx, sql,
		pgvector.NewVector(vector), filter.TenantID, filter.UserID, groups, threshold, limit)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, kbID)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: search timeout in %s: %w", ErrStore, kbID, err)
		}
		return nil, fmt.Errorf("%w: search %s: %w", ErrStore, kbID, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Score, &h.Text, &h.DocumentID, &h.ChunkIndex,
			&h.StartOffset, &h.EndOffset, &h.Filename, &h.Page); err != nil {
			return nil, fmt.Errorf("%w: scan search row: %w", ErrStore, err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: search %s: %w", ErrStore, kbID, err)
	}
	return hits, nil
}

// DeleteDocument removes every chunk of a document within a tenant.
// Returns the number of chunks removed.
func (s *Store) DeleteDocument(ctx context.Context, kbID, tenantID, documentID string) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: delete requires a tenant", ErrMissingTenant)
	}
	table, err := tableName(kbID)
	if err != nil {
		return 0, err
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1 AND document_id = $2`, table),
		tenantID, documentID)
	if err != nil {
		if isUndefinedTable(err) {
			return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, kbID)
		}
		return 0, fmt.Errorf("%w: delete document %q from %s: %w", ErrStore, documentID, kbID, err)
	}

	s.logger.Debug("deleted document chunks",
		"kb_id", kbID, "document_id", documentID, "chunks", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// DeleteCollection drops a knowledge base's chunk table and its registry
// entry in one transaction. Deleting an absent collection is a no-op.
func (s *Store) DeleteCollection(ctx context.Context, kbID string) error {
	table, err := tableName(kbID)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin delete collection %s: %w", ErrStore, kbID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
		return fmt.Errorf("%w: drop collection %s: %w", ErrStore, kbID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM collections WHERE kb_id = $1`, kbID); err != nil {
		return fmt.Errorf("%w: unregister collection %s: %w", ErrStore, kbID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit delete collection %s: %w", ErrStore, kbID, err)
	}

	s.logger.Info("deleted collection", "kb_id", kbID)
	return nil
}

// Count returns the number of stored chunks in a collection.
func (s *Store) Count(ctx context.Context, kbID string) (int64, error) {
	table, err := tableName(kbID)
	if err != nil {
		return 0, err
	}

	var count int64
	err = s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count)
	if err != nil {
		if isUndefinedTable(err) {
			return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, kbID)
		}
		return 0, fmt.Errorf("%w: count %s: %w", ErrStore, kbID, err)
	}
	return count, nil
}

// isUndefinedTable reports whether err is PostgreSQL's undefined_table
// (42P01), which surfaces when a collection was never created.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
