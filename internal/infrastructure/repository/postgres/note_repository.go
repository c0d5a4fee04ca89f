package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/norwood-labs/marginalia/internal/core/domain"
)

// NoteRepository is the read-only corpus view the answer engine retrieves
// candidates from. Writes happen in the ingestion pipeline, not here.
type NoteRepository struct {
	db *sql.DB
}

func NewNoteRepository(db *sql.DB) *NoteRepository {
	return &NoteRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *NoteRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082601)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS notes (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	title TEXT NOT NULL,
	body TEXT NOT NULL,
	annotation TEXT,
	tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	source_type TEXT NOT NULL,
	scope TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notes_tenant ON notes(tenant_id);
CREATE INDEX IF NOT EXISTS idx_notes_tenant_scope ON notes(tenant_id, scope);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	question TEXT NOT NULL,
	mode TEXT NOT NULL,
	verdict TEXT NOT NULL,
	quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	cache_hit BOOLEAN NOT NULL DEFAULT FALSE,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_logs_tenant_created ON usage_logs(tenant_id, created_at DESC);

CREATE TABLE IF NOT EXISTS conversation_states (
	tenant_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	state JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, conversation_id)
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// FetchCandidates reads the tenant's candidate pool. An empty scope means
// the whole corpus; rows come back in stable id order so repeated passes
// see the same pool.
func (r *NoteRepository) FetchCandidates(ctx context.Context, tenantID, scope string) ([]domain.Note, error) {
	const base = `
SELECT id, tenant_id, title, body, annotation, tags, source_type, scope
FROM notes
WHERE tenant_id = $1`

	var rows *sql.Rows
	var err error
	if scope == "" {
		rows, err = r.db.QueryContext(ctx, base+` ORDER BY id`, tenantID)
	} else {
		rows, err = r.db.QueryContext(ctx, base+` AND scope = $2 ORDER BY id`, tenantID, scope)
	}
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Note, 0, 64)
	for rows.Next() {
		var note domain.Note
		var annotation, noteScope sql.NullString
		var tagsRaw []byte
		if err := rows.Scan(
			&note.ID, &note.TenantID, &note.Title, &note.Body,
			&annotation, &tagsRaw, &note.SourceType, &noteScope,
		); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		note.Annotation = annotation.String
		note.Scope = noteScope.String
		if err := json.Unmarshal(tagsRaw, &note.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
		out = append(out, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return out, nil
}
