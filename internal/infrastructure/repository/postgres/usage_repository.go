package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/norwood-labs/marginalia/internal/core/domain"
)

// UsageLogRepository appends answer quality records. Append-only: the
// engine never updates or deletes usage rows.
type UsageLogRepository struct {
	db *sql.DB
}

func NewUsageLogRepository(db *sql.DB) *UsageLogRepository {
	return &UsageLogRepository{db: db}
}

func (r *UsageLogRepository) AppendUsage(ctx context.Context, record domain.UsageRecord) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO usage_logs (
	fingerprint, tenant_id, question, mode, verdict, quality_score, cache_hit, latency_ms, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		record.Fingerprint, record.TenantID, record.Question, string(record.Mode), string(record.Verdict),
		record.QualityScore, record.CacheHit, record.Latency.Milliseconds(), record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}
