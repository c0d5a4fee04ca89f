package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/norwood-labs/marginalia/internal/core/domain"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

func TestFetchCandidatesScoped(t *testing.T) {
	db, mock := newMock(t)

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "title", "body", "annotation", "tags", "source_type", "scope",
	}).
		AddRow("n1", "t1", "On conscience", "Conscience is the inner moral sense.",
			"key definition", []byte(`["ethics","philosophy"]`), "note", "philosophy").
		AddRow("n2", "t1", "Virtue notes", "The stoics on virtue.",
			nil, []byte(`[]`), "note", nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM notes")).
		WithArgs("t1", "philosophy").
		WillReturnRows(rows)

	got, err := NewNoteRepository(db).FetchCandidates(context.Background(), "t1", "philosophy")
	if err != nil {
		t.Fatalf("fetch candidates: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("notes = %d, want 2", len(got))
	}

	first := got[0]
	if first.ID != "n1" || first.Annotation != "key definition" || first.Scope != "philosophy" {
		t.Fatalf("unexpected first note: %+v", first)
	}
	if len(first.Tags) != 2 || first.Tags[0] != "ethics" {
		t.Fatalf("tags = %v", first.Tags)
	}

	second := got[1]
	if second.Annotation != "" || second.Scope != "" {
		t.Fatalf("NULL columns should scan to empty strings: %+v", second)
	}
	if len(second.Tags) != 0 {
		t.Fatalf("empty tags jsonb should decode to no tags: %v", second.Tags)
	}
}

func TestFetchCandidatesEmptyScopeQueriesWholeCorpus(t *testing.T) {
	db, mock := newMock(t)

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "title", "body", "annotation", "tags", "source_type", "scope",
	}).AddRow("n3", "t1", "Garden journal", "Tomatoes and basil.", nil, []byte(`[]`), "note", "garden")

	// Only the tenant argument; no scope clause.
	mock.ExpectQuery(regexp.QuoteMeta("FROM notes")).
		WithArgs("t1").
		WillReturnRows(rows)

	got, err := NewNoteRepository(db).FetchCandidates(context.Background(), "t1", "")
	if err != nil {
		t.Fatalf("fetch candidates: %v", err)
	}
	if len(got) != 1 || got[0].ID != "n3" {
		t.Fatalf("unexpected notes: %+v", got)
	}
}

func TestGetStateNotFound(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM conversation_states")).
		WithArgs("t1", "c-404").
		WillReturnRows(sqlmock.NewRows([]string{"state"}))

	_, err := NewConversationRepository(db).GetState(context.Background(), "t1", "c-404")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not-found kind", err)
	}
}

func TestGetStateDecodesDocument(t *testing.T) {
	db, mock := newMock(t)

	document := []byte(`{"conversation_id":"c1","active_topic":"conscience","turn":3,"exploratory":true}`)
	mock.ExpectQuery(regexp.QuoteMeta("FROM conversation_states")).
		WithArgs("t1", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(document))

	state, err := NewConversationRepository(db).GetState(context.Background(), "t1", "c1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.ConversationID != "c1" || state.ActiveTopic != "conscience" {
		t.Fatalf("unexpected state: %+v", state)
	}
	if state.Turn != 3 || !state.Exploratory {
		t.Fatalf("turn/exploratory not decoded: %+v", state)
	}
}

func TestSaveStateUpserts(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO conversation_states")).
		WithArgs("t1", "c1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewConversationRepository(db).SaveState(context.Background(), "t1", &domain.ConversationState{
		ConversationID: "c1",
		ActiveTopic:    "conscience",
		Turn:           1,
	})
	if err != nil {
		t.Fatalf("save state: %v", err)
	}
}

func TestAppendUsage(t *testing.T) {
	db, mock := newMock(t)

	createdAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO usage_logs")).
		WithArgs("answer:abc", "t1", "what is conscience", "QUOTE", "PASS",
			7.5, false, int64(1250), createdAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := NewUsageLogRepository(db).AppendUsage(context.Background(), domain.UsageRecord{
		Fingerprint:  "answer:abc",
		TenantID:     "t1",
		Question:     "what is conscience",
		Mode:         domain.ModeQuote,
		Verdict:      domain.VerdictPass,
		QualityScore: 7.5,
		CacheHit:     false,
		Latency:      1250 * time.Millisecond,
		CreatedAt:    createdAt,
	})
	if err != nil {
		t.Fatalf("append usage: %v", err)
	}
}
