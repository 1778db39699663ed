package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/faults"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return NewStoreWithDB(sqlx.NewDb(raw, "sqlmock"), nil), mock
}

func docColumns() []string {
	return []string{
		"id", "owner_id", "filename", "mime_type", "status", "text",
		"page_count", "chunk_count", "embedding_version", "failure_reason",
		"created_at", "updated_at",
	}
}

func TestCreateInsertsPending(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO documents").
		WithArgs("doc-1", "user-1", "paper.pdf", "application/pdf", string(StatusPending), "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Create(context.Background(), &Document{
		ID: "doc-1", OwnerID: "user-1", Filename: "paper.pdf", MimeType: "application/pdf",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRejectsMissingIDs(t *testing.T) {
	store, _ := newMockStore(t)
	err := store.Create(context.Background(), &Document{ID: "doc-1"})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindInvalidInput))
}

func TestGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT \\* FROM documents WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(docColumns()))

	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindDocumentNotFound))
}

func TestGetOwnedHidesForeignDocuments(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows(docColumns()).AddRow(
		"doc-1", "owner-a", "f.txt", "text/plain", string(StatusIndexed), "body",
		nil, 3, "text-embedding-3-small", nil, now, now,
	)
	mock.ExpectQuery("SELECT \\* FROM documents WHERE id").
		WithArgs("doc-1").
		WillReturnRows(rows)

	_, err := store.GetOwned(context.Background(), "doc-1", "owner-b")
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindDocumentNotFound))
}

func TestMarkIndexedRecordsVersion(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE documents").
		WithArgs("doc-1", string(StatusIndexed), 7, "text-embedding-3-small").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkIndexed(context.Background(), "doc-1", 7, "text-embedding-3-small")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusValidatesAndReportsMissing(t *testing.T) {
	store, mock := newMockStore(t)

	err := store.UpdateStatus(context.Background(), "doc-1", Status("bogus"))
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindInvalidInput))

	mock.ExpectExec("UPDATE documents").
		WithArgs("ghost", string(StatusExtracting)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.UpdateStatus(context.Background(), "ghost", StatusExtracting)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindDocumentNotFound))
}

func TestDeleteMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM documents").
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindDocumentNotFound))
}
