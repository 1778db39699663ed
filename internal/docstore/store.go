package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/circuitbreaker"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/faults"
)

// Config holds document store connection settings
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
	SSLMode         string
}

// Store persists document records in PostgreSQL behind a circuit breaker
type Store struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
}

// NewStore opens the connection pool and verifies connectivity
func NewStore(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 5
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	raw, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open docstore: %w", err)
	}
	raw.SetMaxOpenConns(cfg.MaxConnections)
	raw.SetMaxIdleConns(cfg.IdleConnections)
	raw.SetConnMaxLifetime(cfg.MaxLifetime)

	db := circuitbreaker.NewDatabaseWrapper(raw, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("failed to ping docstore: %w", err)
	}

	logger.Info("Document store initialized",
		zap.String("host", cfg.Host),
		zap.Int("max_connections", cfg.MaxConnections),
	)
	return &Store{db: db, logger: logger}, nil
}

// NewStoreWithDB wraps an existing handle; used in tests
func NewStoreWithDB(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: circuitbreaker.NewDatabaseWrapper(db, logger), logger: logger}
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id                TEXT PRIMARY KEY,
	owner_id          TEXT NOT NULL,
	filename          TEXT NOT NULL DEFAULT '',
	mime_type         TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending',
	text              TEXT NOT NULL DEFAULT '',
	page_count        INTEGER,
	chunk_count       INTEGER NOT NULL DEFAULT 0,
	embedding_version TEXT,
	failure_reason    TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);
`

// EnsureSchema creates the documents table if missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return faults.Wrap(faults.KindDependencyUnavailable, err, "ensure docstore schema")
	}
	return nil
}

// Create inserts a new document record in pending state
func (s *Store) Create(ctx context.Context, doc *Document) error {
	if doc.ID == "" || doc.OwnerID == "" {
		return faults.New(faults.KindInvalidInput, "document id and owner id are required")
	}
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, filename, mime_type, status, text)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.ID, doc.OwnerID, doc.Filename, doc.MimeType, doc.Status, doc.Text,
	)
	if err != nil {
		return faults.Wrap(faults.KindDependencyUnavailable, err, "create document")
	}
	return nil
}

// Get returns a document by id
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := s.db.GetContext(ctx, &doc, `SELECT * FROM documents WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, faults.New(faults.KindDocumentNotFound, "document %s not found", id)
	}
	if err != nil {
		return nil, faults.Wrap(faults.KindDependencyUnavailable, err, "get document")
	}
	return &doc, nil
}

// GetOwned returns a document only if it belongs to the given owner.
// A document owned by someone else reads as not found.
func (s *Store) GetOwned(ctx context.Context, id, ownerID string) (*Document, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, faults.New(faults.KindDocumentNotFound, "document %s not found", id)
	}
	return doc, nil
}

// List returns an owner's documents, newest first
func (s *Store) List(ctx context.Context, ownerID string) ([]Document, error) {
	var docs []Document
	err := s.db.SelectContext(ctx, &docs,
		`SELECT * FROM documents WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, faults.Wrap(faults.KindDependencyUnavailable, err, "list documents")
	}
	return docs, nil
}

// UpdateStatus transitions a document's processing state
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return faults.New(faults.KindInvalidInput, "invalid document status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return faults.Wrap(faults.KindDependencyUnavailable, err, "update document status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.New(faults.KindDocumentNotFound, "document %s not found", id)
	}
	return nil
}

// SetText stores the extracted plain text and optional page count
func (s *Store) SetText(ctx context.Context, id, text string, pageCount int) error {
	var pages interface{}
	if pageCount > 0 {
		pages = pageCount
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET text = $2, page_count = $3, updated_at = now() WHERE id = $1`,
		id, text, pages)
	if err != nil {
		return faults.Wrap(faults.KindDependencyUnavailable, err, "set document text")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.New(faults.KindDocumentNotFound, "document %s not found", id)
	}
	return nil
}

// MarkIndexed records a successful ingestion: chunk count plus the
// embedding model version the chunks were indexed under.
func (s *Store) MarkIndexed(ctx context.Context, id string, chunkCount int, embeddingVersion string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = $2, chunk_count = $3, embedding_version = $4, failure_reason = NULL, updated_at = now()
		WHERE id = $1`,
		id, StatusIndexed, chunkCount, embeddingVersion)
	if err != nil {
		return faults.Wrap(faults.KindDependencyUnavailable, err, "mark document indexed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.New(faults.KindDocumentNotFound, "document %s not found", id)
	}
	return nil
}

// MarkFailed records a failed ingestion with its reason
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = $2, failure_reason = $3, updated_at = now() WHERE id = $1`,
		id, StatusFailed, reason)
	if err != nil {
		return faults.Wrap(faults.KindDependencyUnavailable, err, "mark document failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.New(faults.KindDocumentNotFound, "document %s not found", id)
	}
	return nil
}

// Delete removes a document record
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return faults.Wrap(faults.KindDependencyUnavailable, err, "delete document")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.New(faults.KindDocumentNotFound, "document %s not found", id)
	}
	return nil
}

// Healthy reports whether the store answers a ping
func (s *Store) Healthy(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// Close closes the underlying pool
func (s *Store) Close() error {
	return s.db.Close()
}
