package docstore

import (
	"database/sql"
	"time"
)

// Status is the document processing state
type Status string

const (
	StatusPending    Status = "pending"
	StatusExtracting Status = "extracting"
	StatusIndexed    Status = "indexed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known processing state
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusExtracting, StatusIndexed, StatusFailed:
		return true
	}
	return false
}

// Document is one uploaded document record. Text is the extracted plain
// text; EmbeddingVersion tags which embedding model indexed its chunks.
type Document struct {
	ID               string         `db:"id"`
	OwnerID          string         `db:"owner_id"`
	Filename         string         `db:"filename"`
	MimeType         string         `db:"mime_type"`
	Status           Status         `db:"status"`
	Text             string         `db:"text"`
	PageCount        sql.NullInt32  `db:"page_count"`
	ChunkCount       int            `db:"chunk_count"`
	EmbeddingVersion sql.NullString `db:"embedding_version"`
	FailureReason    sql.NullString `db:"failure_reason"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}
