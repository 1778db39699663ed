package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/chunking"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/docstore"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/faults"
	ometrics "github.com/Shubh2310-developer/Engunity-AI-sub002/internal/metrics"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/vectordb"
)

// embedBatchSize bounds a single embedding request during ingestion
const embedBatchSize = 32

// DocumentStore is the slice of the record store ingestion needs
type DocumentStore interface {
	Create(ctx context.Context, doc *docstore.Document) error
	GetOwned(ctx context.Context, id, ownerID string) (*docstore.Document, error)
	UpdateStatus(ctx context.Context, id string, status docstore.Status) error
	SetText(ctx context.Context, id, text string, pageCount int) error
	MarkIndexed(ctx context.Context, id string, chunkCount int, embeddingVersion string) error
	MarkFailed(ctx context.Context, id, reason string) error
	Delete(ctx context.Context, id string) error
}

// Embedder produces unit vectors for passage texts
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelVersion() string
}

// VectorIndex receives chunk vectors and serves deletes
type VectorIndex interface {
	Upsert(ctx context.Context, points []vectordb.ChunkPoint) error
	DeleteDocument(ctx context.Context, documentID string) error
}

// Request describes one document to ingest
type Request struct {
	DocumentID string
	OwnerID    string
	Filename   string
	MimeType   string
	Text       string
	PageCount  int
}

// Result reports the outcome of an ingestion
type Result struct {
	Status     docstore.Status
	ChunkCount int
}

// Service runs the chunk → embed → index pipeline. Writes for a given
// document are serialized; different documents ingest concurrently.
type Service struct {
	store    DocumentStore
	chunker  *chunking.Chunker
	embedder Embedder
	index    VectorIndex
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(store DocumentStore, chunker *chunking.Chunker, embedder Embedder, index VectorIndex, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockFor returns the serialization lock for a document
func (s *Service) lockFor(docID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[docID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[docID] = l
	}
	return l
}

// Ingest creates the document record and runs the full indexing pipeline.
// On any pipeline failure the record is left in the failed state with a
// reason; the caller still gets the fault.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	if req.DocumentID == "" || req.OwnerID == "" {
		return nil, faults.New(faults.KindInvalidInput, "document id and owner id are required")
	}

	lock := s.lockFor(req.DocumentID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	// chunk before touching storage so oversized input never creates a record
	passages, err := s.chunker.Split(req.Text)
	if err != nil {
		return nil, err
	}

	doc := &docstore.Document{
		ID:       req.DocumentID,
		OwnerID:  req.OwnerID,
		Filename: req.Filename,
		MimeType: req.MimeType,
		Status:   docstore.StatusPending,
	}
	if err := s.store.Create(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.store.UpdateStatus(ctx, req.DocumentID, docstore.StatusExtracting); err != nil {
		return nil, err
	}
	if err := s.store.SetText(ctx, req.DocumentID, req.Text, req.PageCount); err != nil {
		return nil, err
	}

	if len(passages) == 0 {
		reason := "document produced no passages"
		_ = s.store.MarkFailed(ctx, req.DocumentID, reason)
		ometrics.DocumentsIngested.WithLabelValues("failed").Inc()
		return &Result{Status: docstore.StatusFailed}, faults.New(faults.KindInvalidInput, "%s", reason)
	}

	version := s.embedder.ModelVersion()
	if err := s.indexPassages(ctx, req.DocumentID, passages, version); err != nil {
		_ = s.store.MarkFailed(ctx, req.DocumentID, err.Error())
		ometrics.DocumentsIngested.WithLabelValues("failed").Inc()
		return &Result{Status: docstore.StatusFailed}, err
	}

	if err := s.store.MarkIndexed(ctx, req.DocumentID, len(passages), version); err != nil {
		return nil, err
	}

	ometrics.DocumentsIngested.WithLabelValues("indexed").Inc()
	ometrics.IngestDuration.Observe(time.Since(start).Seconds())
	s.logger.Info("Document indexed",
		zap.String("document_id", req.DocumentID),
		zap.Int("chunks", len(passages)),
		zap.String("embedding_version", version),
		zap.Duration("took", time.Since(start)),
	)
	return &Result{Status: docstore.StatusIndexed, ChunkCount: len(passages)}, nil
}

// indexPassages embeds passages in bounded batches and upserts them
func (s *Service) indexPassages(ctx context.Context, docID string, passages []chunking.Passage, version string) error {
	for lo := 0; lo < len(passages); lo += embedBatchSize {
		hi := lo + embedBatchSize
		if hi > len(passages) {
			hi = len(passages)
		}
		batch := passages[lo:hi]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Text
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}

		points := make([]vectordb.ChunkPoint, len(batch))
		for i, p := range batch {
			points[i] = vectordb.ChunkPoint{
				Ref:          vectordb.ChunkRef{DocumentID: docID, Ordinal: p.Ordinal},
				Vector:       vecs[i],
				Text:         p.Text,
				CharStart:    p.CharStart,
				CharEnd:      p.CharEnd,
				ContentHash:  p.ContentHash,
				ModelVersion: version,
			}
		}
		if err := s.index.Upsert(ctx, points); err != nil {
			return err
		}
	}
	return nil
}

// Status reports a document's processing state to its owner
func (s *Service) Status(ctx context.Context, docID, ownerID string) (*Result, error) {
	doc, err := s.store.GetOwned(ctx, docID, ownerID)
	if err != nil {
		return nil, err
	}
	return &Result{Status: doc.Status, ChunkCount: doc.ChunkCount}, nil
}

// Delete removes a document's vectors and its record
func (s *Service) Delete(ctx context.Context, docID, ownerID string) error {
	if _, err := s.store.GetOwned(ctx, docID, ownerID); err != nil {
		return err
	}

	lock := s.lockFor(docID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.index.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, docID); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.locks, docID)
	s.mu.Unlock()

	s.logger.Info("Document deleted", zap.String("document_id", docID))
	return nil
}
