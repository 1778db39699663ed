package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/faults"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/ingest"
)

// maxDocumentBody bounds an ingestion request body
const maxDocumentBody = 10 << 20

// Ingestor is the slice of the ingestion service the transport needs
type Ingestor interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
	Status(ctx context.Context, docID, ownerID string) (*ingest.Result, error)
	Delete(ctx context.Context, docID, ownerID string) error
}

// DocumentsHandler serves document ingestion, status, and deletion
type DocumentsHandler struct {
	ingestor Ingestor
	logger   *zap.Logger
}

func NewDocumentsHandler(ingestor Ingestor, logger *zap.Logger) *DocumentsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentsHandler{ingestor: ingestor, logger: logger}
}

func (h *DocumentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /documents", h.handleIngest)
	mux.HandleFunc("GET /documents/{id}", h.handleStatus)
	mux.HandleFunc("DELETE /documents/{id}", h.handleDelete)
}

type ingestRequest struct {
	DocumentID string `json:"document_id,omitempty"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type,omitempty"`
	Text       string `json:"text"`
	PageCount  int    `json:"page_count,omitempty"`
}

type documentResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
}

func (h *DocumentsHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeFault(w, h.logger, faults.New(faults.KindInvalidInput, "missing X-User-ID header"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBody)
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFault(w, h.logger, faults.Wrap(faults.KindInvalidInput, err, "invalid request body"))
		return
	}
	if req.DocumentID == "" {
		req.DocumentID = uuid.NewString()
	}

	res, err := h.ingestor.Ingest(r.Context(), ingest.Request{
		DocumentID: req.DocumentID,
		OwnerID:    uid,
		Filename:   req.Filename,
		MimeType:   req.MimeType,
		Text:       req.Text,
		PageCount:  req.PageCount,
	})
	if err != nil {
		writeFault(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, documentResponse{
		DocumentID: req.DocumentID,
		Status:     string(res.Status),
		ChunkCount: res.ChunkCount,
	})
}

func (h *DocumentsHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeFault(w, h.logger, faults.New(faults.KindInvalidInput, "missing X-User-ID header"))
		return
	}

	docID := r.PathValue("id")
	res, err := h.ingestor.Status(r.Context(), docID, uid)
	if err != nil {
		writeFault(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, documentResponse{
		DocumentID: docID,
		Status:     string(res.Status),
		ChunkCount: res.ChunkCount,
	})
}

func (h *DocumentsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeFault(w, h.logger, faults.New(faults.KindInvalidInput, "missing X-User-ID header"))
		return
	}

	if err := h.ingestor.Delete(r.Context(), r.PathValue("id"), uid); err != nil {
		writeFault(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
