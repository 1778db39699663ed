package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/answer"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/faults"
)

// AnswerEngine is the slice of the engine the transport needs
type AnswerEngine interface {
	Answer(ctx context.Context, req answer.Request) (*answer.Answer, error)
}

// AnswerHandler serves question answering over HTTP
type AnswerHandler struct {
	engine AnswerEngine
	logger *zap.Logger
}

func NewAnswerHandler(engine AnswerEngine, logger *zap.Logger) *AnswerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnswerHandler{engine: engine, logger: logger}
}

func (h *AnswerHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /answer", h.handleAnswer)
}

// wire DTOs; the engine's own types carry no transport concerns
type answerOptions struct {
	ResponseFormat        string   `json:"response_format,omitempty"`
	MaxSources            int      `json:"max_sources,omitempty"`
	NCandidates           int      `json:"n_candidates,omitempty"`
	AllowExternalFallback *bool    `json:"allow_external_fallback,omitempty"`
	ConfidenceFloor       *float64 `json:"confidence_floor,omitempty"`
	Mode                  string   `json:"mode,omitempty"`
	DeadlineMs            *int64   `json:"deadline_ms,omitempty"`
}

type answerRequest struct {
	Question   string        `json:"question"`
	DocumentID string        `json:"document_id"`
	Options    answerOptions `json:"options"`
}

func (h *AnswerHandler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeFault(w, h.logger, faults.New(faults.KindInvalidInput, "missing X-User-ID header"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFault(w, h.logger, faults.Wrap(faults.KindInvalidInput, err, "invalid request body"))
		return
	}

	ans, err := h.engine.Answer(r.Context(), answer.Request{
		Question:   req.Question,
		DocumentID: req.DocumentID,
		UserID:     uid,
		Options: answer.Options{
			ResponseFormat:        req.Options.ResponseFormat,
			MaxSources:            req.Options.MaxSources,
			NCandidates:           req.Options.NCandidates,
			AllowExternalFallback: req.Options.AllowExternalFallback,
			ConfidenceFloor:       req.Options.ConfidenceFloor,
			Mode:                  req.Options.Mode,
			DeadlineMs:            req.Options.DeadlineMs,
		},
	})
	if err != nil {
		// the engine pairs some failures with a well-formed answer body
		// (deadline, overload, fallback errors); serve that body under the
		// mapped status so clients still get status and sources
		if ans != nil {
			status := statusForKind(faults.KindOf(err))
			if status == http.StatusInternalServerError {
				h.logger.Error("Answer failed", zap.Error(err))
			}
			writeJSON(w, status, ans)
			return
		}
		writeFault(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}
