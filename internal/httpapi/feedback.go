package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/classifier"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/faults"
)

// FeedbackSink records votes on previously served answers
type FeedbackSink interface {
	Feedback(ctx context.Context, fingerprint string, positive bool) error
}

// FeedbackHandler accepts positive/negative votes that steer answer
// promotion and demotion in the adaptive cache.
type FeedbackHandler struct {
	sink   FeedbackSink
	logger *zap.Logger
}

func NewFeedbackHandler(sink FeedbackSink, logger *zap.Logger) *FeedbackHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackHandler{sink: sink, logger: logger}
}

func (h *FeedbackHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /feedback", h.handleFeedback)
}

type feedbackRequest struct {
	// one of Fingerprint or Question identifies the cached answer
	Fingerprint string `json:"fingerprint,omitempty"`
	Question    string `json:"question,omitempty"`
	Positive    bool   `json:"positive"`
}

func (h *FeedbackHandler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFault(w, h.logger, faults.Wrap(faults.KindInvalidInput, err, "invalid request body"))
		return
	}

	fp := req.Fingerprint
	if fp == "" {
		if req.Question == "" {
			writeFault(w, h.logger, faults.New(faults.KindInvalidInput, "fingerprint or question is required"))
			return
		}
		fp = classifier.Fingerprint(classifier.Normalize(req.Question))
	}

	if err := h.sink.Feedback(r.Context(), fp, req.Positive); err != nil {
		writeFault(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"fingerprint": fp, "status": "recorded"})
}
