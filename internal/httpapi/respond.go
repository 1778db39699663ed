package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/faults"
)

// errorEnvelope is the uniform JSON error body
type errorEnvelope struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusForKind maps a fault kind onto an HTTP status code
func statusForKind(k faults.Kind) int {
	switch k {
	case faults.KindInvalidInput:
		return http.StatusBadRequest
	case faults.KindDocumentNotFound:
		return http.StatusNotFound
	case faults.KindNotReady:
		return http.StatusConflict
	case faults.KindDependencyUnavailable:
		return http.StatusBadGateway
	case faults.KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case faults.KindOverloaded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeFault(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := faults.KindOf(err)
	status := statusForKind(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// never leak internals
		msg = "internal error"
		logger.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, errorEnvelope{Error: msg, Kind: kind.String()})
}

// userID extracts the authenticated caller set by the upstream gateway
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}
