package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prawnikgpt/prawnikgpt/internal/observe"
	"github.com/prawnikgpt/prawnikgpt/internal/pipeline"
	"github.com/prawnikgpt/prawnikgpt/internal/querystore"
	"github.com/prawnikgpt/prawnikgpt/internal/ratings"
	"github.com/prawnikgpt/prawnikgpt/pkg/index"
	"github.com/prawnikgpt/prawnikgpt/pkg/llm"
)

// errorBody is the JSON envelope for every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// mapError translates a pipeline or store error into an HTTP status, a stable
// machine-readable code, and a client-facing message.
func mapError(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, querystore.ErrInvalidQuestion):
		return http.StatusBadRequest, "invalid_question",
			"question must be between 10 and 1000 characters"
	case errors.Is(err, ratings.ErrInvalid):
		return http.StatusBadRequest, "invalid_rating",
			"tier must be fast or accurate, value must be up or down"
	case errors.Is(err, index.ErrNoRelevantActs):
		return http.StatusNotFound, "no_relevant_acts",
			"no legal acts in the corpus are relevant to this question"
	case errors.Is(err, querystore.ErrNotFound):
		return http.StatusNotFound, "query_not_found", "query not found"
	case errors.Is(err, ratings.ErrNotFound):
		return http.StatusNotFound, "rating_not_found", "rating not found"
	case errors.Is(err, querystore.ErrFastMissing):
		return http.StatusConflict, "fast_response_missing",
			"the fast response must exist before an accurate one can be generated"
	case errors.Is(err, pipeline.ErrAccurateExists):
		return http.StatusConflict, "accurate_response_exists",
			"an accurate response was already generated for this query"
	case errors.Is(err, llm.ErrTimeout):
		return http.StatusGatewayTimeout, "generation_timeout",
			"the language model did not answer within its time budget"
	case errors.Is(err, llm.ErrOutOfMemory):
		return http.StatusInternalServerError, "inference_out_of_memory",
			"the inference server ran out of memory"
	case errors.Is(err, llm.ErrModelNotFound),
		errors.Is(err, llm.ErrUnavailable):
		return http.StatusServiceUnavailable, "inference_unavailable",
			"the inference server is unavailable, try again later"
	case errors.Is(err, pipeline.ErrQueueFull),
		errors.Is(err, pipeline.ErrDispatcherStopped):
		return http.StatusServiceUnavailable, "queue_full",
			"the background queue is full, try again later"
	default:
		return http.StatusInternalServerError, "internal_error",
			"internal server error"
	}
}

// writeError renders err through [mapError] into the error envelope. Raw
// error text is attached only when the server runs with verbose errors.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	s.writeErrorCode(w, r, status, code, message, err)
}

// writeErrorCode renders an explicit status/code pair. cause may be nil.
func (s *Server) writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, message string, cause error) {
	if status >= http.StatusInternalServerError && cause != nil {
		s.logger.Error("request failed",
			"request_id", observe.RequestID(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", cause,
		)
	}

	detail := errorDetail{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
		RequestID: observe.RequestID(r.Context()),
	}
	if s.verboseErrors && cause != nil {
		detail.Details = cause.Error()
	}
	writeJSON(w, status, errorBody{Error: detail})
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
