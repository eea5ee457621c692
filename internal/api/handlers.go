package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prawnikgpt/prawnikgpt/internal/querystore"
	"github.com/prawnikgpt/prawnikgpt/internal/ratings"
)

// createQueryRequest is the POST /api/queries body.
type createQueryRequest struct {
	Question string `json:"question"`
}

// listResponse is the GET /api/queries body.
type listResponse struct {
	Queries []querystore.QueryRecord `json:"queries"`
	Total   int                      `json:"total"`
	Page    int                      `json:"page"`
	PerPage int                      `json:"per_page"`
}

// processingResponse acknowledges a background accurate-tier request.
type processingResponse struct {
	Status  string `json:"status"`
	QueryID string `json:"query_id"`
}

// ratingRequest is the PUT /api/queries/{id}/rating body.
type ratingRequest struct {
	Tier  ratings.Tier  `json:"tier"`
	Value ratings.Value `json:"value"`
}

// createQuery runs the fast tier synchronously and returns the answered
// record.
func (s *Server) createQuery(w http.ResponseWriter, r *http.Request) {
	var req createQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorCode(w, r, http.StatusBadRequest, "bad_request",
			"request body must be a JSON object with a question field", err)
		return
	}

	rec, err := s.orc.ProcessFast(r.Context(), UserID(r.Context()), req.Question)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// requestAccurate queues the accurate-tier generation for an owned query and
// acknowledges it immediately.
func (s *Server) requestAccurate(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedQuery(w, r)
	if !ok {
		return
	}
	if rec.Fast == nil {
		s.writeError(w, r, querystore.ErrFastMissing)
		return
	}
	if rec.Accurate != nil {
		s.writeErrorCode(w, r, http.StatusConflict, "accurate_response_exists",
			"an accurate response was already generated for this query", nil)
		return
	}

	if err := s.dispatcher.Submit(rec.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, processingResponse{
		Status:  "processing",
		QueryID: rec.ID,
	})
}

// listQueries returns one page of the caller's query history, newest first
// unless order=asc.
func (s *Server) listQueries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := querystore.ListOptions{
		Page:       atoiDefault(q.Get("page"), 1),
		PerPage:    atoiDefault(q.Get("per_page"), querystore.DefaultPerPage),
		Descending: q.Get("order") != "asc",
	}.Normalize()

	records, total, err := s.store.ListByUser(r.Context(), UserID(r.Context()), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Queries: records,
		Total:   total,
		Page:    opts.Page,
		PerPage: opts.PerPage,
	})
}

func (s *Server) getQuery(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedQuery(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) deleteQuery(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedQuery(w, r)
	if !ok {
		return
	}
	if err := s.store.Delete(r.Context(), rec.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// putRating records the caller's verdict on one response tier.
func (s *Server) putRating(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedQuery(w, r)
	if !ok {
		return
	}

	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorCode(w, r, http.StatusBadRequest, "bad_request",
			"request body must be a JSON object with tier and value fields", err)
		return
	}

	err := s.ratings.Upsert(r.Context(), ratings.Rating{
		QueryID: rec.ID,
		UserID:  UserID(r.Context()),
		Tier:    req.Tier,
		Value:   req.Value,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deleteRating removes the caller's verdict for the tier given in the ?tier
// query parameter.
func (s *Server) deleteRating(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedQuery(w, r)
	if !ok {
		return
	}

	tier := ratings.Tier(r.URL.Query().Get("tier"))
	if tier != ratings.TierFast && tier != ratings.TierAccurate {
		s.writeError(w, r, ratings.ErrInvalid)
		return
	}

	if err := s.ratings.Delete(r.Context(), rec.ID, UserID(r.Context()), tier); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// metricsSnapshot serves the in-process rolling-window statistics.
func (s *Server) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orc.Collector().Snapshot())
}

// ownedQuery loads the {id} path record and enforces ownership. Records of
// other users read as not found so existence is not leaked. On failure the
// error response is already written.
func (s *Server) ownedQuery(w http.ResponseWriter, r *http.Request) (*querystore.QueryRecord, bool) {
	rec, err := s.store.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	if rec.UserID != UserID(r.Context()) {
		s.writeError(w, r, querystore.ErrNotFound)
		return nil, false
	}
	return rec, true
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
