package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"eventscatalog/internal/catalog"
	"eventscatalog/internal/event"

	"github.com/go-chi/chi/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// eventDetail is a single event with the source card content attached.
type eventDetail struct {
	catalog.Event
	RawContent json.RawMessage `json:"raw_content,omitempty"`
}

type healthResponse struct {
	Status        string   `json:"status"`
	Uptime        string   `json:"uptime"`
	CachedLocales []string `json:"cached_locales"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		CachedLocales: []string{},
	}
	if s.locales != nil {
		resp.CachedLocales = s.locales.Locales()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	criteria, err := catalog.ParseCriteria(q.Get("filters"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.eventSvc.Search(r.Context(), event.SearchRequest{
		Locale:   q.Get("locale"),
		Query:    q.Get("q"),
		Criteria: criteria,
		Limit:    limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, res)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := strings.TrimSpace(chi.URLParam(r, "id"))
	if eventID == "" {
		s.writeError(w, r, fmt.Errorf("%w: event id is required", catalog.ErrInvalidCriteria))
		return
	}

	e, err := s.eventSvc.Get(r.Context(), r.URL.Query().Get("locale"), eventID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, eventDetail{Event: e, RawContent: e.Raw})
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	res, err := s.eventSvc.Filters(r.Context(), r.URL.Query().Get("locale"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	criteria, err := catalog.ParseCriteria(q.Get("filters"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dims, err := catalog.ParseDimensions(q.Get("dimensions"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.eventSvc.Stats(r.Context(), event.StatsRequest{
		Locale:     q.Get("locale"),
		Criteria:   criteria,
		Dimensions: dims,
		Limit:      limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respond(w, r, res)
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer, got %q", catalog.ErrInvalidCriteria, v)
	}
	return n, nil
}

// respond encodes into a buffer first so an encoding failure can still
// become a 500 and a client that went away is not written to.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, v any) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:  http.StatusText(http.StatusInternalServerError),
			Status: http.StatusInternalServerError,
		})
		return
	}

	if r.Context().Err() != nil {
		s.logger.Debug("Client disconnected before sending response")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		if strings.Contains(err.Error(), "broken pipe") {
			s.logger.Debug("Client disconnected while sending response")
		} else {
			s.logger.Error("Failed to write response", zap.Error(err))
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errStatus(err)
	if code >= 500 {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("code", code),
			zap.Error(err))
	}
	writeJSON(w, code, errorResponse{Error: errText(err, code), Status: code})
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, catalog.ErrInvalidCriteria):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, catalog.ErrFetch):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// errText exposes client errors verbatim; server side failures stay opaque
// apart from naming the upstream.
func errText(err error, code int) string {
	switch code {
	case http.StatusBadRequest, http.StatusNotFound:
		return err.Error()
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return "events source unavailable"
	}
	return http.StatusText(code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
