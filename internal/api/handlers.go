package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kyleking/fedquery/internal/cache"
	"github.com/kyleking/fedquery/internal/documents"
	apperrors "github.com/kyleking/fedquery/internal/errors"
	"github.com/kyleking/fedquery/internal/search"
	"github.com/kyleking/fedquery/internal/types"
)

const defaultDocumentPage = 20

type errorBody struct {
	Type        apperrors.ErrorType `json:"type"`
	Message     string              `json:"message"`
	Suggestions []string            `json:"suggestions,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// statusFor maps an error type onto an HTTP status
func statusFor(errType apperrors.ErrorType) int {
	switch errType {
	case apperrors.ErrTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrTypeRejectedGeneration:
		return http.StatusUnprocessableEntity
	case apperrors.ErrTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrTypeTimeout:
		return http.StatusGatewayTimeout
	case apperrors.ErrTypeDependencyUnavailable, apperrors.ErrTypeNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Type: apperrors.GetType(err), Message: err.Error()}

	var typed *apperrors.Error
	if apperrors.As(err, &typed) {
		body.Suggestions = typed.Suggestions
	}

	status := statusFor(body.Type)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", r.URL.Path).Warn("Request failed")
	}

	s.writeJSON(w, status, errorResponse{Error: body})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return apperrors.Wrap(err, apperrors.ErrTypeValidation, "invalid request body")
	}

	return nil
}

type searchRequest struct {
	Query              string   `json:"query"`
	SearchStructured   *bool    `json:"searchStructured,omitempty"`
	SearchUnstructured *bool    `json:"searchUnstructured,omitempty"`
	SourceNames        []string `json:"sourceNames,omitempty"`
	LimitPerSource     int      `json:"limitPerSource,omitempty"`
	Page               int      `json:"page,omitempty"`
	PageSize           int      `json:"pageSize,omitempty"`
}

// options fills unset leg switches with the defaults, which enable both legs
func (req searchRequest) options() search.Options {
	opts := search.DefaultOptions()
	if req.SearchStructured != nil {
		opts.SearchStructured = *req.SearchStructured
	}

	if req.SearchUnstructured != nil {
		opts.SearchUnstructured = *req.SearchUnstructured
	}

	opts.SourceNames = req.SourceNames
	opts.LimitPerSource = req.LimitPerSource
	opts.PageSize = req.PageSize

	if req.Page > 0 {
		opts.Page = req.Page
	}

	return opts
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.orch.Search(r.Context(), req.Query, req.options())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

type generateRequest struct {
	Query  string `json:"query"`
	Source string `json:"source,omitempty"`
}

func (s *Server) handleGenerateQuery(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	q, err := s.orch.GenerateQuery(r.Context(), req.Query, req.Source)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, q)
}

type sqlRequest struct {
	Source   string `json:"source"`
	SQL      string `json:"sql"`
	Limit    int    `json:"limit,omitempty"`
	UseCache *bool  `json:"useCache,omitempty"`
	// PageSize > 0 keeps the full result for paging and returns its first page
	PageSize int `json:"pageSize,omitempty"`
}

type sqlResponse struct {
	Source string           `json:"source"`
	Cached bool             `json:"cached"`
	Rows   int              `json:"rowCount"`
	Table  *types.Table     `json:"table"`
	Page   *cache.TablePage `json:"page,omitempty"`
}

func (s *Server) handleExecuteSQL(w http.ResponseWriter, r *http.Request) {
	var req sqlRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if strings.TrimSpace(req.Source) == "" {
		s.writeError(w, r, apperrors.NewValidationError("source", "is required"))
		return
	}

	if strings.TrimSpace(req.SQL) == "" {
		s.writeError(w, r, apperrors.NewValidationError("sql", "is required"))
		return
	}

	if req.PageSize < 0 {
		s.writeError(w, r, apperrors.NewValidationError("pageSize", "must not be negative"))
		return
	}

	if req.PageSize > 0 && !s.requireCache(w, r) {
		return
	}

	useCache := req.UseCache == nil || *req.UseCache

	table, cached, err := s.orch.ExecuteSQL(r.Context(), req.Source, req.SQL, req.Limit, useCache)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := sqlResponse{Source: req.Source, Cached: cached, Rows: table.RowCount(), Table: table}

	if req.PageSize > 0 {
		paginator := cache.NewPaginator(s.orch.Cache(), req.PageSize, 0)

		id, err := paginator.Store(r.Context(), table)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		first, err := paginator.Page(r.Context(), id, 1, req.PageSize)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		resp.Table = first.Table
		resp.Page = &first
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResultPage(w http.ResponseWriter, r *http.Request) {
	if !s.requireCache(w, r) {
		return
	}

	page, err := intParam(r, "page", 1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	size, err := intParam(r, "pageSize", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out, err := cache.NewPaginator(s.orch.Cache(), 0, 0).Page(r.Context(), chi.URLParam(r, "id"), page, size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, out)
}

type sourceInfo struct {
	Name          string `json:"name"`
	IndexedTables int    `json:"indexedTables"`
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	names := s.orch.Sources()
	out := make([]sourceInfo, 0, len(names))

	for _, name := range names {
		info := sourceInfo{Name: name}
		if s.schemas != nil {
			info.IndexedTables = len(s.schemas.Descriptors(name))
		}

		out = append(out, info)
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) requireCache(w http.ResponseWriter, r *http.Request) bool {
	if s.orch.Cache() != nil {
		return true
	}

	s.writeError(w, r, apperrors.New(apperrors.ErrTypeDependencyUnavailable, "result cache is disabled").
		WithSuggestion("Set FEDQUERY_CACHE_ENABLED=true"))

	return false
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireCache(w, r) {
		return
	}

	s.writeJSON(w, http.StatusOK, s.orch.Cache().Stats())
}

func (s *Server) handleCacheEntries(w http.ResponseWriter, r *http.Request) {
	if !s.requireCache(w, r) {
		return
	}

	s.writeJSON(w, http.StatusOK, s.orch.Cache().CachedQueries())
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if !s.requireCache(w, r) {
		return
	}

	prefix := r.URL.Query().Get("prefix")
	n := s.orch.Cache().Invalidate(r.Context(), prefix)

	s.logger.WithFields(map[string]interface{}{"prefix": prefix, "removed": n}).Info("Invalidated cache")
	s.writeJSON(w, http.StatusOK, map[string]int{"invalidated": n})
}

func (s *Server) requireDocuments(w http.ResponseWriter, r *http.Request) bool {
	if s.documents != nil {
		return true
	}

	s.writeError(w, r, apperrors.New(apperrors.ErrTypeDependencyUnavailable, "no document index configured"))

	return false
}

func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	if !s.requireDocuments(w, r) {
		return
	}

	var doc documents.Document
	if err := s.decode(w, r, &doc); err != nil {
		s.writeError(w, r, err)
		return
	}

	id, err := s.documents.Add(r.Context(), doc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type documentSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Server) handleSearchDocuments(w http.ResponseWriter, r *http.Request) {
	if !s.requireDocuments(w, r) {
		return
	}

	var req documentSearchRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if req.Limit <= 0 {
		req.Limit = search.DefaultLimitPerSource
	}

	hits, err := s.documents.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if hits == nil {
		hits = []types.DocumentHit{}
	}

	s.writeJSON(w, http.StatusOK, hits)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	if !s.requireDocuments(w, r) {
		return
	}

	limit, err := intParam(r, "limit", defaultDocumentPage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	offset, err := intParam(r, "offset", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	docs, err := s.documents.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if !s.requireDocuments(w, r) {
		return
	}

	if err := s.documents.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status  string      `json:"status"`
	Sources int         `json:"sources"`
	Cache   bool        `json:"cache"`
	Memory  interface{} `json:"memory,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Sources: len(s.orch.Sources()),
		Cache:   s.orch.Cache() != nil,
	}

	if s.metrics != nil {
		resp.Memory = s.metrics.Memory().GetStats()
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.NewValidationError(name, "must be a non-negative integer, got %q", raw)
	}

	return n, nil
}
