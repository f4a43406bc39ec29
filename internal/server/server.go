// Package server implements the metacat HTTP API
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/schema"

	"github.com/opengeocube/metacat/internal/logger"
	"github.com/opengeocube/metacat/internal/metrics"
	"github.com/opengeocube/metacat/pkg/catalog"
	"github.com/opengeocube/metacat/pkg/dataset"
	"github.com/opengeocube/metacat/pkg/metadata"
	"github.com/opengeocube/metacat/pkg/resolver"
)

// URL parameter decoding, shared across handlers
var schemaDecoder = schema.NewDecoder()

func init() {
	schemaDecoder.IgnoreUnknownKeys(true)
	schemaDecoder.ZeroEmpty(true)
}

const maxBodyBytes = 8 << 20

// Server exposes the catalog over HTTP/JSON
type Server struct {
	store   *catalog.Store
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewServer opens the catalog database and creates the API server
func NewServer(dbPath string, log *logger.Logger, m *metrics.Metrics) (*Server, error) {
	store, err := catalog.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	return &Server{store: store, log: log, metrics: m}, nil
}

// Store returns the underlying catalog store
func (s *Server) Store() *catalog.Store {
	return s.store
}

// Close closes the catalog database
func (s *Server) Close() error {
	return s.store.Close()
}

// Router builds the API route table
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter().StrictSlash(true)
	r.Use(s.instrument)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/types", s.handleListTypes).Methods("GET")
	api.HandleFunc("/types", s.handlePutType).Methods("POST", "PUT")
	api.HandleFunc("/types/{name}", s.handleGetType).Methods("GET")
	api.HandleFunc("/types/{name}/revisions", s.handleRevisions).Methods("GET")
	api.HandleFunc("/types/{name}/resolve", s.handleResolve).Methods("POST")
	api.HandleFunc("/types/{name}/datasets", s.handleIndexDataset).Methods("POST")
	api.HandleFunc("/types/{name}/datasets", s.handleFindDatasets).Methods("GET")
	api.HandleFunc("/datasets/{id}", s.handleGetDataset).Methods("GET")
	api.HandleFunc("/datasets/{id}", s.handleDeleteDataset).Methods("DELETE")

	return r
}

// instrument is the API middleware recording request metrics and logs
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.metrics.HTTPRequestsInFlight.Inc()
		defer s.metrics.HTTPRequestsInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		duration := time.Since(start)
		status := "success"
		if rec.code >= 400 {
			status = "error"
		}
		s.metrics.RecordHTTPRequest(route, status, duration)
		s.log.LogHTTPRequest(r.Method, route, rec.code, duration)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// ========== Response helpers ==========

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

// statusFor maps known catalog and schema errors to HTTP codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrTypeNotFound),
		errors.Is(err, catalog.ErrDatasetNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrNoDatasetID),
		errors.Is(err, catalog.ErrUnknownField),
		errors.Is(err, catalog.ErrFieldNotIndexed),
		errors.Is(err, catalog.ErrBadQuery),
		errors.Is(err, metadata.ErrNoName),
		errors.Is(err, metadata.ErrDuplicateField),
		errors.Is(err, metadata.ErrUnknownKind),
		errors.Is(err, metadata.ErrMissingOffset),
		errors.Is(err, metadata.ErrOffsetMismatch),
		errors.Is(err, dataset.ErrInvalidJSON),
		errors.Is(err, dataset.ErrNotObject):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func readDocument(r *http.Request) (dataset.Document, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	return dataset.FromJSON(body)
}

// ========== Metadata type operations ==========

type typeSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Fields      []string `json:"fields"`
}

type putTypeResponse struct {
	Name     string   `json:"name"`
	Revision uint64   `json:"revision"`
	Fields   []string `json:"fields"`
}

func (s *Server) handleListTypes(w http.ResponseWriter, r *http.Request) {
	names := s.store.ListTypes()
	summaries := make([]typeSummary, 0, len(names))
	for _, name := range names {
		mt, ok := s.store.GetType(name)
		if !ok {
			continue
		}
		summaries = append(summaries, typeSummary{
			Name:        mt.Name,
			Description: mt.Description,
			Fields:      mt.FieldNames(),
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handlePutType(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	start := time.Now()
	mt, rev, err := s.store.PutType(body)
	s.metrics.RecordCatalogOperation("put_type", opStatus(err), time.Since(start))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	s.log.CatalogLogger("put_type").Info("metadata type registered").
		Str("type", mt.Name).
		Uint64("revision", rev).
		Int("fields", mt.Len()).
		Send()

	writeJSON(w, http.StatusCreated, putTypeResponse{
		Name:     mt.Name,
		Revision: rev,
		Fields:   mt.FieldNames(),
	})
}

func (s *Server) handleGetType(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	schemaDoc, err := s.store.TypeSchema(name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(schemaDoc)
}

func (s *Server) handleRevisions(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	revs, err := s.store.Revisions(name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, revs)
}

// ========== Resolution operations ==========

type fieldResult struct {
	Kind     metadata.Kind `json:"kind"`
	Indexed  bool          `json:"indexed"`
	Resolved bool          `json:"resolved"`
	Value    interface{}   `json:"value,omitempty"`
	Min      interface{}   `json:"min,omitempty"`
	Max      interface{}   `json:"max,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type resolveResponse struct {
	Type   string                 `json:"metadata_type"`
	Fields map[string]fieldResult `json:"fields"`
	Errors []string               `json:"errors,omitempty"`
}

func renderValue(kind metadata.Kind, v *resolver.Value) interface{} {
	if v == nil {
		return nil
	}
	switch kind {
	case metadata.KindString:
		return v.Str
	case metadata.KindDouble, metadata.KindDoubleRange:
		return v.Num
	case metadata.KindDatetimeRange:
		return v.Time
	}
	return v.Raw
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	mt, ok := s.store.GetType(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %q", catalog.ErrTypeNotFound, name))
		return
	}

	doc, err := readDocument(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	start := time.Now()
	res := resolver.ResolveAll(doc, mt)
	s.recordResolution(mt.Name, res, time.Since(start))

	resp := resolveResponse{
		Type:   res.Type,
		Fields: make(map[string]fieldResult, len(res.Fields)),
	}
	for fname, fv := range res.Fields {
		fr := fieldResult{
			Kind:     fv.Kind,
			Indexed:  fv.Indexed,
			Resolved: fv.Resolved(),
			Value:    renderValue(fv.Kind, fv.Value),
			Min:      renderValue(fv.Kind, fv.Min),
			Max:      renderValue(fv.Kind, fv.Max),
		}
		if fv.Err != nil {
			fr.Error = fv.Err.Error()
		}
		resp.Fields[fname] = fr
	}
	for _, err := range res.Errs() {
		resp.Errors = append(resp.Errors, err.Error())
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) recordResolution(typeName string, res *resolver.Result, duration time.Duration) {
	resolved, absent := 0, 0
	for fname, fv := range res.Fields {
		if fv.Resolved() {
			resolved++
		} else {
			absent++
		}
		if fv.Err != nil {
			s.metrics.CoercionErrorsTotal.WithLabelValues(typeName, fname).Inc()
		}
	}
	s.metrics.RecordResolution(typeName, resolved, absent, duration)
}

// ========== Dataset operations ==========

func (s *Server) handleIndexDataset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	doc, err := readDocument(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	start := time.Now()
	rec, err := s.store.IndexDataset(name, doc)
	s.metrics.RecordCatalogOperation("index_dataset", opStatus(err), time.Since(start))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	s.log.CatalogLogger("index_dataset").Info("dataset indexed").
		Str("type", name).
		Str("dataset", rec.ID).
		Send()

	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.GetDataset(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	start := time.Now()
	err := s.store.DeleteDataset(id)
	s.metrics.RecordCatalogOperation("delete_dataset", opStatus(err), time.Since(start))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// ========== Query operations ==========

type findRequest struct {
	Field  string   `schema:"field"`
	Value  *string  `schema:"value"`
	Min    *float64 `schema:"min"`
	Max    *float64 `schema:"max"`
	From   string   `schema:"from"`
	To     string   `schema:"to"`
	Limit  int      `schema:"limit"`
	Offset int      `schema:"offset"`
}

func (s *Server) handleFindDatasets(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req findRequest
	if err := schemaDecoder.Decode(&req, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Field == "" {
		writeError(w, http.StatusBadRequest, errors.New("field parameter is required"))
		return
	}

	qb := catalog.NewQuery(name).Field(req.Field)
	if req.Value != nil {
		qb.Equals(*req.Value)
	}
	if req.Min != nil && req.Max != nil {
		qb.Between(*req.Min, *req.Max)
	}
	if req.From != "" && req.To != "" {
		from, err := parseQueryTime(req.From)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		to, err := parseQueryTime(req.To)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		qb.During(from, to)
	}
	if req.Limit > 0 {
		qb.Limit(req.Limit)
	}
	if req.Offset > 0 {
		qb.Offset(req.Offset)
	}

	start := time.Now()
	records, err := s.store.Find(qb.Build())
	s.metrics.RecordCatalogOperation("find", opStatus(err), time.Since(start))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	s.metrics.QueriesTotal.Inc()
	s.metrics.QueryResultsTotal.Add(float64(len(records)))

	if records == nil {
		records = []*catalog.DatasetRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

var queryTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseQueryTime(s string) (time.Time, error) {
	for _, layout := range queryTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

func opStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
