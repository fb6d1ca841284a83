// Package chi serves the Hologres REST protocol over any db.Transport.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/holodex/internal/db"
	"github.com/kailas-cloud/holodex/internal/db/cloud"
	"github.com/kailas-cloud/holodex/internal/domain"
	logpkg "github.com/kailas-cloud/holodex/internal/logger"
	"github.com/kailas-cloud/holodex/internal/usecase/health"
)

// maxBodyBytes bounds a decoded request body.
const maxBodyBytes = 32 << 20

// errorHandler tries to handle an error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server routes REST calls for one database to a backend transport.
type Server struct {
	backend       db.Transport
	database      string
	health        *health.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates a gateway for database backed by backend.
func NewServer(backend db.Transport, database string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		backend:  backend,
		database: database,
		health:   health.New(backend, nil),
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(db.ErrTableExists, http.StatusConflict, cloud.CodeConflict),
		outcomeHandler(db.OutcomeNotFound, http.StatusNotFound, cloud.CodeNotFound),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, cloud.CodeNotFound),
		sentinelHandler(domain.ErrDimensionMismatch, http.StatusBadRequest, cloud.CodeValidation),
		sentinelHandler(domain.ErrValidation, http.StatusBadRequest, cloud.CodeValidation),
		outcomeHandler(db.OutcomeTransient, http.StatusServiceUnavailable, cloud.CodeUnavailable),
		outcomeHandler(db.OutcomeFatal, http.StatusInternalServerError, cloud.CodeRejected),
	}
	return s
}

// Routes mounts the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Route("/api/v1/databases/{database}", func(r chi.Router) {
		r.Use(s.databaseGuard)
		r.Get("/tables", s.ListTables)
		r.Post("/tables", s.CreateTable)
		r.Route("/tables/{table}", func(r chi.Router) {
			r.Use(tableScope)
			r.Delete("/", s.DropTable)
			r.Patch("/", s.RenameTable)
			r.Get("/schema", s.GetSchema)
			r.Post("/query", s.Query)
			r.Post("/data", s.Mutate)
			r.Get("/indexes", s.ListIndexes)
			r.Post("/indexes", s.CreateIndex)
			r.Get("/indexes/{index}", s.DescribeIndex)
			r.Delete("/indexes/{index}", s.DropIndex)
		})
	})
}

// databaseGuard rejects paths for other databases.
func (s *Server) databaseGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, ok := pathParam(w, r, "database")
		if !ok {
			return
		}
		if name != s.database {
			writeError(w, http.StatusNotFound, cloud.CodeNotFound, "unknown database")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tableScope tags the request logger with the table name.
func tableScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logpkg.With(r.Context(), zap.String("table", chi.URLParam(r, "table")))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	if report.Status != health.Healthy {
		s.logger.Warn("health check failed",
			zap.String("status", string(report.Status)),
			zap.String("backend_error", report.Checks[health.ComponentBackend].Error),
		)
		writeJSON(w, http.StatusServiceUnavailable, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// ListTables handles GET /tables.
func (s *Server) ListTables(w http.ResponseWriter, r *http.Request) {
	names, err := s.backend.ListTables(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, cloud.TablesResponse{Tables: names})
}

// CreateTable handles POST /tables.
func (s *Server) CreateTable(w http.ResponseWriter, r *http.Request) {
	var req cloud.CreateTableRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sch, err := cloud.DecodeSchema(req.Schema)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if err := s.backend.CreateTable(r.Context(), req.Name, sch); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// DropTable handles DELETE /tables/{table}.
func (s *Server) DropTable(w http.ResponseWriter, r *http.Request) {
	table, ok := pathParam(w, r, "table")
	if !ok {
		return
	}
	if err := s.backend.DropTable(r.Context(), table); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenameTable handles PATCH /tables/{table}.
func (s *Server) RenameTable(w http.ResponseWriter, r *http.Request) {
	table, ok := pathParam(w, r, "table")
	if !ok {
		return
	}
	var req cloud.RenameTableRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.handleError(w, r, domain.NewValidation("name", "new table name is required"))
		return
	}
	if err := s.backend.RenameTable(r.Context(), table, req.Name); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSchema handles GET /tables/{table}/schema.
func (s *Server) GetSchema(w http.ResponseWriter, r *http.Request) {
	table, ok := pathParam(w, r, "table")
	if !ok {
		return
	}
	sch, err := s.backend.FetchSchema(r.Context(), table)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cloud.EncodeSchema(sch))
}

// Query handles POST /tables/{table}/query.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	table, ok := pathParam(w, r, "table")
	if !ok {
		return
	}
	var req cloud.QueryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	q, err := cloud.DecodeQuery(table, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, cloud.CodeBadRequest, err.Error())
		return
	}
	rs, err := s.backend.RunQuery(r.Context(), q)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	resp := cloud.QueryResponse{Total: rs.Total, Rows: make([]map[string]any, len(rs.Rows))}
	for i, row := range rs.Rows {
		resp.Rows[i] = row
	}
	writeJSON(w, http.StatusOK, resp)
}

// Mutate handles POST /tables/{table}/data.
func (s *Server) Mutate(w http.ResponseWriter, r *http.Request) {
	table, ok := pathParam(w, r, "table")
	if !ok {
		return
	}
	var req cloud.MutationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := cloud.DecodeMutation(table, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, cloud.CodeBadRequest, err.Error())
		return
	}
	n, err := s.backend.RunMutation(r.Context(), m)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cloud.MutationResponse{Affected: n})
}

// ListIndexes handles GET /tables/{table}/indexes.
func (s *Server) ListIndexes(w http.ResponseWriter, r *http.Request) {
	table, ok := pathParam(w, r, "table")
	if !ok {
		return
	}
	states, err := s.backend.ListIndexes(r.Context(), table)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	resp := cloud.IndexesResponse{Indexes: make([]cloud.IndexDoc, len(states))}
	for i, st := range states {
		resp.Indexes[i] = cloud.EncodeIndexState(st)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateIndex handles POST /tables/{table}/indexes.
func (s *Server) CreateIndex(w http.ResponseWriter, r *http.Request) {
	table, ok := pathParam(w, r, "table")
	if !ok {
		return
	}
	var req cloud.IndexDoc
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.backend.CreateIndex(r.Context(), table, cloud.DecodeIndexSpec(req)); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// DescribeIndex handles GET /tables/{table}/indexes/{index}.
func (s *Server) DescribeIndex(w http.ResponseWriter, r *http.Request) {
	table, ok := pathParam(w, r, "table")
	if !ok {
		return
	}
	name, ok := pathParam(w, r, "index")
	if !ok {
		return
	}
	st, err := s.backend.DescribeIndex(r.Context(), table, name)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cloud.EncodeIndexState(st))
}

// DropIndex handles DELETE /tables/{table}/indexes/{index}.
func (s *Server) DropIndex(w http.ResponseWriter, r *http.Request) {
	table, ok := pathParam(w, r, "table")
	if !ok {
		return
	}
	name, ok := pathParam(w, r, "index")
	if !ok {
		return
	}
	if err := s.backend.DropIndex(r.Context(), table, name); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pathParam binds a simple-style path parameter, writing 400 on failure.
func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var v string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &v,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		writeError(w, http.StatusBadRequest, cloud.CodeBadRequest, "invalid path parameter "+name)
		return "", false
	}
	return v, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, cloud.CodeBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, struct {
		Error cloud.ErrorBody `json:"error"`
	}{cloud.ErrorBody{Code: code, Message: message}})
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, err.Error())
		return true
	}
}

// outcomeHandler matches transport failures by outcome.
func outcomeHandler(outcome db.Outcome, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		var de *db.Error
		if !errors.As(err, &de) || de.Outcome != outcome {
			return false
		}
		if outcome == db.OutcomeTransient {
			w.Header().Set("Retry-After", "1")
		}
		writeError(w, status, code, err.Error())
		return true
	}
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	log.Warn("request failed", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, cloud.CodeInternal, "internal error")
}
