package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"yashubustudio/qalens/qalens"
)

const maxUploadBytes = 64 << 20

// Server exposes one Service as a JSON API for dashboards and configuration assistants.
type Server struct {
	svc    *Service
	logger *zap.Logger
	router *mux.Router
}

// NewServer builds the router.
func NewServer(svc *Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, logger: logger, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(s.logRequests)
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/catalog", s.handleCatalog).Methods(http.MethodGet)

	api.HandleFunc("/tables", s.handleListTables).Methods(http.MethodGet)
	api.HandleFunc("/tables", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/tables/{id}", s.handleDeleteTable).Methods(http.MethodDelete)
	api.HandleFunc("/tables/{id}/mapping", s.handleGetMapping).Methods(http.MethodGet)
	api.HandleFunc("/tables/{id}/mapping", s.handleEditMapping).Methods(http.MethodPatch)
	api.HandleFunc("/tables/{id}/mapping/redetect", s.handleRedetect).Methods(http.MethodPost)
	api.HandleFunc("/tables/{id}/sample", s.handleSample).Methods(http.MethodGet)

	api.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/config/quality", s.handleSetQuality).Methods(http.MethodPut)
	api.HandleFunc("/config/project", s.handleSetProject).Methods(http.MethodPut)
	api.HandleFunc("/config/combine", s.handleSetCombine).Methods(http.MethodPut)
	api.HandleFunc("/config/consensus", s.handleSetConsensus).Methods(http.MethodPut)
	api.HandleFunc("/config/aggregate", s.handleSetAggregate).Methods(http.MethodPut)

	api.HandleFunc("/results/normalized/{id}", s.handleNormalized).Methods(http.MethodGet)
	api.HandleFunc("/results/joined", s.handleJoined).Methods(http.MethodGet)
	api.HandleFunc("/results/consensus", s.handleConsensus).Methods(http.MethodGet)
	api.HandleFunc("/results/aggregates", s.handleAggregates).Methods(http.MethodGet)
	api.HandleFunc("/results/snapshot", s.handleSnapshot).Methods(http.MethodGet)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	catalog := s.svc.Session().Catalog()
	writeJSON(w, http.StatusOK, catalogResponse{
		ProjectTypes: catalog.ProjectTypes(),
		QualityTypes: catalog.QualityTypes(),
	})
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Session().Tables())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("query parameter name is required"))
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
	info, mapping, err := s.svc.Upload(r.Context(), name, qalens.Format(r.URL.Query().Get("format")), body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, tableResponse{Table: info, Mapping: mapping})
}

func (s *Server) handleDeleteTable(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Session().RemoveTable(mux.Vars(r)["id"]); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	mapping, err := s.svc.Session().Mapping(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

func (s *Server) handleEditMapping(w http.ResponseWriter, r *http.Request) {
	var edit qalens.MappingEdit
	if !s.decode(w, r, &edit) {
		return
	}
	mapping, err := s.svc.Session().ApplyMappingEdit(mux.Vars(r)["id"], edit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

func (s *Server) handleRedetect(w http.ResponseWriter, r *http.Request) {
	mapping, err := s.svc.Session().Redetect(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	n := 20
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("n must be a positive integer"))
			return
		}
		n = parsed
	}
	table, err := s.svc.Session().Table(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	rows, err := s.svc.Session().SampleRows(id, n)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sampleResponse{Headers: table.Headers(), Rows: rows})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Session().Config())
}

func (s *Server) handleSetQuality(w http.ResponseWriter, r *http.Request) {
	var req qualityRequest
	if !s.decode(w, r, &req) {
		return
	}
	var err error
	switch {
	case req.Override != nil:
		err = s.svc.Session().SetQualityOverride(*req.Override)
	case req.ID != "":
		err = s.svc.Session().SetQualityType(req.ID)
	default:
		err = errors.New("either id or override is required")
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Session().QualityType())
}

func (s *Server) handleSetProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.Session().SetProjectType(req.ID); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Session().ProjectType())
}

func (s *Server) handleSetCombine(w http.ResponseWriter, r *http.Request) {
	cfg := s.svc.Session().Config()
	req := combineRequest{Mode: cfg.Combine, Role: cfg.JoinRole}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.Session().SetCombine(req.Mode, req.Role); err != nil {
		s.fail(w, err)
		return
	}
	if req.MaxMatchesPerKey > 0 {
		s.svc.Session().SetMaxMatchesPerKey(req.MaxMatchesPerKey)
	}
	writeJSON(w, http.StatusOK, s.svc.Session().Config())
}

func (s *Server) handleSetConsensus(w http.ResponseWriter, r *http.Request) {
	var opts qalens.ConsensusOptions
	if !s.decode(w, r, &opts) {
		return
	}
	if err := s.svc.Session().SetConsensusOptions(opts); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Session().Config())
}

func (s *Server) handleSetAggregate(w http.ResponseWriter, r *http.Request) {
	cfg := s.svc.Session().Config().Aggregate
	if !s.decode(w, r, &cfg) {
		return
	}
	if err := s.svc.Session().SetAggregateConfig(cfg); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Session().Config())
}

func (s *Server) handleNormalized(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Session().Normalized(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleJoined(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Session().Joined()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleConsensus(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Session().Consensus()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAggregates(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Session().Aggregates()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Session().Snapshot())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// fail maps engine errors onto HTTP statuses. Unknown tables are 404; everything else a
// caller can fix by changing the request is 400.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, qalens.ErrUnknownTable) {
		status = http.StatusNotFound
	}
	resp := errorResponse{Error: err.Error()}
	var gap *qalens.MappingGapError
	if errors.As(err, &gap) {
		resp.Missing = gap.Missing
	}
	writeJSON(w, status, resp)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}
