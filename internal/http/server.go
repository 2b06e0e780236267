package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"nsmeta/pkg/cluster"
	"nsmeta/pkg/directory"
	"nsmeta/pkg/encoding/custom"
	"nsmeta/pkg/metadata"
	"nsmeta/pkg/semilattice"
	"nsmeta/pkg/types"
)

const (
	contentTypeJSON          = "application/json"
	contentTypeBinary        = "application/octet-stream"
	defaultHTTPPort          = "8080"
	defaultShutdownTimeout   = time.Second * 5
	defaultReadHeaderTimeout = time.Second
	maxBodySize              = 64 << 20
)

// iNode - то, что HTTP слою нужно от контекста ноды
type iNode interface {
	ID() types.NodeID
	Snapshot() *metadata.Namespaces
	Directory() *directory.Directory
	Halted() bool
	Writers() []types.NodeID

	CreateTable(database types.DatabaseID, name metadata.Name, primaryKey metadata.PrimaryKey) (types.NamespaceID, error)
	DeleteTable(id types.NamespaceID) error
	ProposeField(id types.NamespaceID, field string, data []byte) (metadata.FieldView, error)
	Announce(table types.NamespaceID, payload []byte) directory.Announcement
}

// iGossip - принимающая сторона обмена состоянием
type iGossip interface {
	Handle(ctx context.Context, payload []byte) ([]byte, error)
}

// Server represents the HTTP server over one node context
type Server struct {
	node       iNode
	gossip     iGossip // опционально: без него gossip endpoint не регистрируется
	httpServer *http.Server
	URL        string
	addr       string

	ReadHeaderTimeout time.Duration
}

// NewServer creates a new server instance
func NewServer(node iNode, gossip iGossip, port string) *Server {
	if port == "" {
		port = defaultHTTPPort
	}
	return &Server{
		node:              node,
		gossip:            gossip,
		URL:               "http://localhost:" + port,
		addr:              ":" + port,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
}

// Start starts the server
func (s *Server) Start() error {
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	return nil
}

// Handler returns the router; tests and embedding servers use it directly.
func (s *Server) Handler() http.Handler {
	return s.createRouter()
}

// createRouter builds chi router
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api/tables", func(r chi.Router) {
		r.Get("/", s.handleListTables)
		r.Post("/", s.handleCreateTable)
		r.Get("/{id}", s.handleGetTable)
		r.Delete("/{id}", s.handleDeleteTable)
		r.Get("/{id}/{field}", s.handleGetField)
		r.Put("/{id}/{field}", s.handlePutField)
	})
	r.Get("/api/conflicts", s.handleConflicts)
	r.Get("/api/directory", s.handleDirectory)
	r.Put("/api/directory/{table}", s.handleAnnounce)

	// gossip endpoint только если есть gossiper
	if s.gossip != nil {
		r.Post("/api/internal/gossip", s.handleGossip)
	}

	return r
}

func (s *Server) startHTTPServer() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: s.ReadHeaderTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

// writeError maps domain errors to HTTP statuses
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		status    int
		integrity *semilattice.DataIntegrityError
		decode    *custom.DecodeError
	)
	switch {
	case errors.Is(err, metadata.ErrNotFound), errors.Is(err, metadata.ErrUnknownField):
		status = http.StatusNotFound
	case errors.Is(err, metadata.ErrTombstoned):
		status = http.StatusGone
	case errors.Is(err, metadata.ErrNameConflict):
		status = http.StatusConflict
	case errors.Is(err, metadata.ErrInvalidValue), errors.Is(err, metadata.ErrImmutableField),
		errors.Is(err, cluster.ErrBadMessage), errors.As(err, &decode):
		status = http.StatusBadRequest
	case errors.Is(err, cluster.ErrMergeHalted):
		status = http.StatusServiceUnavailable
	case errors.As(err, &integrity):
		slog.Error("data integrity violation", "error", err)
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, NewErrorResponse(err.Error()))
}

func (s *Server) tableID(w http.ResponseWriter, r *http.Request, param string) (types.NamespaceID, bool) {
	id, err := types.ParseID(chi.URLParam(r, param))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Invalid table id"))
		return id, false
	}
	return id, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.node.Halted() {
		s.writeJSON(w, http.StatusServiceUnavailable, NewErrorResponse("merging halted"))
		return
	}
	resp := NewOKResponse()
	resp.Data = healthView{
		Node:    s.node.ID(),
		Tables:  len(s.node.Snapshot().Live()),
		Writers: s.node.Writers(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := s.node.Snapshot()
	halted := 0
	if s.node.Halted() {
		halted = 1
	}
	_, err := fmt.Fprintf(w,
		"# nsmeta metrics\nnsmeta_tables %d\nnsmeta_live_tables %d\nnsmeta_conflicts %d\nnsmeta_announcements %d\nnsmeta_merge_halted %d\n",
		m.Len(), len(m.Live()), len(m.Conflicts()), s.node.Directory().Len(), halted)
	if err != nil {
		slog.Warn("Failed to write metrics response", "error", err)
	}
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	live := s.node.Snapshot().Live()
	out := make([]tableSummary, 0, len(live))
	for _, e := range live {
		out = append(out, newTableSummary(e))
	}
	s.writeJSON(w, http.StatusOK, NewDataResponse(out))
}

func (s *Server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	var req createTableRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to parse body"))
		return
	}
	if req.Database == (types.DatabaseID{}) {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing database"))
		return
	}

	id, err := s.node.CreateTable(req.Database, req.Name, req.PrimaryKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, NewValueResponse(id.String()))
}

func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	id, ok := s.tableID(w, r, "id")
	if !ok {
		return
	}
	t, err := s.node.Snapshot().Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewDataResponse(tableView{ID: id, Fields: metadata.Views(t)}))
}

func (s *Server) handleDeleteTable(w http.ResponseWriter, r *http.Request) {
	id, ok := s.tableID(w, r, "id")
	if !ok {
		return
	}
	if err := s.node.DeleteTable(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleGetField(w http.ResponseWriter, r *http.Request) {
	id, ok := s.tableID(w, r, "id")
	if !ok {
		return
	}
	view, err := metadata.ReadField(s.node.Snapshot(), id, chi.URLParam(r, "field"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewDataResponse(view))
}

func (s *Server) handlePutField(w http.ResponseWriter, r *http.Request) {
	id, ok := s.tableID(w, r, "id")
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil || len(body) == 0 {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing value"))
		return
	}

	view, err := s.node.ProposeField(id, chi.URLParam(r, "field"), body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewDataResponse(view))
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts := s.node.Snapshot().Conflicts()
	if conflicts == nil {
		conflicts = []metadata.Conflict{}
	}
	s.writeJSON(w, http.StatusOK, NewDataResponse(conflicts))
}

func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	var anns []directory.Announcement
	if raw := r.URL.Query().Get("table"); raw != "" {
		table, err := types.ParseID(raw)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Invalid table id"))
			return
		}
		anns = s.node.Directory().ForTable(table)
	} else {
		s.node.Directory().Range(func(a directory.Announcement) bool {
			anns = append(anns, a)
			return true
		})
	}

	out := make([]announcementView, 0, len(anns))
	for _, a := range anns {
		out = append(out, newAnnouncementView(a))
	}
	s.writeJSON(w, http.StatusOK, NewDataResponse(out))
}

func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	table, ok := s.tableID(w, r, "table")
	if !ok {
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to read body"))
		return
	}
	a := s.node.Announce(table, payload)
	s.writeJSON(w, http.StatusOK, NewDataResponse(newAnnouncementView(a)))
}

func (s *Server) handleGossip(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to read body"))
		return
	}

	reply, err := s.gossip.Handle(r.Context(), payload)
	if err != nil {
		slog.Warn("gossip exchange rejected", "remote", r.RemoteAddr, "error", err)
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentTypeBinary)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(reply); err != nil {
		slog.Warn("Failed to write gossip reply", "error", err)
	}
}
