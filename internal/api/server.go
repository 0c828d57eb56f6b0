package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"litagent/internal/arxiv"
	"litagent/internal/assistant"
	"litagent/internal/config"
	"litagent/internal/ingest"
	"litagent/internal/models"
	"litagent/internal/util"
	"litagent/internal/workflows"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.uber.org/zap"
)

// Assistant is the research assistant surface the HTTP layer exposes.
type Assistant interface {
	Ask(ctx context.Context, req assistant.AskRequest) (assistant.AskResponse, error)
	IngestByKeyword(ctx context.Context, userID, keyword string, maxResults int) ([]ingest.Outcome, error)
	Upload(ctx context.Context, userID, filename string, data []byte) (ingest.Outcome, error)
	Library(ctx context.Context, userID string) ([]models.Paper, error)
	Summaries(ctx context.Context, userID, paperID string) ([]models.Summary, error)
	Chunks(ctx context.Context, userID, paperID string) ([]models.Chunk, error)
	Sessions(ctx context.Context, userID string) ([]models.SessionInfo, error)
	History(ctx context.Context, userID, sessionID string) ([]models.Transcript, error)
}

// WorkflowClient is the part of the Temporal client used to start and watch
// library growth runs.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options tclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (tclient.WorkflowRun, error)
	QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error)
}

type Server struct {
	cfg      config.Config
	svc      Assistant
	temporal WorkflowClient
	logger   *zap.Logger
}

// NewServer wires the HTTP surface. temporal may be nil, in which case the
// durable growth endpoints report the service as unavailable.
func NewServer(cfg config.Config, svc Assistant, temporal WorkflowClient, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, svc: svc, temporal: temporal, logger: logger}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ask", s.handleAsk)
	mux.HandleFunc("/library", s.handleLibrary)
	mux.HandleFunc("/library/", s.handleLibraryScoped)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sessions/", s.handleSessionScoped)
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "durable_growth": s.temporal != nil})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req assistant.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	resp, err := s.svc.Ask(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	papers, err := s.svc.Library(r.Context(), userParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"papers": papers})
}

func (s *Server) handleLibraryScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/library/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}

	switch {
	case len(parts) == 1 && parts[0] == "ingest":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleIngest(w, r)
	case len(parts) == 1 && parts[0] == "upload":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleUpload(w, r)
	case len(parts) == 1 && parts[0] == "grow":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleGrow(w, r)
	case len(parts) == 2 && parts[0] == "grow":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleGrowProgress(w, r, parts[1])
	case len(parts) == 2 && parts[1] == "summaries":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		summaries, err := s.svc.Summaries(r.Context(), userParam(r), parts[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"summaries": summaries})
	case len(parts) == 2 && parts[1] == "chunks":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		chunks, err := s.svc.Chunks(r.Context(), userParam(r), parts[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     string `json:"user_id"`
		Keyword    string `json:"keyword"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	outcomes, err := s.svc.IngestByKeyword(r.Context(), req.UserID, req.Keyword, req.MaxResults)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

// handleUpload accepts a multipart form with the PDF in the "file" field.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(uploadMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeErr(w, http.StatusBadRequest, fmt.Errorf("file is required: %w", util.ErrInvalidInput))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("file is required: %w", util.ErrInvalidInput))
		return
	}
	defer file.Close()
	if !isPDF(header) {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("only pdf uploads are supported: %w", util.ErrInvalidInput))
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}
	userID := strings.TrimSpace(r.FormValue("user_id"))
	if userID == "" {
		userID = userParam(r)
	}
	out, err := s.svc.Upload(r.Context(), userID, header.Filename, data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"outcome": out})
}

const (
	defaultMaxUploadBytes = 64 << 20
	uploadMemoryBytes     = 8 << 20
)

func isPDF(h *multipart.FileHeader) bool {
	ct, _, _ := mime.ParseMediaType(h.Header.Get("Content-Type"))
	if ct == "application/pdf" {
		return true
	}
	return strings.EqualFold(filepath.Ext(h.Filename), ".pdf") && (ct == "" || ct == "application/octet-stream")
}

func (s *Server) handleGrow(w http.ResponseWriter, r *http.Request) {
	if s.temporal == nil {
		writeErr(w, http.StatusServiceUnavailable, errWorkflowsDisabled)
		return
	}
	var req workflows.LibraryGrowthInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Keyword = strings.TrimSpace(req.Keyword)
	if req.UserID == "" || (req.Keyword == "" && len(req.ExternalIDs) == 0) {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("user_id and keyword or external_ids are required: %w", util.ErrInvalidInput))
		return
	}
	for i, id := range req.ExternalIDs {
		canonical, err := arxiv.Canonical(id)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		req.ExternalIDs[i] = canonical
	}

	wfID := workflows.GrowthWorkflowID(req.UserID, uuid.NewString())
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                                       wfID,
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.LibraryGrowthWorkflow, req)
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	s.logger.Info("library growth started", zap.String("user_id", req.UserID), zap.String("workflow_id", we.GetID()))
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) handleGrowProgress(w http.ResponseWriter, r *http.Request, workflowID string) {
	if s.temporal == nil {
		writeErr(w, http.StatusServiceUnavailable, errWorkflowsDisabled)
		return
	}
	userID := userParam(r)
	if userID == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("user_id is required: %w", util.ErrInvalidInput))
		return
	}
	resp, err := s.temporal.QueryWorkflow(r.Context(), workflowID, "", workflows.QueryGetProgress)
	if err != nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("growth run %s: %w", workflowID, util.ErrNotFound))
		return
	}
	var prog workflows.GrowthProgress
	if err := resp.Get(&prog); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	// Runs belong to the user who started them.
	if prog.UserID != userID {
		writeErr(w, http.StatusNotFound, fmt.Errorf("growth run %s: %w", workflowID, util.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	sessions, err := s.svc.Sessions(r.Context(), userParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleSessionScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/"), "/")
	if len(parts) != 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	turns, err := s.svc.History(r.Context(), userParam(r), parts[0])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": parts[0], "turns": turns})
}

// fail maps a service error onto its HTTP status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeErr(w, code, err)
}

func userParam(r *http.Request) string {
	if v := strings.TrimSpace(r.URL.Query().Get("user_id")); v != "" {
		return v
	}
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

var errWorkflowsDisabled = errors.New("durable library growth is not configured")

func statusFor(err error) int {
	switch {
	case errors.Is(err, util.ErrInvalidInput), errors.Is(err, util.ErrMalformedIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, util.ErrNoExtractableText):
		return http.StatusUnprocessableEntity
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, util.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, util.ErrTransientUpstream):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
