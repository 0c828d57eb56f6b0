// Package assistant orchestrates one research question end to end: retrieve,
// reason, grow the library, re-retrieve, synthesize and record the turn.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"litagent/internal/ingest"
	"litagent/internal/models"
	"litagent/internal/reasoning"
	"litagent/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Retriever interface {
	Search(ctx context.Context, userID string, queryVec []float32, k int) ([]models.ChunkResult, error)
}

type Ingester interface {
	Ingest(ctx context.Context, scope models.Scope, externalID string, meta *ingest.Metadata) (ingest.Outcome, error)
}

type Uploader interface {
	IngestUpload(ctx context.Context, scope models.Scope, filename string, data []byte) (ingest.Outcome, error)
}

type PaperSearcher interface {
	Search(ctx context.Context, keyword string, maxResults int) ([]ingest.Metadata, error)
}

// Store is the slice of persistence the orchestrator reads and writes.
type Store interface {
	OwnedExternalIDs(ctx context.Context, userID string, ids []string) (map[string]bool, error)
	GetSession(ctx context.Context, userID, sessionID string) (models.ChatSession, error)
	SaveTurn(ctx context.Context, t models.Transcript) error
	ListTranscripts(ctx context.Context, userID, sessionID string) ([]models.Transcript, error)
	ListSessions(ctx context.Context, userID string) ([]models.SessionInfo, error)
	ListPapers(ctx context.Context, userID string) ([]models.Paper, error)
	ListSummaries(ctx context.Context, userID, paperID string) ([]models.Summary, error)
	ListChunks(ctx context.Context, userID, paperID string) ([]models.Chunk, error)
}

type Deps struct {
	Embedder  QueryEmbedder
	Retriever Retriever
	Store     Store
	Ingester  Ingester
	Uploader  Uploader
	Papers    PaperSearcher
	Engine    *reasoning.Engine
}

type Config struct {
	TopK                 int
	MaxCandidatesPerTurn int
	MaxKeywordResults    int
	PersistTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		TopK:                 5,
		MaxCandidatesPerTurn: 3,
		MaxKeywordResults:    50,
		PersistTimeout:       30 * time.Second,
	}
}

type Service struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewService(deps Deps, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.MaxCandidatesPerTurn < 0 {
		cfg.MaxCandidatesPerTurn = 0
	}
	if cfg.MaxKeywordResults <= 0 {
		cfg.MaxKeywordResults = def.MaxKeywordResults
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	return &Service{deps: deps, cfg: cfg, logger: logger, now: time.Now}
}

// History returns a session's turns oldest first.
func (s *Service) History(ctx context.Context, userID, sessionID string) ([]models.Transcript, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("history: user_id and session_id are required: %w", util.ErrInvalidInput)
	}
	out, err := s.deps.Store.ListTranscripts(ctx, userID, sessionID)
	if err != nil {
		return nil, storeErr("list transcripts", err)
	}
	return out, nil
}

func (s *Service) Sessions(ctx context.Context, userID string) ([]models.SessionInfo, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("sessions: user_id is required: %w", util.ErrInvalidInput)
	}
	out, err := s.deps.Store.ListSessions(ctx, userID)
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	return out, nil
}

// Library lists the user's papers, newest first.
func (s *Service) Library(ctx context.Context, userID string) ([]models.Paper, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("library: user_id is required: %w", util.ErrInvalidInput)
	}
	out, err := s.deps.Store.ListPapers(ctx, userID)
	if err != nil {
		return nil, storeErr("list papers", err)
	}
	return out, nil
}

func (s *Service) Summaries(ctx context.Context, userID, paperID string) ([]models.Summary, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(paperID) == "" {
		return nil, fmt.Errorf("summaries: user_id and paper_id are required: %w", util.ErrInvalidInput)
	}
	out, err := s.deps.Store.ListSummaries(ctx, userID, paperID)
	if err != nil {
		return nil, storeErr("list summaries", err)
	}
	return out, nil
}

// Chunks returns the stored text of one of the user's papers in ordinal
// order.
func (s *Service) Chunks(ctx context.Context, userID, paperID string) ([]models.Chunk, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(paperID) == "" {
		return nil, fmt.Errorf("chunks: user_id and paper_id are required: %w", util.ErrInvalidInput)
	}
	out, err := s.deps.Store.ListChunks(ctx, userID, paperID)
	if err != nil {
		return nil, storeErr("list chunks", err)
	}
	return out, nil
}

// IngestByKeyword searches the external repository and ingests the hits one
// after another. Per-paper failures are reported in the outcomes; only a
// failed search or cancellation is an error.
func (s *Service) IngestByKeyword(ctx context.Context, userID, keyword string, maxResults int) ([]ingest.Outcome, error) {
	userID = strings.TrimSpace(userID)
	keyword = strings.TrimSpace(keyword)
	if userID == "" || keyword == "" {
		return nil, fmt.Errorf("ingest by keyword: user_id and keyword are required: %w", util.ErrInvalidInput)
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	maxResults = min(maxResults, s.cfg.MaxKeywordResults)
	log := s.logger.With(zap.String("user_id", userID), zap.String("keyword", keyword))

	hits, err := s.deps.Papers.Search(ctx, keyword, maxResults)
	if err != nil {
		return nil, fmt.Errorf("search papers: %w", err)
	}
	scope := models.Scope{UserID: userID}
	outcomes := make([]ingest.Outcome, 0, len(hits))
	for i := range hits {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		md := hits[i]
		out, err := s.deps.Ingester.Ingest(ctx, scope, md.ExternalID, &md)
		if err != nil {
			log.Warn("keyword candidate failed", zap.String("external_id", md.ExternalID), zap.Error(err))
		}
		outcomes = append(outcomes, out)
	}
	log.Info("keyword ingestion finished", zap.Int("hits", len(hits)))
	return outcomes, nil
}

// Upload adds a document the user supplied to their library.
func (s *Service) Upload(ctx context.Context, userID, filename string, data []byte) (ingest.Outcome, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ingest.Outcome{}, fmt.Errorf("upload: user_id is required: %w", util.ErrInvalidInput)
	}
	if s.deps.Uploader == nil {
		return ingest.Outcome{}, errors.New("upload: no uploader configured")
	}
	log := s.logger.With(zap.String("user_id", userID), zap.String("filename", filename))
	out, err := s.deps.Uploader.IngestUpload(ctx, models.Scope{UserID: userID}, filename, data)
	if err != nil {
		log.Warn("upload failed", zap.Error(err))
		return out, err
	}
	log.Info("upload stored", zap.String("paper_id", out.PaperID), zap.String("status", string(out.Status)))
	return out, nil
}

// storeErr keeps NotFound distinguishable and marks everything else as the
// store being unavailable.
func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, util.ErrNotFound), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%w: %s: %w", util.ErrStoreUnavailable, op, err)
	}
}

func newID() string {
	return uuid.NewString()
}
