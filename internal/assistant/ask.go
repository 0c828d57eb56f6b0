package assistant

import (
	"context"
	"fmt"
	"strings"

	"litagent/internal/arxiv"
	"litagent/internal/ingest"
	"litagent/internal/models"
	"litagent/internal/observability"
	"litagent/internal/providers"
	"litagent/internal/reasoning"
	"litagent/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Names recorded in Transcript.Degraded besides the reasoning stages.
const (
	DegradedRetrieval   = "retrieval"
	DegradedReretrieval = "re_retrieval"
	DegradedIngestion   = "ingestion"
	DegradedSummary     = "summary"
	DegradedDirect      = "direct"
)

type AskRequest struct {
	UserID    string               `json:"user_id"`
	Query     string               `json:"query"`
	SessionID string               `json:"session_id,omitempty"`
	Mode      models.ReasoningMode `json:"reasoning_mode,omitempty"`
}

type AskResponse struct {
	Answer             string               `json:"answer"`
	SessionID          string               `json:"session_id"`
	TranscriptID       string               `json:"transcript_id"`
	Mode               models.ReasoningMode `json:"reasoning_mode"`
	Stages             []models.StageRecord `json:"stage_transcript,omitempty"`
	ReferencedPaperIDs []string             `json:"referenced_paper_ids"`
	IngestedPaperIDs   []string             `json:"ingested_paper_ids,omitempty"`
	Degraded           []string             `json:"degraded,omitempty"`
	Notes              []string             `json:"notes,omitempty"`
}

// turn accumulates what happened during one Ask.
type turn struct {
	req      AskRequest
	scope    models.Scope
	log      *zap.Logger
	vec      []float32
	chunks   []models.ChunkResult
	ingested []string
	degraded []string
	notes    []string
}

func (t *turn) degrade(step, note string) {
	for _, d := range t.degraded {
		if d == step {
			t.notes = append(t.notes, note)
			return
		}
	}
	t.degraded = append(t.degraded, step)
	t.notes = append(t.notes, note)
}

// Ask answers one question. Upstream failures degrade the turn and are
// recorded on its transcript; an error is returned only when no answer can
// be produced (invalid input, unknown session, store unreachable,
// cancellation), and then nothing is persisted.
func (s *Service) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Query = strings.TrimSpace(req.Query)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.UserID == "" || req.Query == "" {
		return AskResponse{}, fmt.Errorf("ask: user_id and query are required: %w", util.ErrInvalidInput)
	}
	switch req.Mode {
	case "":
		req.Mode = models.ModeMultiStage
	case models.ModeMultiStage, models.ModeSingleShot:
	default:
		return AskResponse{}, fmt.Errorf("ask: unknown reasoning mode %q: %w", req.Mode, util.ErrInvalidInput)
	}

	if req.SessionID != "" {
		if _, err := s.deps.Store.GetSession(ctx, req.UserID, req.SessionID); err != nil {
			return AskResponse{}, storeErr("load session", err)
		}
	} else {
		req.SessionID = newID()
	}

	ctx, span := observability.StartTurnSpan(ctx, req.UserID, string(req.Mode))
	defer span.End()
	ctx = providers.WithAuditUser(ctx, req.UserID)

	t := &turn{
		req:   req,
		scope: models.Scope{UserID: req.UserID, SessionID: req.SessionID},
		log:   s.logger.With(zap.String("user_id", req.UserID), zap.String("session_id", req.SessionID)),
	}
	resp, err := s.ask(ctx, t)
	if err != nil {
		observability.RecordError(span, err)
		t.log.Warn("turn failed", zap.Error(err))
		return AskResponse{}, err
	}
	span.SetAttributes(
		attribute.Int("litagent.ingested", len(resp.IngestedPaperIDs)),
		attribute.StringSlice("litagent.degraded", resp.Degraded),
	)
	return resp, nil
}

func (s *Service) ask(ctx context.Context, t *turn) (AskResponse, error) {
	if err := s.initialRetrieval(ctx, t); err != nil {
		return AskResponse{}, err
	}

	var (
		answer string
		stages []models.StageRecord
	)
	if t.req.Mode == models.ModeSingleShot {
		res, err := s.deps.Engine.Direct(ctx, t.req.Query, t.chunks)
		if err != nil {
			return AskResponse{}, err
		}
		if res.Degraded {
			t.degrade(DegradedDirect, "the answer service was unavailable; the answer is an extract of the retrieved chunks")
		}
		answer = res.Text
	} else {
		run, err := s.reason(ctx, t)
		if err != nil {
			return AskResponse{}, err
		}
		answer, _ = run.Answer()
		stages = run.Records()
		t.chunks = run.Context()
	}

	if err := ctx.Err(); err != nil {
		return AskResponse{}, err
	}
	transcript := models.Transcript{
		TranscriptID:       newID(),
		SessionID:          t.req.SessionID,
		UserID:             t.req.UserID,
		Query:              t.req.Query,
		Answer:             answer,
		Mode:               t.req.Mode,
		Stages:             stages,
		ReferencedPaperIDs: referencedPapers(t.chunks),
		IngestedPaperIDs:   t.ingested,
		Degraded:           t.degraded,
		Notes:              t.notes,
		CreatedAt:          s.now().UTC(),
	}
	// The turn is complete; a late disconnect must not lose it half-written.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancel()
	if err := s.deps.Store.SaveTurn(persistCtx, transcript); err != nil {
		return AskResponse{}, storeErr("save turn", err)
	}
	t.log.Info("turn completed",
		zap.String("mode", string(t.req.Mode)),
		zap.Int("context_chunks", len(t.chunks)),
		zap.Int("ingested", len(t.ingested)),
		zap.Strings("degraded", t.degraded))

	return AskResponse{
		Answer:             transcript.Answer,
		SessionID:          transcript.SessionID,
		TranscriptID:       transcript.TranscriptID,
		Mode:               transcript.Mode,
		Stages:             transcript.Stages,
		ReferencedPaperIDs: transcript.ReferencedPaperIDs,
		IngestedPaperIDs:   transcript.IngestedPaperIDs,
		Degraded:           transcript.Degraded,
		Notes:              transcript.Notes,
	}, nil
}

// initialRetrieval embeds the query once and loads the first context. An
// embedding outage leaves the turn ungrounded; a store failure is fatal.
func (s *Service) initialRetrieval(ctx context.Context, t *turn) error {
	vec, err := s.deps.Embedder.Embed(ctx, t.req.Query)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		t.log.Warn("query embedding failed, answering without library context", zap.Error(err))
		t.degrade(DegradedRetrieval, "query embedding failed; answered without library context")
		return nil
	}
	t.vec = vec
	chunks, err := s.search(ctx, t)
	if err != nil {
		return storeErr("retrieve context", err)
	}
	t.chunks = chunks
	return nil
}

func (s *Service) search(ctx context.Context, t *turn) ([]models.ChunkResult, error) {
	ctx, span := observability.StartRetrievalSpan(ctx, t.req.UserID, s.cfg.TopK)
	defer span.End()
	chunks, err := s.deps.Retriever.Search(ctx, t.req.UserID, t.vec, s.cfg.TopK)
	observability.RecordError(span, err)
	return chunks, err
}

func (s *Service) reason(ctx context.Context, t *turn) (*reasoning.Run, error) {
	engine := s.deps.Engine
	run := reasoning.NewRun(t.req.Query, t.chunks)
	if err := engine.StepUntil(ctx, run, reasoning.StageSynthesis); err != nil {
		return nil, err
	}

	if err := s.fillGaps(ctx, t, run.Text(reasoning.StageReflection)); err != nil {
		return nil, err
	}

	if t.vec != nil {
		chunks, err := s.search(ctx, t)
		switch {
		case err == nil:
			run.SetContext(chunks)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			t.log.Warn("refreshed retrieval failed, keeping initial context", zap.Error(err))
			t.degrade(DegradedReretrieval, "refreshed retrieval failed; synthesis used the initial context")
		}
	}

	if err := engine.Step(ctx, run); err != nil {
		return nil, err
	}
	for _, st := range run.DegradedStages() {
		t.degrade(string(st), fmt.Sprintf("%s stage failed after retries", st.Title()))
	}
	if _, degraded := run.Answer(); degraded {
		t.notes = append(t.notes, "final answer taken from the best earlier stage")
	}
	return run, nil
}

// fillGaps ingests the papers Reflection asked for that the user does not
// have yet, one at a time.
func (s *Service) fillGaps(ctx context.Context, t *turn, reflection string) error {
	if reflection == "" || s.cfg.MaxCandidatesPerTurn == 0 {
		return nil
	}
	ids, malformed := arxiv.ScanIdentifiers(reflection)
	for _, m := range malformed {
		t.log.Debug("discarding malformed identifier", zap.String("token", m))
	}
	if len(ids) == 0 {
		return nil
	}
	owned, err := s.deps.Store.OwnedExternalIDs(ctx, t.req.UserID, ids)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		// the pipeline's own dedupe check still prevents double ingestion
		t.log.Warn("owned identifier lookup failed", zap.Error(err))
		owned = map[string]bool{}
	}
	candidates := make([]string, 0, len(ids))
	for _, id := range ids {
		if !owned[id] {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) > s.cfg.MaxCandidatesPerTurn {
		t.notes = append(t.notes, fmt.Sprintf("only the first %d of %d suggested papers were fetched", s.cfg.MaxCandidatesPerTurn, len(candidates)))
		candidates = candidates[:s.cfg.MaxCandidatesPerTurn]
	}

	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := s.deps.Ingester.Ingest(ctx, t.scope, id, nil)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			t.degrade(DegradedIngestion, fmt.Sprintf("could not add arXiv:%s to the library: %s", id, out.Error))
			continue
		}
		if out.New() {
			t.ingested = append(t.ingested, out.PaperID)
		}
		if out.Status == ingest.StatusSummaryDegraded {
			t.degrade(DegradedSummary, fmt.Sprintf("arXiv:%s was added without research notes", id))
		}
	}
	return nil
}

// referencedPapers lists distinct paper ids of the context in rank order.
func referencedPapers(chunks []models.ChunkResult) []string {
	out := make([]string, 0, len(chunks))
	seen := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		if seen[c.PaperID] {
			continue
		}
		seen[c.PaperID] = true
		out = append(out, c.PaperID)
	}
	return out
}
