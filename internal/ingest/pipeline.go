package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"litagent/internal/extract"
	"litagent/internal/models"
	"litagent/internal/observability"
	"litagent/internal/providers"
	"litagent/internal/util"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Config struct {
	ChunkSize            int
	ChunkOverlapFraction float64
	// PersistTimeout bounds the detached paper+chunks transaction.
	PersistTimeout time.Duration
	// RunTimeout bounds one shared ingestion run, which outlives any single
	// caller that stops waiting for it.
	RunTimeout time.Duration
	Retry      providers.RetryPolicy
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:            1000,
		ChunkOverlapFraction: 0.2,
		PersistTimeout:       30 * time.Second,
		RunTimeout:           10 * time.Minute,
		Retry:                providers.DefaultRetryPolicy(),
	}
}

type Deps struct {
	Repository Repository
	Extractor  Extractor
	Embedder   Embedder
	Store      PaperStore
	LLM        providers.LLMProvider
	// Canonicalize maps an external id to the form it is stored and
	// deduplicated under. Nil keeps ids as given.
	Canonicalize func(string) (string, error)
}

type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	group  singleflight.Group
}

func NewPipeline(deps Deps, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 30 * time.Second
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger}
}

// Ingest brings one external paper into the user's library. meta, when the
// caller already has it from a search, takes precedence over fetched
// metadata. A paper the user already owns is reported as skipped with no
// side effects. Any step failure returns a StatusFailed outcome and an error
// wrapping util.ErrPartialIngestion.
//
// Concurrent calls for the same user and paper share one run. A caller whose
// ctx ends stops waiting without failing the others, and callers that joined
// a run someone else started see StatusDuplicate instead of a second
// ingestion.
func (p *Pipeline) Ingest(ctx context.Context, scope models.Scope, externalID string, meta *Metadata) (Outcome, error) {
	externalID = strings.TrimSpace(externalID)
	if scope.UserID == "" || externalID == "" {
		return Outcome{ExternalID: externalID, Status: StatusFailed, Error: "user and external id are required"},
			fmt.Errorf("ingest: user and external id are required: %w", util.ErrInvalidInput)
	}
	if p.deps.Canonicalize != nil {
		id, err := p.deps.Canonicalize(externalID)
		if err != nil {
			return Outcome{ExternalID: externalID, Status: StatusFailed, Error: err.Error()}, fmt.Errorf("ingest: %w", err)
		}
		externalID = id
	}

	started := false
	ch := p.group.DoChan(scope.UserID+"|"+externalID, func() (any, error) {
		started = true
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.RunTimeout)
		defer cancel()
		return p.ingest(runCtx, scope, externalID, meta)
	})
	select {
	case <-ctx.Done():
		return Outcome{ExternalID: externalID, Status: StatusFailed, Error: ctx.Err().Error()}, ctx.Err()
	case res := <-ch:
		out, _ := res.Val.(Outcome)
		if res.Shared && !started && out.New() {
			out.Status = StatusDuplicate
		}
		return out, res.Err
	}
}

// IngestUpload stores a document the user supplied directly. Uploads have no
// external id, so they are never deduplicated. Title and authors come from
// the first lines of the text, with the file name as the fallback title.
func (p *Pipeline) IngestUpload(ctx context.Context, scope models.Scope, filename string, data []byte) (Outcome, error) {
	filename = strings.TrimSpace(filename)
	if filename != "" {
		filename = filepath.Base(filename)
	}
	if scope.UserID == "" || len(data) == 0 {
		return Outcome{Status: StatusFailed, Error: "user and document are required"},
			fmt.Errorf("upload: user and document are required: %w", util.ErrInvalidInput)
	}
	ctx, span := observability.StartUploadSpan(ctx, scope.UserID, filename)
	defer span.End()
	r := &run{
		span:    span,
		log:     p.logger.With(zap.String("user_id", scope.UserID), zap.String("filename", filename)),
		subject: "upload " + filename,
	}

	text, err := p.deps.Extractor.Extract(ctx, data)
	if err != nil {
		return r.fail("extract", err)
	}
	title, authors := extract.TitleAndAuthors(text)
	if title == "" || utf8.RuneCountInString(title) > maxUploadTitleRunes {
		title, authors = uploadTitle(filename), ""
	}
	r.out.Title = title
	return p.persist(ctx, r, models.Paper{
		UserID:   scope.UserID,
		Title:    util.SanitizeText(title),
		Authors:  util.SanitizeText(authors),
		Abstract: util.Snippet(text, uploadAbstractRunes),
		Source:   models.SourceUploaded,
	}, text)
}

const (
	maxUploadTitleRunes = 300
	uploadAbstractRunes = 500
)

func uploadTitle(filename string) string {
	name := strings.TrimSpace(strings.TrimSuffix(filename, filepath.Ext(filename)))
	if name == "" || name == "." {
		return "Uploaded PDF"
	}
	return name
}

// run carries the per-document state the ingestion steps report through.
type run struct {
	span    trace.Span
	log     *zap.Logger
	subject string
	out     Outcome
}

func (r *run) fail(step string, cause error) (Outcome, error) {
	r.out.Status = StatusFailed
	r.out.Error = fmt.Sprintf("%s: %v", step, cause)
	observability.RecordError(r.span, cause)
	r.log.Warn("ingestion failed", zap.String("step", step), zap.Error(cause))
	return r.out, fmt.Errorf("%w: %s %s: %w", util.ErrPartialIngestion, step, r.subject, cause)
}

func (p *Pipeline) ingest(ctx context.Context, scope models.Scope, externalID string, meta *Metadata) (Outcome, error) {
	ctx, span := observability.StartIngestSpan(ctx, scope.UserID, externalID)
	defer span.End()
	r := &run{
		span:    span,
		log:     p.logger.With(zap.String("user_id", scope.UserID), zap.String("external_id", externalID)),
		subject: externalID,
		out:     Outcome{ExternalID: externalID},
	}

	existing, err := p.deps.Store.PaperByExternalID(ctx, scope.UserID, externalID)
	switch {
	case err == nil:
		r.log.Debug("paper already in library")
		r.out.Status = StatusSkipped
		r.out.PaperID = existing.PaperID
		r.out.Title = existing.Title
		return r.out, nil
	case !errors.Is(err, util.ErrNotFound):
		return r.fail("dedupe", err)
	}

	doc, err := providers.Retry(ctx, p.retryPolicy(r.log, "fetch"), func(ctx context.Context) (Document, error) {
		return p.deps.Repository.Fetch(ctx, externalID)
	})
	if err != nil {
		return r.fail("fetch", err)
	}
	md := mergeMetadata(meta, doc.Metadata)
	r.out.Title = md.Title

	text, err := p.deps.Extractor.Extract(ctx, doc.Content)
	if err != nil {
		return r.fail("extract", err)
	}
	return p.persist(ctx, r, models.Paper{
		UserID:      scope.UserID,
		ExternalID:  externalID,
		Title:       util.SanitizeText(md.Title),
		Authors:     util.SanitizeText(md.Authors),
		Abstract:    util.SanitizeText(md.Abstract),
		URL:         md.URL,
		PublishedAt: md.PublishedAt,
		Source:      models.SourceFetched,
	}, text)
}

// persist chunks and embeds text, stores the paper with its chunks
// atomically and then attaches a summary.
func (p *Pipeline) persist(ctx context.Context, r *run, paper models.Paper, text string) (Outcome, error) {
	parts := util.ChunkText(text, p.cfg.ChunkSize, util.OverlapFor(p.cfg.ChunkSize, p.cfg.ChunkOverlapFraction))
	if len(parts) == 0 {
		return r.fail("chunk", util.ErrNoExtractableText)
	}
	vecs, err := p.deps.Embedder.EmbedBatch(ctx, parts)
	if err != nil {
		return r.fail("embed", err)
	}
	chunks := make([]models.Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = models.Chunk{Ordinal: i, Text: part, Embedding: vecs[i]}
	}

	// Once the transaction starts it runs to commit or rollback even if the
	// caller goes away.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.PersistTimeout)
	paperID, inserted, err := p.deps.Store.InsertPaperWithChunks(persistCtx, paper, chunks)
	cancel()
	if err != nil {
		return r.fail("persist", err)
	}
	r.out.PaperID = paperID
	if !inserted {
		r.log.Info("concurrent ingestion won the race", zap.String("paper_id", paperID))
		r.out.Status = StatusDuplicate
		return r.out, nil
	}
	r.out.Chunks = len(chunks)
	paper.PaperID = paperID

	summary, err := p.summarize(ctx, r.log, paper, text)
	if err != nil {
		observability.MarkDegraded(r.span, "summary")
		r.log.Warn("summary failed, paper kept without notes", zap.String("paper_id", paperID), zap.Error(err))
		r.out.Status = StatusSummaryDegraded
		r.out.Error = err.Error()
		return r.out, nil
	}
	r.out.Status = StatusIngested
	r.out.Summary = summary
	r.log.Info("paper ingested", zap.String("paper_id", paperID), zap.Int("chunks", len(chunks)))
	return r.out, nil
}

func (p *Pipeline) summarize(ctx context.Context, log *zap.Logger, paper models.Paper, text string) (string, error) {
	if p.deps.LLM == nil {
		return "", errors.New("no summarizer configured")
	}
	resp, err := providers.Retry(ctx, p.retryPolicy(log, "summarize"), func(ctx context.Context) (providers.GenerateResponse, error) {
		resp, _, err := p.deps.LLM.Generate(ctx, providers.GenerateRequest{
			Operation: "summarize_paper",
			System:    summarizerSystem,
			Prompt:    summaryPrompt(paper, text),
		})
		return resp, err
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", errors.New("summarizer returned empty text")
	}
	notes := withHeader(paper, resp.Text)
	if err := p.deps.Store.AppendSummary(ctx, models.Summary{
		PaperID: paper.PaperID,
		Kind:    models.SummaryKindStructured,
		Text:    notes,
	}); err != nil {
		return "", fmt.Errorf("store summary: %w", err)
	}
	return notes, nil
}

func (p *Pipeline) retryPolicy(log *zap.Logger, op string) providers.RetryPolicy {
	policy := p.cfg.Retry
	policy.OnRetry = func(err error, wait time.Duration) {
		log.Warn("upstream call failed, retrying", zap.String("operation", op), zap.Duration("wait", wait), zap.Error(err))
	}
	return policy
}

func mergeMetadata(known *Metadata, fetched Metadata) Metadata {
	if known == nil {
		return fetched
	}
	md := *known
	if md.Title == "" {
		md.Title = fetched.Title
	}
	if md.Authors == "" {
		md.Authors = fetched.Authors
	}
	if md.Abstract == "" {
		md.Abstract = fetched.Abstract
	}
	if md.URL == "" {
		md.URL = fetched.URL
	}
	if md.PDFURL == "" {
		md.PDFURL = fetched.PDFURL
	}
	if md.PublishedAt == nil {
		md.PublishedAt = fetched.PublishedAt
	}
	return md
}
