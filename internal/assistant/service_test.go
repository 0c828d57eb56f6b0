package assistant_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"litagent/internal/assistant"
	"litagent/internal/embedding"
	"litagent/internal/ingest"
	"litagent/internal/ingest/ingesttest"
	"litagent/internal/models"
	"litagent/internal/providers"
	"litagent/internal/providers/providertest"
	"litagent/internal/reasoning"
	"litagent/internal/storage"
	"litagent/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dim = 16

var fastRetry = providers.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

type harness struct {
	store    *storage.MemoryStore
	repo     *ingesttest.Repository
	llm      *providertest.ScriptedLLM
	pipeline *ingest.Pipeline
	svc      *assistant.Service
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("invalid api key")
}

type failingRetriever struct{}

func (failingRetriever) Search(context.Context, string, []float32, int) ([]models.ChunkResult, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func newHarness(t *testing.T, mutate func(*assistant.Deps, *assistant.Config)) *harness {
	t.Helper()
	store := storage.NewMemoryStore()
	repo := ingesttest.NewRepository()
	repo.Add(ingest.Metadata{ExternalID: "2101.00001", Title: "Recent Work on X", Authors: "R. Searcher"},
		strings.Repeat("Recent work on X shows retrieval grounding improves answers. ", 40))

	mock := providers.NewMockProvider(dim)
	gateway := embedding.NewGateway(mock, dim, embedding.WithRetryPolicy(fastRetry))
	llm := providertest.NewScriptedLLM(mock)
	pipeline := ingest.NewPipeline(ingest.Deps{
		Repository: repo,
		Extractor:  ingesttest.PlainText{},
		Embedder:   gateway,
		Store:      store,
		LLM:        mock,
	}, ingest.Config{ChunkSize: 400, ChunkOverlapFraction: 0.2, PersistTimeout: time.Second, Retry: fastRetry}, nil)

	deps := assistant.Deps{
		Embedder:  gateway,
		Retriever: store,
		Store:     store,
		Ingester:  pipeline,
		Papers:    repo,
		Engine:    reasoning.NewEngine(llm, fastRetry, nil),
	}
	cfg := assistant.DefaultConfig()
	if mutate != nil {
		mutate(&deps, &cfg)
	}
	return &harness{
		store:    store,
		repo:     repo,
		llm:      llm,
		pipeline: pipeline,
		svc:      assistant.NewService(deps, cfg, nil),
	}
}

func ask(query string) assistant.AskRequest {
	return assistant.AskRequest{UserID: "u1", Query: query}
}

func TestAskGrowsLibraryFromReflection(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.Always("reasoning_reflection", providertest.Reply{Text: "The draft has no sources. Consider arXiv:2101.00001v1 on X."})
	ctx := context.Background()

	resp, err := h.svc.Ask(ctx, ask("Summarize recent work on X."))
	require.NoError(t, err)

	calls := h.llm.Calls()
	require.Len(t, calls, 4)
	for _, c := range calls[:3] {
		assert.Empty(t, c.Context, c.Operation)
	}
	require.NotEmpty(t, calls[3].Context)
	assert.Contains(t, calls[3].Context[0], "arXiv:2101.00001")

	paper, err := h.store.PaperByExternalID(ctx, "u1", "2101.00001")
	require.NoError(t, err)
	assert.Equal(t, []string{paper.PaperID}, resp.IngestedPaperIDs)
	assert.Equal(t, []string{paper.PaperID}, resp.ReferencedPaperIDs)
	assert.Contains(t, resp.Answer, "2101.00001")
	assert.Empty(t, resp.Degraded)

	require.Len(t, resp.Stages, 4)
	for i, s := range reasoning.Stages {
		assert.Equal(t, string(s), resp.Stages[i].Stage)
	}

	history, err := h.svc.History(ctx, "u1", resp.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, resp.Answer, history[0].Answer)
	assert.Equal(t, resp.TranscriptID, history[0].TranscriptID)
	assert.Equal(t, 1, h.store.TranscriptCount())
}

func TestAskFetchFailureDegradesButCompletes(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.Always("reasoning_reflection", providertest.Reply{Text: "Missing: 2202.00002"})

	resp, err := h.svc.Ask(context.Background(), ask("q"))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Answer)
	assert.Equal(t, []string{assistant.DegradedIngestion}, resp.Degraded)
	require.Len(t, resp.Notes, 1)
	assert.Contains(t, resp.Notes[0], "arXiv:2202.00002")
	assert.Empty(t, resp.IngestedPaperIDs)
	assert.Equal(t, 0, h.store.PaperCount("u1"))
	assert.Equal(t, 1, h.store.TranscriptCount())
}

func TestAskSkipsOwnedIdentifiers(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.pipeline.Ingest(ctx, models.Scope{UserID: "u1"}, "2101.00001", nil)
	require.NoError(t, err)
	h.llm.Always("reasoning_reflection", providertest.Reply{Text: "See 2101.00001 again."})

	resp, err := h.svc.Ask(ctx, ask("recent work on X"))
	require.NoError(t, err)
	assert.Equal(t, 1, h.repo.Fetches("2101.00001"))
	assert.Empty(t, resp.IngestedPaperIDs)
	assert.Len(t, resp.ReferencedPaperIDs, 1)
	assert.Equal(t, 1, h.store.PaperCount("u1"))
}

func TestAskCapsCandidates(t *testing.T) {
	h := newHarness(t, func(_ *assistant.Deps, cfg *assistant.Config) {
		cfg.MaxCandidatesPerTurn = 2
	})
	h.llm.Always("reasoning_reflection", providertest.Reply{Text: "2101.00001 2202.00002 2303.00003"})

	resp, err := h.svc.Ask(context.Background(), ask("q"))
	require.NoError(t, err)
	assert.Equal(t, 1, h.repo.Fetches("2101.00001"))
	assert.Equal(t, 1, h.repo.Fetches("2202.00002"))
	assert.Equal(t, 0, h.repo.Fetches("2303.00003"))
	assert.Contains(t, resp.Notes, "only the first 2 of 3 suggested papers were fetched")
}

func TestSingleShotNeverIngests(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.Always("direct_answer", providertest.Reply{Text: "## Direct Answer\nRead arXiv:2101.00001."})

	resp, err := h.svc.Ask(context.Background(), assistant.AskRequest{UserID: "u1", Query: "q", Mode: models.ModeSingleShot})
	require.NoError(t, err)
	assert.Equal(t, []string{"direct_answer"}, h.llm.Operations())
	assert.Equal(t, models.ModeSingleShot, resp.Mode)
	assert.Nil(t, resp.Stages)
	assert.Equal(t, 0, h.repo.Fetches("2101.00001"))
	assert.Equal(t, 0, h.store.PaperCount("u1"))
	assert.Equal(t, 1, h.store.TranscriptCount())
}

func TestDegradedSynthesisReturnsDraft(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.Always("reasoning_draft", providertest.Reply{Text: "Draft says X is promising."})
	h.llm.Always("reasoning_synthesis", providertest.Reply{Err: errors.New("service unavailable")})

	resp, err := h.svc.Ask(context.Background(), ask("q"))
	require.NoError(t, err)
	assert.Equal(t, "Draft says X is promising.", resp.Answer)
	assert.Contains(t, resp.Degraded, string(reasoning.StageSynthesis))
	require.Len(t, resp.Stages, 4)
	assert.True(t, resp.Stages[3].Degraded)
	assert.Empty(t, resp.Stages[3].Text)
	assert.Equal(t, 1, h.store.TranscriptCount())
}

func TestEmbeddingOutageAnswersUngrounded(t *testing.T) {
	h := newHarness(t, func(d *assistant.Deps, _ *assistant.Config) {
		d.Embedder = failingEmbedder{}
	})

	resp, err := h.svc.Ask(context.Background(), ask("q"))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Answer)
	assert.Equal(t, []string{assistant.DegradedRetrieval}, resp.Degraded)
	assert.Empty(t, resp.ReferencedPaperIDs)
}

func TestStoreOutageIsTotalFailure(t *testing.T) {
	h := newHarness(t, func(d *assistant.Deps, _ *assistant.Config) {
		d.Retriever = failingRetriever{}
	})

	_, err := h.svc.Ask(context.Background(), ask("q"))
	require.ErrorIs(t, err, util.ErrStoreUnavailable)
	assert.Equal(t, 0, h.store.TranscriptCount())
	assert.Empty(t, h.llm.Calls())
}

func TestCancelledTurnIsNotPersisted(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.Ask(ctx, ask("q"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, h.store.TranscriptCount())
}

func TestSessions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.svc.Ask(ctx, ask("first"))
	require.NoError(t, err)
	second, err := h.svc.Ask(ctx, assistant.AskRequest{UserID: "u1", Query: "second", SessionID: first.SessionID})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	history, err := h.svc.History(ctx, "u1", first.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Query)
	assert.Equal(t, "second", history[1].Query)

	sessions, err := h.svc.Sessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 2, sessions[0].Turns)
	assert.Equal(t, "second", sessions[0].LastQuery)

	_, err = h.svc.Ask(ctx, assistant.AskRequest{UserID: "u2", Query: "steal", SessionID: first.SessionID})
	require.ErrorIs(t, err, util.ErrNotFound)
	_, err = h.svc.History(ctx, "u2", first.SessionID)
	require.ErrorIs(t, err, util.ErrNotFound)
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.Ask(context.Background(), assistant.AskRequest{UserID: "u1", Query: "q", SessionID: "missing"})
	require.ErrorIs(t, err, util.ErrNotFound)
	assert.Empty(t, h.llm.Calls())
	assert.Equal(t, 0, h.store.TranscriptCount())
}

func TestAskValidatesInput(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for _, req := range []assistant.AskRequest{
		{UserID: "", Query: "q"},
		{UserID: "u1", Query: "   "},
		{UserID: "u1", Query: "q", Mode: "tree_of_thought"},
	} {
		_, err := h.svc.Ask(ctx, req)
		assert.ErrorIs(t, err, util.ErrInvalidInput)
	}
}

func TestIngestByKeyword(t *testing.T) {
	h := newHarness(t, nil)
	h.repo.Add(ingest.Metadata{ExternalID: "2202.00002", Title: "More Work on X"},
		strings.Repeat("Follow-up work on X. ", 30))
	ctx := context.Background()

	outs, err := h.svc.IngestByKeyword(ctx, "u1", "work on x", 5)
	require.NoError(t, err)
	require.Len(t, outs, 2)
	for _, o := range outs {
		assert.Equal(t, ingest.StatusIngested, o.Status, o.ExternalID)
		assert.NotEmpty(t, o.Summary)
	}

	again, err := h.svc.IngestByKeyword(ctx, "u1", "work on x", 5)
	require.NoError(t, err)
	for _, o := range again {
		assert.Equal(t, ingest.StatusSkipped, o.Status)
	}

	papers, err := h.svc.Library(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, papers, 2)

	sums, err := h.svc.Summaries(ctx, "u1", papers[0].PaperID)
	require.NoError(t, err)
	assert.Len(t, sums, 1)

	chunks, err := h.svc.Chunks(ctx, "u1", papers[0].PaperID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, 0, chunks[0].Ordinal)
	foreign, err := h.svc.Chunks(ctx, "u2", papers[0].PaperID)
	require.NoError(t, err)
	assert.Empty(t, foreign)

	_, err = h.svc.IngestByKeyword(ctx, "u1", " ", 5)
	require.ErrorIs(t, err, util.ErrInvalidInput)
}

func TestIngestByKeywordReportsFailures(t *testing.T) {
	h := newHarness(t, nil)
	h.repo.FailNext("2101.00001", errors.New("invalid pdf"))

	outs, err := h.svc.IngestByKeyword(context.Background(), "u1", "recent work", 5)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, ingest.StatusFailed, outs[0].Status)
	assert.Equal(t, 0, h.store.PaperCount("u1"))
}
