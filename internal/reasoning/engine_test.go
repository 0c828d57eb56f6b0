package reasoning

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"litagent/internal/models"
	"litagent/internal/providers"
	"litagent/internal/providers/providertest"
	"litagent/internal/util"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = providers.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func sampleContext() []models.ChunkResult {
	return []models.ChunkResult{
		{ChunkID: "c2", PaperID: "p2", ExternalID: "1706.03762", Title: "Attention Is All You Need", Text: "Self-attention replaces recurrence.", Score: 0.41},
		{ChunkID: "c1", PaperID: "p1", ExternalID: "2101.00001", Title: "Retrieval for X", Text: "Retrieval improves grounding on X.", Score: 0.93},
	}
}

func scripted() *providertest.ScriptedLLM {
	return providertest.NewScriptedLLM(nil).
		Always("reasoning_exploration", providertest.Reply{Text: "- angle one\n- angle two"}).
		Always("reasoning_draft", providertest.Reply{Text: "Draft answer [C1]."}).
		Always("reasoning_reflection", providertest.Reply{Text: "Missing primary source: 2202.00002"}).
		Always("reasoning_synthesis", providertest.Reply{Text: "## Findings\nRetrieval for X shows gains."})
}

func runAll(t *testing.T, e *Engine, run *Run) {
	t.Helper()
	for !run.Done() {
		require.NoError(t, e.Step(context.Background(), run))
	}
}

func TestStagesRunInFixedOrder(t *testing.T) {
	llm := scripted()
	e := NewEngine(llm, fastRetry, nil)
	run := NewRun("Summarize recent work on X.", sampleContext())

	runAll(t, e, run)

	want := []string{"reasoning_exploration", "reasoning_draft", "reasoning_reflection", "reasoning_synthesis"}
	if diff := cmp.Diff(want, llm.Operations()); diff != "" {
		t.Fatalf("operations mismatch (-want +got):\n%s", diff)
	}
	recs := run.Records()
	require.Len(t, recs, 4)
	for i, s := range Stages {
		assert.Equal(t, string(s), recs[i].Stage)
		assert.False(t, recs[i].Degraded)
	}
	assert.ErrorIs(t, e.Step(context.Background(), run), ErrRunComplete)
}

func TestPromptsAccumulatePriorStagesAndContext(t *testing.T) {
	llm := scripted()
	e := NewEngine(llm, fastRetry, nil)
	run := NewRun("Summarize recent work on X.", sampleContext())
	runAll(t, e, run)

	calls := llm.Calls()
	assert.NotContains(t, calls[0].Prompt, "Earlier reasoning")
	assert.Contains(t, calls[1].Prompt, "- angle one")
	assert.Contains(t, calls[2].Prompt, "Draft answer [C1].")
	assert.Contains(t, calls[3].Prompt, "Missing primary source: 2202.00002")
	assert.Contains(t, calls[3].Prompt, "EXIT INTERNAL REASONING MODE")

	require.Len(t, calls[0].Context, 2)
	assert.True(t, strings.HasPrefix(calls[0].Context[0], "C1 | Retrieval for X (arXiv:2101.00001)"))
	assert.True(t, strings.HasPrefix(calls[0].Context[1], "C2 | Attention Is All You Need"))
}

func TestEmptyContextIsStatedInPrompt(t *testing.T) {
	llm := scripted()
	e := NewEngine(llm, fastRetry, nil)
	run := NewRun("q", nil)
	require.NoError(t, e.Step(context.Background(), run))
	assert.Contains(t, llm.Calls()[0].Prompt, "No papers from the library matched")
	assert.Empty(t, llm.Calls()[0].Context)
}

func TestSynthesisSeesRefreshedContext(t *testing.T) {
	llm := scripted()
	e := NewEngine(llm, fastRetry, nil)
	run := NewRun("q", nil)
	require.NoError(t, e.StepUntil(context.Background(), run, StageSynthesis))
	assert.Equal(t, StageSynthesis, run.State)

	run.SetContext(sampleContext())
	require.NoError(t, e.Step(context.Background(), run))
	calls := llm.Calls()
	assert.Len(t, calls[3].Context, 2)

	answer, degraded := run.Answer()
	assert.False(t, degraded)
	assert.Contains(t, answer, "## Findings")
	assert.Contains(t, answer, "### References\n- Attention Is All You Need (arXiv:1706.03762)")
	assert.NotContains(t, answer, "- Retrieval for X (arXiv:2101.00001)")
}

func TestTransientStageFailureIsRetried(t *testing.T) {
	llm := scripted().Once("reasoning_draft", providertest.Reply{Err: errors.New("429 too many requests")})
	e := NewEngine(llm, fastRetry, nil)
	run := NewRun("q", sampleContext())
	runAll(t, e, run)

	assert.Empty(t, run.DegradedStages())
	assert.Equal(t, "Draft answer [C1].", run.Text(StageDraft))
	assert.Len(t, llm.Calls(), 5)
}

func TestDegradedSynthesisFallsBackToDraft(t *testing.T) {
	llm := scripted().Always("reasoning_synthesis", providertest.Reply{Err: errors.New("service unavailable")})
	e := NewEngine(llm, fastRetry, nil)
	run := NewRun("q", sampleContext())
	runAll(t, e, run)

	answer, degraded := run.Answer()
	assert.True(t, degraded)
	assert.Equal(t, "Draft answer [C1].", answer)
	assert.Equal(t, []Stage{StageSynthesis}, run.DegradedStages())

	res, ok := run.Result(StageSynthesis)
	require.True(t, ok)
	assert.Empty(t, res.Text)
	assert.ErrorIs(t, res.Err, util.ErrReasoningDegraded)
	assert.ErrorIs(t, res.Err, util.ErrTransientUpstream)
	assert.True(t, run.Records()[3].Degraded)
}

func TestFallbackSkipsDegradedDraft(t *testing.T) {
	llm := scripted().
		Always("reasoning_draft", providertest.Reply{Err: errors.New("invalid request")}).
		Always("reasoning_synthesis", providertest.Reply{Err: errors.New("invalid request")})
	e := NewEngine(llm, fastRetry, nil)
	run := NewRun("q", sampleContext())
	runAll(t, e, run)

	answer, degraded := run.Answer()
	assert.True(t, degraded)
	assert.Equal(t, "Missing primary source: 2202.00002", answer)
}

func TestAllStagesFailingStillAnswers(t *testing.T) {
	llm := providertest.NewScriptedLLM(nil)
	for _, s := range Stages {
		llm.Always("reasoning_"+string(s), providertest.Reply{Err: errors.New("invalid api key")})
	}
	e := NewEngine(llm, fastRetry, nil)
	run := NewRun("retrieval grounding", sampleContext())
	runAll(t, e, run)

	answer, degraded := run.Answer()
	assert.True(t, degraded)
	assert.Contains(t, answer, "Retrieval for X (arXiv:2101.00001)")
	assert.Len(t, run.DegradedStages(), 4)
	assert.Len(t, run.Records(), 4)

	empty := NewRun("q", nil)
	runAll(t, NewEngine(llm, fastRetry, nil), empty)
	answer, _ = empty.Answer()
	assert.NotEmpty(t, answer)
}

func TestEmptyCompletionDegradesStage(t *testing.T) {
	llm := scripted().Always("reasoning_exploration", providertest.Reply{Text: "   "})
	e := NewEngine(llm, fastRetry, nil)
	run := NewRun("q", nil)
	require.NoError(t, e.Step(context.Background(), run))
	assert.Equal(t, []Stage{StageExploration}, run.DegradedStages())
	assert.Equal(t, StageDraft, run.State)
}

func TestCancellationAbortsWithoutAdvancing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := NewEngine(scripted(), fastRetry, nil)
	run := NewRun("q", nil)

	require.ErrorIs(t, e.Step(ctx, run), context.Canceled)
	assert.Equal(t, StageExploration, run.State)
	assert.Empty(t, run.Records())
}

func TestDirectMakesOneCall(t *testing.T) {
	llm := providertest.NewScriptedLLM(nil).Always("direct_answer", providertest.Reply{Text: "## Direct Answer\nYes."})
	e := NewEngine(llm, fastRetry, nil)

	res, err := e.Direct(context.Background(), "q", sampleContext())
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, "## Direct Answer\nYes.", res.Text)
	assert.Equal(t, []string{"direct_answer"}, llm.Operations())
}

func TestDirectFailureIsExtractive(t *testing.T) {
	llm := providertest.NewScriptedLLM(nil).Always("direct_answer", providertest.Reply{Err: errors.New("invalid api key")})
	res, err := NewEngine(llm, fastRetry, nil).Direct(context.Background(), "retrieval", sampleContext())
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.ErrorIs(t, res.Err, util.ErrReasoningDegraded)
	assert.Contains(t, res.Text, "## Direct Answer")
}

func TestFinalizeSynthesis(t *testing.T) {
	got := FinalizeSynthesis("Plain text citing 2101.00001.", sampleContext())
	assert.True(t, strings.HasPrefix(got, "## Answer\n\nPlain text"))
	assert.Contains(t, got, "### References\n- Attention Is All You Need (arXiv:1706.03762)")
	assert.NotContains(t, got, "- Retrieval for X")

	full := FinalizeSynthesis("# Title\nAttention Is All You Need and retrieval for x.", sampleContext())
	assert.NotContains(t, full, "### References")

	assert.Equal(t, "## A\nno context", FinalizeSynthesis("## A\nno context", nil))
}

func TestStageTransitions(t *testing.T) {
	s := StageExploration
	var seen []Stage
	for s != StageDone {
		seen = append(seen, s)
		s = s.Next()
	}
	assert.Equal(t, Stages, seen)
	assert.Equal(t, StageDone, StageDone.Next())
}
