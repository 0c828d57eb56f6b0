package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"litagent/internal/models"
	"litagent/internal/observability"
	"litagent/internal/providers"
	"litagent/internal/util"

	"go.uber.org/zap"
)

var errEmptyCompletion = errors.New("model returned empty text")

// Engine executes reasoning stages against an LLM provider.
type Engine struct {
	llm    providers.LLMProvider
	policy providers.RetryPolicy
	logger *zap.Logger
}

func NewEngine(llm providers.LLMProvider, policy providers.RetryPolicy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{llm: llm, policy: policy, logger: logger}
}

// Step executes exactly the stage run is in and advances it. A stage that
// fails after retries is recorded as degraded and the run still advances;
// only caller cancellation is returned as an error.
func (e *Engine) Step(ctx context.Context, run *Run) error {
	stage := run.State
	if stage == StageDone {
		return ErrRunComplete
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := observability.StartStageSpan(ctx, string(stage))
	defer span.End()

	text, err := e.generate(ctx, "reasoning_"+string(stage), stagePrompt(run, stage), contextLines(run.Context()))
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			observability.RecordError(span, cerr)
			return cerr
		}
		observability.MarkDegraded(span, err.Error())
		e.logger.Warn("reasoning stage degraded", zap.String("stage", string(stage)), zap.Error(err))
		run.record(StageResult{Stage: stage, Degraded: true, Err: fmt.Errorf("%w: %s: %w", util.ErrReasoningDegraded, stage, err)})
		return nil
	}
	if stage == StageSynthesis {
		text = FinalizeSynthesis(text, run.Context())
	}
	run.record(StageResult{Stage: stage, Text: text})
	return nil
}

// StepUntil steps run until it reaches stage (or finishes).
func (e *Engine) StepUntil(ctx context.Context, run *Run, stage Stage) error {
	for run.State != stage && !run.Done() {
		if err := e.Step(ctx, run); err != nil {
			return err
		}
	}
	return nil
}

// DirectResult is the outcome of a single-shot answer.
type DirectResult struct {
	Text     string
	Degraded bool
	Err      error
}

// Direct answers in one call with no staged reasoning. A failed call yields
// an extractive answer flagged degraded; only cancellation is an error.
func (e *Engine) Direct(ctx context.Context, query string, chunks []models.ChunkResult) (DirectResult, error) {
	if err := ctx.Err(); err != nil {
		return DirectResult{}, err
	}
	ctx, span := observability.StartStageSpan(ctx, "direct")
	defer span.End()

	run := NewRun(query, chunks)
	text, err := e.generate(ctx, "direct_answer", directPrompt(query, len(chunks) > 0), contextLines(run.Context()))
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			observability.RecordError(span, cerr)
			return DirectResult{}, cerr
		}
		observability.MarkDegraded(span, err.Error())
		e.logger.Warn("direct answer degraded", zap.Error(err))
		return DirectResult{
			Text:     ExtractiveAnswer(query, run.Context()),
			Degraded: true,
			Err:      fmt.Errorf("%w: direct: %w", util.ErrReasoningDegraded, err),
		}, nil
	}
	return DirectResult{Text: text}, nil
}

func (e *Engine) generate(ctx context.Context, op, prompt string, evidence []string) (string, error) {
	policy := e.policy
	policy.OnRetry = func(err error, wait time.Duration) {
		e.logger.Warn("generation failed, retrying", zap.String("operation", op), zap.Duration("wait", wait), zap.Error(err))
	}
	return providers.Retry(ctx, policy, func(ctx context.Context) (string, error) {
		resp, _, err := e.llm.Generate(ctx, providers.GenerateRequest{
			Operation: op,
			System:    systemPrompt,
			Prompt:    prompt,
			Context:   evidence,
		})
		if err != nil {
			return "", err
		}
		text := strings.TrimSpace(resp.Text)
		if text == "" {
			return "", errEmptyCompletion
		}
		return text, nil
	})
}
