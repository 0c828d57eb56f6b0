// Package reasoning drives the staged chain-of-thought over retrieved
// paper context.
package reasoning

import (
	"errors"
	"sort"

	"litagent/internal/models"
)

// Stage is a state of the reasoning FSM.
type Stage string

const (
	StageExploration Stage = "exploration"
	StageDraft       Stage = "draft"
	StageReflection  Stage = "reflection"
	StageSynthesis   Stage = "synthesis"
	StageDone        Stage = "done"
)

// Stages lists the executable stages in their only legal order.
var Stages = []Stage{StageExploration, StageDraft, StageReflection, StageSynthesis}

var ErrRunComplete = errors.New("reasoning run already complete")

func (s Stage) Next() Stage {
	switch s {
	case StageExploration:
		return StageDraft
	case StageDraft:
		return StageReflection
	case StageReflection:
		return StageSynthesis
	default:
		return StageDone
	}
}

func (s Stage) Title() string {
	switch s {
	case StageExploration:
		return "Exploration"
	case StageDraft:
		return "Draft"
	case StageReflection:
		return "Reflection"
	case StageSynthesis:
		return "Synthesis"
	default:
		return "Done"
	}
}

// StageResult is the typed output of one executed stage. A degraded stage
// has empty Text and the failure in Err.
type StageResult struct {
	Stage    Stage
	Text     string
	Degraded bool
	Err      error
}

// Run carries one turn's reasoning state between Engine steps.
type Run struct {
	Query   string
	State   Stage
	context []models.ChunkResult
	results []StageResult
}

func NewRun(query string, chunks []models.ChunkResult) *Run {
	r := &Run{Query: query, State: StageExploration}
	r.SetContext(chunks)
	return r
}

// SetContext replaces the retrieved chunks, kept most similar first.
func (r *Run) SetContext(chunks []models.ChunkResult) {
	c := append([]models.ChunkResult(nil), chunks...)
	sort.SliceStable(c, func(i, j int) bool { return c[i].Score > c[j].Score })
	r.context = c
}

func (r *Run) Context() []models.ChunkResult {
	return r.context
}

func (r *Run) Done() bool {
	return r.State == StageDone
}

func (r *Run) Result(s Stage) (StageResult, bool) {
	for _, res := range r.results {
		if res.Stage == s {
			return res, true
		}
	}
	return StageResult{}, false
}

// Text is the output of stage s, empty when it has not run or degraded.
func (r *Run) Text(s Stage) string {
	res, _ := r.Result(s)
	return res.Text
}

func (r *Run) Results() []StageResult {
	return append([]StageResult(nil), r.results...)
}

// Records converts executed stages into their persisted form.
func (r *Run) Records() []models.StageRecord {
	out := make([]models.StageRecord, 0, len(r.results))
	for _, res := range r.results {
		out = append(out, models.StageRecord{Stage: string(res.Stage), Text: res.Text, Degraded: res.Degraded})
	}
	return out
}

func (r *Run) DegradedStages() []Stage {
	var out []Stage
	for _, res := range r.results {
		if res.Degraded {
			out = append(out, res.Stage)
		}
	}
	return out
}

// Answer returns the final answer text. When Synthesis did not produce one
// it falls back to Draft, Reflection and Exploration in that order, and to an
// extractive digest of the context when every stage failed.
func (r *Run) Answer() (string, bool) {
	if res, ok := r.Result(StageSynthesis); ok && !res.Degraded && res.Text != "" {
		return res.Text, false
	}
	for _, s := range []Stage{StageDraft, StageReflection, StageExploration} {
		if t := r.Text(s); t != "" {
			return t, true
		}
	}
	return ExtractiveAnswer(r.Query, r.context), true
}

func (r *Run) record(res StageResult) {
	r.results = append(r.results, res)
	r.State = res.Stage.Next()
}
