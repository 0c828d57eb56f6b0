// Package workflows runs library growth as a durable Temporal workflow so a
// large keyword ingest survives worker restarts and can be watched while it
// runs.
package workflows

import (
	"strings"
	"time"

	"litagent/internal/activities"
	"litagent/internal/ingest"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const QueryGetProgress = "GetProgress"

const (
	stageSearching = "searching"
	stageFiltering = "filtering"
	stageIngesting = "ingesting"
	stageCompleted = "completed"

	statusQueued     = "queued"
	statusProcessing = "processing"

	defaultMaxResults = 10
)

// GrowthWorkflowID names a growth run for a user. runKey keeps concurrent
// runs for the same user apart.
func GrowthWorkflowID(userID, runKey string) string {
	return "grow-" + sanitizeID(userID) + "-" + sanitizeID(runKey)
}

// LibraryGrowthWorkflow searches the repository for a keyword, adds any
// explicitly named papers, and ingests every candidate the user does not
// already own, one at a time. A failed candidate is recorded and the run
// continues.
func LibraryGrowthWorkflow(ctx workflow.Context, input LibraryGrowthInput) (LibraryGrowthResult, error) {
	progress := GrowthProgress{
		UserID:   input.UserID,
		Keyword:  input.Keyword,
		Stage:    stageSearching,
		PerPaper: map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (GrowthProgress, error) {
		return progress, nil
	}); err != nil {
		return LibraryGrowthResult{}, err
	}
	if strings.TrimSpace(input.UserID) == "" {
		return LibraryGrowthResult{}, temporal.NewNonRetryableApplicationError("user_id is required", "InvalidInput", nil)
	}
	if strings.TrimSpace(input.Keyword) == "" && len(input.ExternalIDs) == 0 {
		return LibraryGrowthResult{}, temporal.NewNonRetryableApplicationError("keyword or external_ids is required", "InvalidInput", nil)
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	var candidates []ingest.Metadata
	if kw := strings.TrimSpace(input.Keyword); kw != "" {
		maxResults := input.MaxResults
		if maxResults <= 0 {
			maxResults = defaultMaxResults
		}
		var searchOut activities.SearchPapersOutput
		if err := workflow.ExecuteActivity(ctx, "SearchPapersActivity", activities.SearchPapersInput{
			Keyword:    kw,
			MaxResults: maxResults,
		}).Get(ctx, &searchOut); err != nil {
			return LibraryGrowthResult{}, err
		}
		candidates = searchOut.Papers
	}
	candidates = appendExplicit(candidates, input.ExternalIDs)

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ExternalID)
		progress.PerPaper[c.ExternalID] = statusQueued
	}
	progress.Total = len(ids)
	progress.Stage = stageFiltering

	owned := map[string]bool{}
	var ownedOut activities.FilterOwnedOutput
	if err := workflow.ExecuteActivity(ctx, "FilterOwnedActivity", activities.FilterOwnedInput{
		UserID:      input.UserID,
		ExternalIDs: ids,
	}).Get(ctx, &ownedOut); err != nil {
		// The pipeline dedupes on its own, so a failed lookup only costs
		// extra activity calls.
		logger.Warn("owned lookup failed, relying on pipeline dedupe", "error", err)
	}
	for _, id := range ownedOut.Owned {
		owned[id] = true
	}

	result := LibraryGrowthResult{Outcomes: make([]ingest.Outcome, 0, len(candidates))}
	progress.Stage = stageIngesting
	ingestCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    2,
		},
	})
	for _, c := range candidates {
		if owned[c.ExternalID] {
			out := ingest.Outcome{ExternalID: c.ExternalID, Title: c.Title, Status: ingest.StatusSkipped}
			record(&progress, c.ExternalID, out)
			result.Outcomes = append(result.Outcomes, out)
			continue
		}
		progress.PerPaper[c.ExternalID] = statusProcessing
		var meta *ingest.Metadata
		if c.Title != "" {
			md := c
			meta = &md
		}
		var out ingest.Outcome
		err := workflow.ExecuteActivity(ingestCtx, "IngestPaperActivity", activities.IngestPaperInput{
			UserID:     input.UserID,
			ExternalID: c.ExternalID,
			Metadata:   meta,
		}).Get(ctx, &out)
		if err != nil {
			out = ingest.Outcome{ExternalID: c.ExternalID, Title: c.Title, Status: ingest.StatusFailed, Error: err.Error()}
		}
		record(&progress, c.ExternalID, out)
		result.Outcomes = append(result.Outcomes, out)
	}
	progress.Stage = stageCompleted
	result.Progress = progress

	var reportOut activities.WriteGrowthReportOutput
	if err := workflow.ExecuteActivity(ctx, "WriteGrowthReportActivity", activities.WriteGrowthReportInput{
		UserID:     input.UserID,
		WorkflowID: workflow.GetInfo(ctx).WorkflowExecution.ID,
		Report: map[string]any{
			"user_id":          input.UserID,
			"keyword":          input.Keyword,
			"total":            progress.Total,
			"ingested":         progress.Ingested,
			"skipped":          progress.Skipped,
			"failed":           progress.Failed,
			"per_paper_status": progress.PerPaper,
			"generated_at":     workflow.Now(ctx),
		},
	}).Get(ctx, &reportOut); err != nil {
		logger.Warn("growth report not written", "error", err)
	}
	result.ReportPath = reportOut.Path
	return result, nil
}

// record keys the status by the candidate id the run queued, which may be a
// versioned form of the id the pipeline stored.
func record(p *GrowthProgress, candidate string, out ingest.Outcome) {
	p.Done++
	p.PerPaper[candidate] = string(out.Status)
	switch {
	case out.New():
		p.Ingested++
	case out.Stored():
		p.Skipped++
	default:
		p.Failed++
	}
}

// appendExplicit adds ids not already among the search results, keeping
// first-seen order.
func appendExplicit(cands []ingest.Metadata, ids []string) []ingest.Metadata {
	seen := make(map[string]bool, len(cands)+len(ids))
	out := make([]ingest.Metadata, 0, len(cands)+len(ids))
	for _, c := range cands {
		if c.ExternalID == "" || seen[c.ExternalID] {
			continue
		}
		seen[c.ExternalID] = true
		out = append(out, c)
	}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, ingest.Metadata{ExternalID: id})
	}
	return out
}

func sanitizeID(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, ".", "-")
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, " ", "-")
	return s
}
