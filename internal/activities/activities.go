// Package activities holds the Temporal activities behind durable library
// growth. Each one delegates to the same ingestion pipeline and store the
// interactive assistant uses.
package activities

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"

	"litagent/internal/ingest"
	"litagent/internal/models"
	"litagent/internal/util"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
)

type Ingester interface {
	Ingest(ctx context.Context, scope models.Scope, externalID string, meta *ingest.Metadata) (ingest.Outcome, error)
}

type PaperSearcher interface {
	Search(ctx context.Context, keyword string, maxResults int) ([]ingest.Metadata, error)
}

type OwnershipStore interface {
	OwnedExternalIDs(ctx context.Context, userID string, ids []string) (map[string]bool, error)
}

type Deps struct {
	Papers    PaperSearcher
	Ingester  Ingester
	Store     OwnershipStore
	ReportDir string
}

type Activities struct {
	deps   Deps
	logger *zap.Logger
}

func New(deps Deps, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{deps: deps, logger: logger}
}

func (a *Activities) SearchPapersActivity(ctx context.Context, in SearchPapersInput) (SearchPapersOutput, error) {
	papers, err := a.deps.Papers.Search(ctx, in.Keyword, in.MaxResults)
	if err != nil {
		return SearchPapersOutput{}, classify("search papers", err)
	}
	return SearchPapersOutput{Papers: papers}, nil
}

func (a *Activities) FilterOwnedActivity(ctx context.Context, in FilterOwnedInput) (FilterOwnedOutput, error) {
	owned, err := a.deps.Store.OwnedExternalIDs(ctx, in.UserID, in.ExternalIDs)
	if err != nil {
		return FilterOwnedOutput{}, classify("owned external ids", err)
	}
	out := FilterOwnedOutput{Owned: make([]string, 0, len(owned))}
	for _, id := range in.ExternalIDs {
		if owned[id] {
			out.Owned = append(out.Owned, id)
		}
	}
	return out, nil
}

// IngestPaperActivity runs one candidate through the pipeline. A failed
// candidate is reported in the outcome rather than as an activity error since
// the pipeline has already spent its own retry budget.
func (a *Activities) IngestPaperActivity(ctx context.Context, in IngestPaperInput) (ingest.Outcome, error) {
	out, err := a.deps.Ingester.Ingest(ctx, models.Scope{UserID: in.UserID}, in.ExternalID, in.Metadata)
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	if errors.Is(err, util.ErrInvalidInput) || errors.Is(err, util.ErrMalformedIdentifier) {
		return out, classify("ingest paper", err)
	}
	a.logger.Warn("candidate ingestion failed",
		zap.String("user_id", in.UserID),
		zap.String("external_id", in.ExternalID),
		zap.Int32("attempt", attempt(ctx)),
		zap.Error(err),
	)
	return out, nil
}

var unsafePath = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// WriteGrowthReportActivity stores the run summary as JSON under the report
// directory. It is a no-op when no directory is configured.
func (a *Activities) WriteGrowthReportActivity(_ context.Context, in WriteGrowthReportInput) (WriteGrowthReportOutput, error) {
	if a.deps.ReportDir == "" {
		return WriteGrowthReportOutput{}, nil
	}
	path := filepath.Join(a.deps.ReportDir,
		unsafePath.ReplaceAllString(in.UserID, "_"),
		unsafePath.ReplaceAllString(in.WorkflowID, "_")+".json")
	if err := util.WriteJSONAtomic(path, in.Report); err != nil {
		return WriteGrowthReportOutput{}, err
	}
	return WriteGrowthReportOutput{Path: path}, nil
}

// classify marks errors that no retry can fix as non-retryable.
func classify(op string, err error) error {
	if errors.Is(err, util.ErrInvalidInput) || errors.Is(err, util.ErrMalformedIdentifier) {
		return temporal.NewNonRetryableApplicationError(fmt.Sprintf("%s: %v", op, err), "InvalidInput", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func attempt(ctx context.Context) int32 {
	if !activity.IsActivity(ctx) {
		return 0
	}
	return activity.GetInfo(ctx).Attempt
}
