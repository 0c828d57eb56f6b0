package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.SearchPapersActivity)
	w.RegisterActivity(a.FilterOwnedActivity)
	w.RegisterActivity(a.IngestPaperActivity)
	w.RegisterActivity(a.WriteGrowthReportActivity)
}
