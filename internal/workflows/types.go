package workflows

import "litagent/internal/ingest"

type LibraryGrowthInput struct {
	UserID      string   `json:"user_id"`
	Keyword     string   `json:"keyword,omitempty"`
	ExternalIDs []string `json:"external_ids,omitempty"`
	MaxResults  int      `json:"max_results,omitempty"`
}

type GrowthProgress struct {
	UserID   string            `json:"user_id"`
	Keyword  string            `json:"keyword,omitempty"`
	Stage    string            `json:"stage"`
	Total    int               `json:"total"`
	Done     int               `json:"done"`
	Ingested int               `json:"ingested"`
	Skipped  int               `json:"skipped"`
	Failed   int               `json:"failed"`
	PerPaper map[string]string `json:"per_paper_status"`
}

type LibraryGrowthResult struct {
	Progress   GrowthProgress   `json:"progress"`
	Outcomes   []ingest.Outcome `json:"outcomes"`
	ReportPath string           `json:"report_path,omitempty"`
}
