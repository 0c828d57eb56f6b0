package activities

import "litagent/internal/ingest"

type SearchPapersInput struct {
	Keyword    string `json:"keyword"`
	MaxResults int    `json:"max_results"`
}

type SearchPapersOutput struct {
	Papers []ingest.Metadata `json:"papers"`
}

type FilterOwnedInput struct {
	UserID      string   `json:"user_id"`
	ExternalIDs []string `json:"external_ids"`
}

type FilterOwnedOutput struct {
	Owned []string `json:"owned"`
}

type IngestPaperInput struct {
	UserID     string           `json:"user_id"`
	ExternalID string           `json:"external_id"`
	Metadata   *ingest.Metadata `json:"metadata,omitempty"`
}

type WriteGrowthReportInput struct {
	UserID     string         `json:"user_id"`
	WorkflowID string         `json:"workflow_id"`
	Report     map[string]any `json:"report"`
}

type WriteGrowthReportOutput struct {
	Path string `json:"path,omitempty"`
}
