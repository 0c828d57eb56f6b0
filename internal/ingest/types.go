// Package ingest turns an external paper identifier into a stored paper with
// embedded chunks and a structured summary.
package ingest

import (
	"context"
	"time"

	"litagent/internal/models"
)

// Metadata describes a paper as the external repository reports it.
type Metadata struct {
	ExternalID  string     `json:"external_id"`
	Title       string     `json:"title"`
	Authors     string     `json:"authors,omitempty"`
	Abstract    string     `json:"abstract,omitempty"`
	URL         string     `json:"url,omitempty"`
	PDFURL      string     `json:"pdf_url,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Document is fetched metadata plus the raw document bytes.
type Document struct {
	Metadata Metadata
	Content  []byte
}

type Repository interface {
	Search(ctx context.Context, keyword string, maxResults int) ([]Metadata, error)
	Fetch(ctx context.Context, externalID string) (Document, error)
}

type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type PaperStore interface {
	PaperByExternalID(ctx context.Context, userID, externalID string) (models.Paper, error)
	InsertPaperWithChunks(ctx context.Context, p models.Paper, chunks []models.Chunk) (string, bool, error)
	AppendSummary(ctx context.Context, s models.Summary) error
}

type Status string

const (
	StatusIngested        Status = "ingested"
	StatusSkipped         Status = "skipped"
	StatusDuplicate       Status = "duplicate"
	StatusSummaryDegraded Status = "summary_degraded"
	StatusFailed          Status = "failed"
)

// Outcome reports what happened to one candidate.
type Outcome struct {
	ExternalID string `json:"external_id"`
	PaperID    string `json:"paper_id,omitempty"`
	Title      string `json:"title,omitempty"`
	Status     Status `json:"status"`
	Chunks     int    `json:"chunks,omitempty"`
	Summary    string `json:"summary,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Stored reports whether the paper is in the library after this outcome.
func (o Outcome) Stored() bool {
	switch o.Status {
	case StatusIngested, StatusSkipped, StatusDuplicate, StatusSummaryDegraded:
		return true
	default:
		return false
	}
}

// New reports whether this call created the paper.
func (o Outcome) New() bool {
	return o.Status == StatusIngested || o.Status == StatusSummaryDegraded
}
