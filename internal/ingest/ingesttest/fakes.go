// Package ingesttest provides in-memory doubles for the ingestion
// collaborators.
package ingesttest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"litagent/internal/ingest"
	"litagent/internal/util"
)

// Repository serves documents registered with Add. Errors queued with
// FailNext are returned by Fetch, one per call, before the document.
type Repository struct {
	mu       sync.Mutex
	docs     map[string]ingest.Document
	order    []string
	failures map[string][]error
	fetches  map[string]int
}

func NewRepository() *Repository {
	return &Repository{
		docs:     map[string]ingest.Document{},
		failures: map[string][]error{},
		fetches:  map[string]int{},
	}
}

// Add registers a paper whose document bytes are text.
func (r *Repository) Add(md ingest.Metadata, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[md.ExternalID]; !ok {
		r.order = append(r.order, md.ExternalID)
	}
	r.docs[md.ExternalID] = ingest.Document{Metadata: md, Content: []byte(text)}
}

func (r *Repository) FailNext(externalID string, errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[externalID] = append(r.failures[externalID], errs...)
}

// Fetches reports how many times Fetch was called for externalID.
func (r *Repository) Fetches(externalID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches[externalID]
}

// Search matches keyword case-insensitively against titles and abstracts.
func (r *Repository) Search(ctx context.Context, keyword string, maxResults int) ([]ingest.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	kw := strings.ToLower(strings.TrimSpace(keyword))
	out := make([]ingest.Metadata, 0)
	for _, id := range r.order {
		md := r.docs[id].Metadata
		if strings.Contains(strings.ToLower(md.Title+" "+md.Abstract), kw) {
			out = append(out, md)
		}
		if maxResults > 0 && len(out) == maxResults {
			break
		}
	}
	return out, nil
}

func (r *Repository) Fetch(ctx context.Context, externalID string) (ingest.Document, error) {
	if err := ctx.Err(); err != nil {
		return ingest.Document{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches[externalID]++
	if q := r.failures[externalID]; len(q) > 0 {
		r.failures[externalID] = q[1:]
		return ingest.Document{}, q[0]
	}
	doc, ok := r.docs[externalID]
	if !ok {
		return ingest.Document{}, fmt.Errorf("paper %s: %w", externalID, util.ErrNotFound)
	}
	return doc, nil
}

// PlainText treats document bytes as already-extracted text.
type PlainText struct{}

func (PlainText) Extract(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text := util.NormalizeDocumentText(string(data))
	if text == "" {
		return "", util.ErrNoExtractableText
	}
	return text, nil
}
