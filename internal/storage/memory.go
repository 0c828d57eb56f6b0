package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"litagent/internal/models"
	"litagent/internal/util"
	"litagent/internal/vector"

	"github.com/google/uuid"
)

// MemoryStore keeps the whole library in process. It enforces the same
// per-user uniqueness and atomicity rules as the Postgres schema and backs
// tests and the CLI's --memory mode.
type MemoryStore struct {
	mu          sync.RWMutex
	now         func() time.Time
	papers      map[string]models.Paper
	byExternal  map[string]string
	chunks      map[string][]models.Chunk
	summaries   map[string][]models.Summary
	sessions    map[string]models.ChatSession
	transcripts map[string][]models.Transcript
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         time.Now,
		papers:      map[string]models.Paper{},
		byExternal:  map[string]string{},
		chunks:      map[string][]models.Chunk{},
		summaries:   map[string][]models.Summary{},
		sessions:    map[string]models.ChatSession{},
		transcripts: map[string][]models.Transcript{},
	}
}

func externalKey(userID, externalID string) string {
	return userID + "\x00" + externalID
}

func (m *MemoryStore) PaperByExternalID(ctx context.Context, userID, externalID string) (models.Paper, error) {
	if err := ctx.Err(); err != nil {
		return models.Paper{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byExternal[externalKey(userID, externalID)]
	if !ok {
		return models.Paper{}, fmt.Errorf("paper %s for user: %w", externalID, util.ErrNotFound)
	}
	return m.papers[id], nil
}

func (m *MemoryStore) InsertPaperWithChunks(ctx context.Context, p models.Paper, chunks []models.Chunk) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ExternalID != "" {
		if existing, ok := m.byExternal[externalKey(p.UserID, p.ExternalID)]; ok {
			return existing, false, nil
		}
	}
	for i, c := range chunks {
		if c.Ordinal != i {
			return "", false, fmt.Errorf("chunk ordinals must be contiguous from 0: got %d at %d", c.Ordinal, i)
		}
	}
	if p.PaperID == "" {
		p.PaperID = uuid.NewString()
	}
	p.CreatedAt = m.now()
	stored := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		if c.ChunkID == "" {
			c.ChunkID = uuid.NewString()
		}
		c.PaperID = p.PaperID
		c.CreatedAt = p.CreatedAt
		c.Embedding = append([]float32(nil), c.Embedding...)
		stored[i] = c
	}
	m.papers[p.PaperID] = p
	if p.ExternalID != "" {
		m.byExternal[externalKey(p.UserID, p.ExternalID)] = p.PaperID
	}
	m.chunks[p.PaperID] = stored
	return p.PaperID, true, nil
}

func (m *MemoryStore) AppendSummary(ctx context.Context, s models.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.papers[s.PaperID]; !ok {
		return fmt.Errorf("paper %s: %w", s.PaperID, util.ErrNotFound)
	}
	if s.SummaryID == "" {
		s.SummaryID = uuid.NewString()
	}
	s.CreatedAt = m.now()
	m.summaries[s.PaperID] = append(m.summaries[s.PaperID], s)
	return nil
}

func (m *MemoryStore) ListSummaries(_ context.Context, userID, paperID string) ([]models.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.papers[paperID]
	if !ok || p.UserID != userID {
		return []models.Summary{}, nil
	}
	return append([]models.Summary{}, m.summaries[paperID]...), nil
}

func (m *MemoryStore) OwnedExternalIDs(ctx context.Context, userID string, ids []string) (map[string]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	owned := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := m.byExternal[externalKey(userID, id)]; ok {
			owned[id] = true
		}
	}
	return owned, nil
}

func (m *MemoryStore) ListPapers(_ context.Context, userID string) ([]models.Paper, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Paper, 0)
	for _, p := range m.papers {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PaperID < out[j].PaperID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListChunks returns a paper's chunks in ordinal order. Papers owned by
// someone else look empty.
func (m *MemoryStore) ListChunks(_ context.Context, userID, paperID string) ([]models.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.papers[paperID]; !ok || p.UserID != userID {
		return []models.Chunk{}, nil
	}
	return append([]models.Chunk{}, m.chunks[paperID]...), nil
}

// Search implements the retriever contract with brute-force cosine scoring.
func (m *MemoryStore) Search(ctx context.Context, userID string, queryVec []float32, k int) ([]models.ChunkResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cands := make([]vector.Candidate, 0)
	for paperID, chunks := range m.chunks {
		p := m.papers[paperID]
		if p.UserID != userID {
			continue
		}
		for _, c := range chunks {
			cands = append(cands, vector.Candidate{
				Result: models.ChunkResult{
					ChunkID:    c.ChunkID,
					PaperID:    p.PaperID,
					ExternalID: p.ExternalID,
					Title:      p.Title,
					Ordinal:    c.Ordinal,
					Text:       c.Text,
				},
				Embedding: c.Embedding,
			})
		}
	}
	return vector.TopK(queryVec, cands, k), nil
}

func (m *MemoryStore) GetSession(ctx context.Context, userID, sessionID string) (models.ChatSession, error) {
	if err := ctx.Err(); err != nil {
		return models.ChatSession{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return models.ChatSession{}, fmt.Errorf("session %s: %w", sessionID, util.ErrNotFound)
	}
	return s, nil
}

func (m *MemoryStore) SaveTurn(ctx context.Context, t models.Transcript) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[t.SessionID]
	if !ok {
		s = models.ChatSession{SessionID: t.SessionID, UserID: t.UserID, CreatedAt: m.now()}
		m.sessions[t.SessionID] = s
	}
	if s.UserID != t.UserID {
		return fmt.Errorf("session %s: %w", t.SessionID, util.ErrNotFound)
	}
	if t.TranscriptID == "" {
		t.TranscriptID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.now()
	}
	m.transcripts[t.SessionID] = append(m.transcripts[t.SessionID], t)
	return nil
}

func (m *MemoryStore) ListTranscripts(ctx context.Context, userID, sessionID string) ([]models.Transcript, error) {
	if _, err := m.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Transcript{}, m.transcripts[sessionID]...), nil
}

func (m *MemoryStore) ListSessions(_ context.Context, userID string) ([]models.SessionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.SessionInfo, 0)
	for id, s := range m.sessions {
		if s.UserID != userID {
			continue
		}
		info := models.SessionInfo{SessionID: id, LastTurnAt: s.CreatedAt}
		if ts := m.transcripts[id]; len(ts) > 0 {
			last := ts[len(ts)-1]
			info.LastQuery = last.Query
			info.LastTurnAt = last.CreatedAt
			info.Turns = len(ts)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastTurnAt.Equal(out[j].LastTurnAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].LastTurnAt.After(out[j].LastTurnAt)
	})
	return out, nil
}

// TranscriptCount is the total number of persisted turns across all sessions.
func (m *MemoryStore) TranscriptCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ts := range m.transcripts {
		n += len(ts)
	}
	return n
}

// PaperCount is the number of stored papers for userID.
func (m *MemoryStore) PaperCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.papers {
		if p.UserID == userID {
			n++
		}
	}
	return n
}
