package models

import "time"

const (
	SourceUploaded = "uploaded"
	SourceFetched  = "fetched"

	SummaryKindStructured = "structured"
)

// Scope identifies whose data a call may read or write. It is passed
// explicitly through every layer instead of living in ambient state.
type Scope struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
}

type Paper struct {
	PaperID     string     `json:"paper_id"`
	UserID      string     `json:"user_id"`
	ExternalID  string     `json:"external_id,omitempty"`
	Title       string     `json:"title"`
	Authors     string     `json:"authors,omitempty"`
	Abstract    string     `json:"abstract,omitempty"`
	URL         string     `json:"url,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Source      string     `json:"source"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Chunk struct {
	ChunkID   string    `json:"chunk_id"`
	PaperID   string    `json:"paper_id"`
	Ordinal   int       `json:"ordinal"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type Summary struct {
	SummaryID string    `json:"summary_id"`
	PaperID   string    `json:"paper_id"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ChunkResult is one retrieval hit joined with its paper.
type ChunkResult struct {
	ChunkID    string  `json:"chunk_id"`
	PaperID    string  `json:"paper_id"`
	ExternalID string  `json:"external_id,omitempty"`
	Title      string  `json:"title"`
	Ordinal    int     `json:"ordinal"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

type ChatSession struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionInfo is a session listing row with its most recent turn.
type SessionInfo struct {
	SessionID  string    `json:"session_id"`
	LastQuery  string    `json:"last_query"`
	Turns      int       `json:"turns"`
	LastTurnAt time.Time `json:"last_turn_at"`
}

type ReasoningMode string

const (
	ModeMultiStage ReasoningMode = "multi_stage"
	ModeSingleShot ReasoningMode = "single_shot"
)

// StageRecord is the persisted output of one reasoning stage.
type StageRecord struct {
	Stage    string `json:"stage"`
	Text     string `json:"text"`
	Degraded bool   `json:"degraded,omitempty"`
}

type Transcript struct {
	TranscriptID       string        `json:"transcript_id"`
	SessionID          string        `json:"session_id"`
	UserID             string        `json:"user_id"`
	Query              string        `json:"query"`
	Answer             string        `json:"answer"`
	Mode               ReasoningMode `json:"mode"`
	Stages             []StageRecord `json:"stages,omitempty"`
	ReferencedPaperIDs []string      `json:"referenced_paper_ids"`
	IngestedPaperIDs   []string      `json:"ingested_paper_ids,omitempty"`
	Degraded           []string      `json:"degraded,omitempty"`
	Notes              []string      `json:"notes,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}
