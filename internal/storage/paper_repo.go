package storage

import (
	"context"
	"errors"
	"fmt"

	"litagent/internal/models"
	"litagent/internal/util"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

type PaperRepo struct {
	db *DB
}

func NewPaperRepo(db *DB) *PaperRepo {
	return &PaperRepo{db: db}
}

const paperColumns = `paper_id::text, user_id, COALESCE(external_id,''), title, COALESCE(authors,''),
       COALESCE(abstract,''), COALESCE(url,''), published_at, source, created_at`

func scanPaper(row pgx.Row) (models.Paper, error) {
	var p models.Paper
	err := row.Scan(&p.PaperID, &p.UserID, &p.ExternalID, &p.Title, &p.Authors, &p.Abstract, &p.URL, &p.PublishedAt, &p.Source, &p.CreatedAt)
	return p, err
}

func (r *PaperRepo) PaperByExternalID(ctx context.Context, userID, externalID string) (models.Paper, error) {
	p, err := scanPaper(r.db.Pool.QueryRow(ctx, `
SELECT `+paperColumns+`
FROM papers
WHERE user_id=$1 AND external_id=$2`, userID, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Paper{}, fmt.Errorf("paper %s for user: %w", externalID, util.ErrNotFound)
	}
	if err != nil {
		return models.Paper{}, fmt.Errorf("get paper by external id: %w", err)
	}
	return p, nil
}

// InsertPaperWithChunks writes a paper and all of its chunks in one
// transaction. When the (user, external id) pair already exists nothing is
// written and the existing paper id is returned with inserted=false.
func (r *PaperRepo) InsertPaperWithChunks(ctx context.Context, p models.Paper, chunks []models.Chunk) (string, bool, error) {
	if p.PaperID == "" {
		p.PaperID = uuid.NewString()
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return "", false, fmt.Errorf("begin tx insert paper: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var paperID string
	err = tx.QueryRow(ctx, `
INSERT INTO papers (paper_id, user_id, external_id, title, authors, abstract, url, published_at, source)
VALUES ($1, $2, NULLIF($3,''), $4, NULLIF($5,''), NULLIF($6,''), NULLIF($7,''), $8, $9)
ON CONFLICT (user_id, external_id) DO NOTHING
RETURNING paper_id::text`,
		p.PaperID, p.UserID, p.ExternalID, p.Title, p.Authors, p.Abstract, p.URL, p.PublishedAt, p.Source,
	).Scan(&paperID)
	if errors.Is(err, pgx.ErrNoRows) {
		var existing string
		if err := tx.QueryRow(ctx, `SELECT paper_id::text FROM papers WHERE user_id=$1 AND external_id=$2`, p.UserID, p.ExternalID).Scan(&existing); err != nil {
			return "", false, fmt.Errorf("load conflicting paper: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("insert paper: %w", err)
	}

	for _, c := range chunks {
		if c.ChunkID == "" {
			c.ChunkID = uuid.NewString()
		}
		_, err := tx.Exec(ctx, `
INSERT INTO chunks (chunk_id, paper_id, ordinal, text, embedding)
VALUES ($1, $2, $3, $4, $5)`,
			c.ChunkID, paperID, c.Ordinal, c.Text, pgvector.NewVector(c.Embedding),
		)
		if err != nil {
			return "", false, fmt.Errorf("insert chunk %d: %w", c.Ordinal, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", false, fmt.Errorf("commit paper tx: %w", err)
	}
	return paperID, true, nil
}

func (r *PaperRepo) AppendSummary(ctx context.Context, s models.Summary) error {
	if s.SummaryID == "" {
		s.SummaryID = uuid.NewString()
	}
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO summaries (summary_id, paper_id, kind, text)
VALUES ($1, $2, $3, $4)`, s.SummaryID, s.PaperID, s.Kind, s.Text)
	if err != nil {
		return fmt.Errorf("append summary: %w", err)
	}
	return nil
}

// ListSummaries returns a paper's summaries oldest first, restricted to papers
// owned by userID.
func (r *PaperRepo) ListSummaries(ctx context.Context, userID, paperID string) ([]models.Summary, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT s.summary_id::text, s.paper_id::text, s.kind, s.text, s.created_at
FROM summaries s
JOIN papers p ON p.paper_id = s.paper_id
WHERE p.user_id=$1 AND s.paper_id::text=$2
ORDER BY s.created_at ASC`, userID, paperID)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()
	out := make([]models.Summary, 0, 2)
	for rows.Next() {
		var s models.Summary
		if err := rows.Scan(&s.SummaryID, &s.PaperID, &s.Kind, &s.Text, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// OwnedExternalIDs reports which of ids the user already has in the library.
func (r *PaperRepo) OwnedExternalIDs(ctx context.Context, userID string, ids []string) (map[string]bool, error) {
	owned := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return owned, nil
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT external_id
FROM papers
WHERE user_id=$1 AND external_id = ANY($2)`, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("query owned external ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan owned external id: %w", err)
		}
		owned[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate owned external ids: %w", err)
	}
	return owned, nil
}

func (r *PaperRepo) ListPapers(ctx context.Context, userID string) ([]models.Paper, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+paperColumns+`
FROM papers
WHERE user_id=$1
ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list papers: %w", err)
	}
	defer rows.Close()

	out := make([]models.Paper, 0)
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, fmt.Errorf("scan paper: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate papers: %w", err)
	}
	return out, nil
}
