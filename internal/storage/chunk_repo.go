package storage

import (
	"context"
	"fmt"

	"litagent/internal/models"
)

type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// ListChunks returns a paper's chunks in ordinal order, restricted to papers
// owned by userID. Embeddings are not loaded.
func (r *ChunkRepo) ListChunks(ctx context.Context, userID, paperID string) ([]models.Chunk, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT c.chunk_id::text, c.paper_id::text, c.ordinal, c.text, c.created_at
FROM chunks c
JOIN papers p ON p.paper_id = c.paper_id
WHERE p.user_id=$1 AND c.paper_id::text=$2
ORDER BY c.ordinal ASC`, userID, paperID)
	if err != nil {
		return nil, fmt.Errorf("list chunks by paper: %w", err)
	}
	defer rows.Close()
	out := make([]models.Chunk, 0, 64)
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ChunkID, &c.PaperID, &c.Ordinal, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk by paper: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk by paper: %w", err)
	}
	return out, nil
}
