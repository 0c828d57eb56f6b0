package vector

import (
	"context"
	"fmt"

	"litagent/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const DefaultTopK = 5

type Searcher struct {
	q Queryer
}

type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func NewSearcher(q Queryer) *Searcher {
	return &Searcher{q: q}
}

// Search returns the k chunks closest to queryVec by cosine distance, drawn
// only from papers owned by userID, most similar first.
func (s *Searcher) Search(ctx context.Context, userID string, queryVec []float32, k int) ([]models.ChunkResult, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	rows, err := s.q.Query(ctx, `
SELECT c.chunk_id::text,
       c.paper_id::text,
       COALESCE(p.external_id, ''),
       p.title,
       c.ordinal,
       c.text,
       1 - (c.embedding <=> $2) AS score
FROM chunks c
JOIN papers p ON p.paper_id = c.paper_id
WHERE p.user_id = $1
ORDER BY c.embedding <=> $2, c.chunk_id
LIMIT $3`, userID, pgvector.NewVector(queryVec), k)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	defer rows.Close()

	results := make([]models.ChunkResult, 0, k)
	for rows.Next() {
		var r models.ChunkResult
		if err := rows.Scan(&r.ChunkID, &r.PaperID, &r.ExternalID, &r.Title, &r.Ordinal, &r.Text, &r.Score); err != nil {
			return nil, fmt.Errorf("scan chunk result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return results, nil
}
