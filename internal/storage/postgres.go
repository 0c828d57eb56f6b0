package storage

import (
	"litagent/internal/vector"
)

// PostgresStore bundles the repositories behind one value that satisfies the
// consumer-side store, retriever and audit interfaces.
type PostgresStore struct {
	*PaperRepo
	*ChunkRepo
	*SessionRepo
	*LLMAuditRepo
	*vector.Searcher
}

func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{
		PaperRepo:    NewPaperRepo(db),
		ChunkRepo:    NewChunkRepo(db),
		SessionRepo:  NewSessionRepo(db),
		LLMAuditRepo: NewLLMAuditRepo(db),
		Searcher:     vector.NewSearcher(db.Pool),
	}
}
