package storage

import (
	"context"
	"fmt"

	"litagent/internal/providers"
)

type LLMAuditRepo struct {
	db *DB
}

func NewLLMAuditRepo(db *DB) *LLMAuditRepo {
	return &LLMAuditRepo{db: db}
}

// RecordLLMCall implements providers.AuditSink.
func (r *LLMAuditRepo) RecordLLMCall(ctx context.Context, rec providers.CallRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO llm_calls(call_id, operation, user_id, provider_name, model, status, error_type, latency_ms)
VALUES (gen_random_uuid(), $1, NULLIF($2,''), $3, $4, $5, NULLIF($6,''), $7)`,
		rec.Operation, rec.UserID, rec.Provider, rec.Model, rec.Status, rec.ErrorType, rec.Latency.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}
