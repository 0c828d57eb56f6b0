package providers

import (
	"context"
	"time"
)

// CallRecord describes one generation call for the audit trail.
type CallRecord struct {
	Operation string
	UserID    string
	Provider  string
	Model     string
	Status    string
	ErrorType string
	Latency   time.Duration
}

type AuditSink interface {
	RecordLLMCall(ctx context.Context, rec CallRecord) error
}

type auditUserKey struct{}

// WithAuditUser tags ctx so audited calls can be attributed to a user.
func WithAuditUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, auditUserKey{}, userID)
}

// AuditedLLM records every Generate call to a sink. Sink failures never fail
// the call itself.
type AuditedLLM struct {
	inner LLMProvider
	sink  AuditSink
	now   func() time.Time
}

func NewAuditedLLM(inner LLMProvider, sink AuditSink) *AuditedLLM {
	return &AuditedLLM{inner: inner, sink: sink, now: time.Now}
}

func (a *AuditedLLM) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	start := a.now()
	out, info, err := a.inner.Generate(ctx, req)
	rec := CallRecord{
		Operation: req.Operation,
		Provider:  info.Name,
		Model:     info.Model,
		Status:    "ok",
		Latency:   a.now().Sub(start),
	}
	if uid, ok := ctx.Value(auditUserKey{}).(string); ok {
		rec.UserID = uid
	}
	if err != nil {
		rec.Status = "error"
		rec.ErrorType = string(ClassifyError(err))
	}
	// A canceled caller context must not drop the audit row.
	_ = a.sink.RecordLLMCall(context.WithoutCancel(ctx), rec)
	return out, info, err
}
