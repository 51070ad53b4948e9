package providers

import "context"

// CallRecord describes one provider attempt for the audit trail.
type CallRecord struct {
	CallID       string
	Operation    string
	PaperID      string
	ProviderName string
	Model        string
	Status       string
	ErrorType    string
}

type CallRecorder interface {
	RecordCall(ctx context.Context, rec CallRecord) error
}

type paperIDKey struct{}

// WithPaperID tags ctx so audit records can be attributed to a paper.
func WithPaperID(ctx context.Context, paperID string) context.Context {
	return context.WithValue(ctx, paperIDKey{}, paperID)
}

func PaperIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(paperIDKey{}).(string)
	return v
}
