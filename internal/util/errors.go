package util

import "errors"

// Pipeline error kinds. Stage errors wrap one of these so callers can branch
// with errors.Is regardless of the underlying cause.
var (
	ErrFeed       = errors.New("feed error")
	ErrFetch      = errors.New("fetch error")
	ErrExtraction = errors.New("extraction error")
	ErrModel      = errors.New("model error")
	ErrStore      = errors.New("store error")

	ErrNoExtractableText    = errors.New("no extractable text found in PDF")
	ErrPaperNotFound        = errors.New("paper not found")
	ErrMalformedQuestions   = errors.New("consolidated questions malformed")
	ErrNoChunks             = errors.New("no chunks to synthesize from")
	ErrStatusRecordNotFound = errors.New("status record not found")
)

// Kind returns the pipeline error kind wrapped by err, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrFeed, ErrFetch, ErrExtraction, ErrModel, ErrStore} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// KindName is Kind rendered for logs and status records.
func KindName(err error) string {
	switch Kind(err) {
	case ErrFeed:
		return "FeedError"
	case ErrFetch:
		return "FetchError"
	case ErrExtraction:
		return "ExtractionError"
	case ErrModel:
		return "ModelError"
	case ErrStore:
		return "StoreError"
	default:
		return "UnknownError"
	}
}
