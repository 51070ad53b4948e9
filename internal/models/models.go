package models

import (
	"fmt"
	"strings"
	"time"
)

// Candidate is one entry of the discovery feed for a given date.
type Candidate struct {
	UpstreamID string `json:"upstream_id"`
	Title      string `json:"title,omitempty"`
}

// FeedQuery selects the discovery feed page for one day. URL overrides the
// configured feed endpoint when non-empty.
type FeedQuery struct {
	Date time.Time
	URL  string
}

// PaperRecord is the resolved metadata of a paper. It is never mutated by the pipeline.
type PaperRecord struct {
	PaperID      string    `json:"paper_id"`
	SourceID     string    `json:"source_id"`
	Title        string    `json:"title"`
	Authors      []string  `json:"authors,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	Published    time.Time `json:"published"`
	PDFURL       string    `json:"pdf_url"`
	DiscoveredOn string    `json:"discovered_on"`
}

type Status string

const (
	StatusNew       Status = "NEW"
	StatusIngested  Status = "INGESTED"
	StatusGenerated Status = "GENERATED"
	StatusFailed    Status = "FAILED"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusNew, StatusIngested, StatusGenerated, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// Completed reports whether the status implies the paper's chunks are in the index.
func (s Status) Completed() bool {
	switch s {
	case StatusIngested, StatusGenerated:
		return true
	case StatusNew, StatusFailed:
		return false
	default:
		return false
	}
}

// Retryable reports whether a record in this status may be reprocessed by a retry pass.
func (s Status) Retryable() bool {
	switch s {
	case StatusFailed:
		return true
	case StatusNew, StatusIngested, StatusGenerated:
		return false
	default:
		return false
	}
}

// IngestionStatus is the status store document for one paper.
type IngestionStatus struct {
	PaperID       string    `json:"paper_id"`
	SourceID      string    `json:"source_id,omitempty"`
	Title         string    `json:"title,omitempty"`
	Status        Status    `json:"status"`
	Questions     []string  `json:"questions"`
	IngestedAt    string    `json:"ingested_at,omitempty"`
	ChunkCount    int       `json:"chunk_count"`
	FailReason    string    `json:"fail_reason,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Chunk is a bounded slice of one page. Overlap is the number of leading runes
// repeated from the previous chunk of the same page.
type Chunk struct {
	Index   int    `json:"index"`
	Page    int    `json:"page"`
	Overlap int    `json:"overlap"`
	Text    string `json:"text"`
}

// DateLayout is the day-granular layout used for feed queries and ingested_at.
const DateLayout = "2006-01-02"

// VectorRecord is one embedded chunk as written to the vector index.
type VectorRecord struct {
	ChunkID   string    `json:"chunk_id"`
	PaperID   string    `json:"paper_id"`
	Index     int       `json:"chunk_index"`
	Page      int       `json:"page"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}
