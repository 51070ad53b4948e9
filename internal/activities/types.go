package activities

import (
	"paperdigest/internal/models"
	"paperdigest/internal/pipeline"
)

type DiscoverCandidatesInput struct {
	Date    string `json:"date"`
	FeedURL string `json:"feed_url,omitempty"`
}

type DiscoverCandidatesOutput struct {
	Candidates []models.Candidate `json:"candidates"`
}

type ProcessPaperInput struct {
	Candidate   models.Candidate `json:"candidate"`
	Date        string           `json:"date"`
	DownloadDir string           `json:"download_dir,omitempty"`
}

type ListFailedPapersInput struct {
	Limit int `json:"limit,omitempty"`
}

type ListFailedPapersOutput struct {
	Papers []models.IngestionStatus `json:"papers"`
}

type RetryPaperInput struct {
	Paper       models.IngestionStatus `json:"paper"`
	DownloadDir string                 `json:"download_dir,omitempty"`
}

type WriteCycleSummaryInput struct {
	Summary pipeline.Summary `json:"summary"`
}
