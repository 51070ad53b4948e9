package workflows

type IngestCycleInput struct {
	// Date is YYYY-MM-DD. Empty means the workflow's current day.
	Date        string `json:"date,omitempty"`
	FeedURL     string `json:"feed_url,omitempty"`
	DownloadDir string `json:"download_dir,omitempty"`
}

type RetryFailedInput struct {
	Limit       int    `json:"limit,omitempty"`
	DownloadDir string `json:"download_dir,omitempty"`
}

type CycleProgress struct {
	Date     string            `json:"date"`
	Total    int               `json:"total"`
	Done     int               `json:"done"`
	Ingested int               `json:"ingested"`
	Skipped  int               `json:"skipped"`
	Failed   int               `json:"failed"`
	PerPaper map[string]string `json:"per_paper_status"`
	Finished bool              `json:"finished"`
}
