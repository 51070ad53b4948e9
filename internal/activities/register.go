package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.DiscoverCandidatesActivity)
	w.RegisterActivity(a.ProcessPaperActivity)
	w.RegisterActivity(a.ListFailedPapersActivity)
	w.RegisterActivity(a.RetryPaperActivity)
	w.RegisterActivity(a.WriteCycleSummaryActivity)
}
