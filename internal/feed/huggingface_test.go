package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"paperdigest/internal/models"

	"github.com/stretchr/testify/require"
)

const sample = `[
 {"paper":{"id":"2507.15846","title":"GUI-G2"},"title":"GUI-G2:\n Gaussian Reward"},
 {"paper":{"id":"2507.15846"},"title":"dup"},
 {"id":"2507.11111","title":"Top level id"},
 {"paper":{},"title":"no id"}
]`

func TestCandidates(t *testing.T) {
	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("date")
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(sample))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/daily_papers", "hf_token", time.Second)
	got, err := c.Candidates(context.Background(), models.FeedQuery{Date: time.Date(2025, 7, 22, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Equal(t, "2025-07-22", gotQuery)
	require.Equal(t, "Bearer hf_token", gotAuth)
	require.Equal(t, []models.Candidate{
		{UpstreamID: "2507.15846", Title: "GUI-G2: Gaussian Reward"},
		{UpstreamID: "2507.11111", Title: "Top level id"},
	}, got)
}

func TestCandidatesURLOverride(t *testing.T) {
	hit := false
	override := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		_, _ = w.Write([]byte(`[]`))
	}))
	defer override.Close()

	c := NewClient("http://127.0.0.1:1/unused", "", time.Second)
	got, err := c.Candidates(context.Background(), models.FeedQuery{URL: override.URL})
	require.NoError(t, err)
	require.True(t, hit)
	require.Empty(t, got)
}

func TestCandidatesNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()
	_, err := NewClient(srv.URL, "", time.Second).Candidates(context.Background(), models.FeedQuery{})
	require.ErrorContains(t, err, "feed error 401")
}

func TestCandidatesMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"a list"}`))
	}))
	defer srv.Close()
	_, err := NewClient(srv.URL, "", time.Second).Candidates(context.Background(), models.FeedQuery{})
	require.ErrorContains(t, err, "decode feed response")
}
