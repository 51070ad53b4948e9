// Package feed reads the Hugging Face daily papers listing.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paperdigest/internal/models"

	"golang.org/x/time/rate"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
	}
}

type dailyPaper struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Paper struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"paper"`
}

// Candidates lists the papers featured on q.Date. Entries without an id are
// dropped, as are repeats of an id already seen.
func (c *Client) Candidates(ctx context.Context, q models.FeedQuery) ([]models.Candidate, error) {
	endpoint := c.baseURL
	if q.URL != "" {
		endpoint = q.URL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	if !q.Date.IsZero() {
		qs := u.Query()
		qs.Set("date", q.Date.Format(models.DateLayout))
		u.RawQuery = qs.Encode()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("feed rate limit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("feed error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var items []dailyPaper
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode feed response: %w", err)
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]models.Candidate, 0, len(items))
	for _, it := range items {
		id := strings.TrimSpace(it.Paper.ID)
		if id == "" {
			id = strings.TrimSpace(it.ID)
		}
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		title := it.Title
		if title == "" {
			title = it.Paper.Title
		}
		out = append(out, models.Candidate{UpstreamID: id, Title: strings.Join(strings.Fields(title), " ")})
	}
	return out, nil
}
