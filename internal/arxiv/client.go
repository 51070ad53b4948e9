// Package arxiv resolves paper metadata from the arXiv export API and
// downloads PDFs.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"paperdigest/internal/models"
	"paperdigest/internal/util"

	"golang.org/x/time/rate"
)

const IDPrefix = "arxiv_"

const maxPDFBytes = 128 << 20

var versionSuffix = regexp.MustCompile(`v\d+$`)

// PaperID is the source-prefixed identifier used as the status store key.
func PaperID(sourceID string) string {
	return IDPrefix + versionSuffix.ReplaceAllString(strings.TrimSpace(sourceID), "")
}

// SourceID reverses PaperID.
func SourceID(paperID string) (string, bool) {
	if !strings.HasPrefix(paperID, IDPrefix) {
		return "", false
	}
	return strings.TrimPrefix(paperID, IDPrefix), true
}

type Client struct {
	apiURL  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient builds a client that waits minInterval between upstream requests,
// which is what arXiv asks of API consumers.
func NewClient(apiURL string, minInterval, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Client{
		apiURL:  apiURL,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href  string `xml:"href,attr"`
		Rel   string `xml:"rel,attr"`
		Title string `xml:"title,attr"`
		Type  string `xml:"type,attr"`
	} `xml:"link"`
}

// Resolve looks up one paper by arXiv id. It returns util.ErrPaperNotFound
// when arXiv has no entry for the id.
func (c *Client) Resolve(ctx context.Context, upstreamID string) (models.PaperRecord, error) {
	id := versionSuffix.ReplaceAllString(strings.TrimSpace(upstreamID), "")
	if id == "" {
		return models.PaperRecord{}, fmt.Errorf("resolve paper: empty id")
	}
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return models.PaperRecord{}, fmt.Errorf("parse arxiv api url: %w", err)
	}
	qs := u.Query()
	qs.Set("id_list", id)
	qs.Set("max_results", "1")
	u.RawQuery = qs.Encode()

	body, err := c.get(ctx, u.String(), 8<<20)
	if err != nil {
		return models.PaperRecord{}, fmt.Errorf("resolve paper %s: %w", id, err)
	}
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return models.PaperRecord{}, fmt.Errorf("decode arxiv response: %w", err)
	}
	if len(feed.Entries) == 0 || strings.Contains(feed.Entries[0].ID, "/api/errors") {
		return models.PaperRecord{}, fmt.Errorf("resolve paper %s: %w", id, util.ErrPaperNotFound)
	}
	return toRecord(feed.Entries[0], id), nil
}

func toRecord(e atomEntry, requested string) models.PaperRecord {
	sourceID := requested
	if i := strings.LastIndex(e.ID, "/abs/"); i >= 0 {
		sourceID = versionSuffix.ReplaceAllString(e.ID[i+len("/abs/"):], "")
	}
	rec := models.PaperRecord{
		PaperID:  PaperID(sourceID),
		SourceID: sourceID,
		Title:    collapse(e.Title),
		Summary:  collapse(e.Summary),
	}
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
		rec.Published = t
	}
	for _, a := range e.Authors {
		if n := collapse(a.Name); n != "" {
			rec.Authors = append(rec.Authors, n)
		}
	}
	for _, l := range e.Links {
		if l.Title == "pdf" || l.Type == "application/pdf" {
			rec.PDFURL = strings.Replace(l.Href, "http://", "https://", 1)
			break
		}
	}
	if rec.PDFURL == "" {
		rec.PDFURL = "https://arxiv.org/pdf/" + sourceID
	}
	return rec
}

// FetchPDF downloads a PDF. Any non-2xx answer is an error.
func (c *Client) FetchPDF(ctx context.Context, pdfURL string) ([]byte, error) {
	body, err := c.get(ctx, pdfURL, maxPDFBytes)
	if err != nil {
		return nil, fmt.Errorf("download pdf %s: %w", pdfURL, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("download pdf %s: empty body", pdfURL)
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, target string, limit int64) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "paperdigest/1.0")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return body, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
