package web_fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/alphy/tools/web_fetch/models"
	"github.com/mohammad-safakhou/alphy/utils"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
	maxBodyBytes    = 4 << 20
)

type WebFetcher interface {
	Exec(ctx context.Context, link string) (models.Result, error)
}

// Fetch retrieves a page over plain HTTP and extracts the main content
// with readability.
type Fetch struct {
	Timeout  time.Duration
	MaxChars int
	client   *http.Client
}

func NewWebFetcher(timeout time.Duration, maxChars int) WebFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}
	return &Fetch{
		Timeout:  timeout,
		MaxChars: maxChars,
		client:   &http.Client{Timeout: timeout},
	}
}

func (f *Fetch) Exec(ctx context.Context, link string) (models.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return models.Result{}, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("User-Agent", "alphy-research/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return models.Result{}, fmt.Errorf("fetch %s: %w", link, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Result{Status: resp.StatusCode}, fmt.Errorf("fetch %s: status %d", link, resp.StatusCode)
	}

	html, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.Result{}, fmt.Errorf("read body: %w", err)
	}

	parsed, err := url.Parse(link)
	if err != nil {
		return models.Result{}, fmt.Errorf("parse url: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(string(html)), parsed)
	if err != nil {
		return models.Result{}, fmt.Errorf("readability: %w", err)
	}

	out := models.Result{
		URL:    link,
		Title:  article.Title,
		Byline: article.Byline,
		Text:   utils.Truncate(article.TextContent, f.MaxChars),
		Status: resp.StatusCode,
	}
	if article.PublishedTime != nil {
		out.PublishedAt = article.PublishedTime.Format(time.RFC3339)
	}
	return out, nil
}
