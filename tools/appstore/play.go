package appstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

const playBase = "https://play.google.com"

var (
	playAppRe   = regexp.MustCompile(`href="(/store/apps/details\?id=([\w.]+))"`)
	playTitleRe = regexp.MustCompile(`<title[^>]*>([^<]+)</title>`)
)

// SearchPlay does a best-effort Google Play storefront search. Play has
// no public API; this parses listing links out of the search page and
// fills in names from each detail page title.
func (c *Client) SearchPlay(ctx context.Context, term string) ([]App, error) {
	page, err := c.playGet(ctx, "/store/search?q="+url.QueryEscape(term)+"&c=apps")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var apps []App
	for _, m := range playAppRe.FindAllStringSubmatch(page, -1) {
		pkg := m[2]
		if _, ok := seen[pkg]; ok {
			continue
		}
		seen[pkg] = struct{}{}
		apps = append(apps, App{
			Platform: "android",
			BundleID: pkg,
			URL:      playBase + m[1],
		})
		if len(apps) >= c.MaxResults {
			break
		}
	}

	for i := range apps {
		detail, err := c.playGet(ctx, "/store/apps/details?id="+apps[i].BundleID)
		if err != nil {
			continue
		}
		if m := playTitleRe.FindStringSubmatch(detail); m != nil {
			apps[i].Name = cleanPlayTitle(m[1])
		}
	}
	return apps, nil
}

func (c *Client) playGet(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playBase+path, nil)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; alphy-research/1.0)")
	req.Header.Set("Accept-Language", "en")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("play: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("play status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}

func cleanPlayTitle(title string) string {
	title = strings.TrimSpace(title)
	for _, suffix := range []string{" - Apps on Google Play", " – Apps on Google Play"} {
		title = strings.TrimSuffix(title, suffix)
	}
	return title
}
