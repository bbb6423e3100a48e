// Package appstore looks apps up on the Apple App Store via the public
// iTunes Search API and on Google Play via its storefront pages.
package appstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const itunesBase = "https://itunes.apple.com"

// App is one storefront listing.
type App struct {
	Name         string   `json:"name"`
	Developer    string   `json:"developer"`
	Platform     string   `json:"platform"`
	BundleID     string   `json:"bundle_id"`
	URL          string   `json:"url"`
	Tagline      string   `json:"tagline"`
	Description  string   `json:"description"`
	Price        float64  `json:"price"`
	Free         bool     `json:"free"`
	Rating       float64  `json:"rating"`
	RatingsCount int      `json:"ratings_count"`
	Genres       []string `json:"genres"`
}

// Client queries app storefronts.
type Client struct {
	Country    string
	MaxResults int
	http       *http.Client
}

func NewClient(country string, maxResults int, timeout time.Duration) *Client {
	if country == "" {
		country = "us"
	}
	if maxResults <= 0 {
		maxResults = 20
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		Country:    country,
		MaxResults: maxResults,
		http:       &http.Client{Timeout: timeout},
	}
}

type itunesResult struct {
	TrackName        string   `json:"trackName"`
	ArtistName       string   `json:"artistName"`
	BundleID         string   `json:"bundleId"`
	TrackViewURL     string   `json:"trackViewUrl"`
	Description      string   `json:"description"`
	Price            float64  `json:"price"`
	AverageRating    float64  `json:"averageUserRating"`
	RatingCount      int      `json:"userRatingCount"`
	Genres           []string `json:"genres"`
	SellerName       string   `json:"sellerName"`
	FormattedPrice   string   `json:"formattedPrice"`
	ContentAdvisory  string   `json:"contentAdvisoryRating"`
	PrimaryGenreName string   `json:"primaryGenreName"`
}

type itunesEnvelope struct {
	ResultCount int            `json:"resultCount"`
	Results     []itunesResult `json:"results"`
}

// Search finds iOS apps matching the term.
func (c *Client) Search(ctx context.Context, term string) ([]App, error) {
	q := url.Values{}
	q.Set("term", term)
	q.Set("country", c.Country)
	q.Set("entity", "software")
	q.Set("limit", fmt.Sprintf("%d", c.MaxResults))

	env, err := c.itunes(ctx, "/search?"+q.Encode())
	if err != nil {
		return nil, err
	}
	return fromItunes(env.Results), nil
}

// LookupDeveloper lists iOS apps by the developer that published the
// given app, to size the developer's portfolio.
func (c *Client) LookupDeveloper(ctx context.Context, bundleID string) ([]App, error) {
	q := url.Values{}
	q.Set("bundleId", bundleID)
	q.Set("country", c.Country)
	env, err := c.itunes(ctx, "/lookup?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if env.ResultCount == 0 {
		return nil, fmt.Errorf("bundle %s not found", bundleID)
	}

	// Second hop: everything published under the same developer name.
	seller := env.Results[0].ArtistName
	sq := url.Values{}
	sq.Set("term", seller)
	sq.Set("country", c.Country)
	sq.Set("entity", "software")
	sq.Set("attribute", "softwareDeveloper")
	sq.Set("limit", fmt.Sprintf("%d", c.MaxResults))
	env, err = c.itunes(ctx, "/search?"+sq.Encode())
	if err != nil {
		return nil, err
	}
	var apps []App
	for _, app := range fromItunes(env.Results) {
		if app.Developer == seller {
			apps = append(apps, app)
		}
	}
	return apps, nil
}

func (c *Client) itunes(ctx context.Context, path string) (itunesEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, itunesBase+path, nil)
	if err != nil {
		return itunesEnvelope{}, fmt.Errorf("request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return itunesEnvelope{}, fmt.Errorf("itunes: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return itunesEnvelope{}, fmt.Errorf("itunes status %d", resp.StatusCode)
	}
	var env itunesEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return itunesEnvelope{}, fmt.Errorf("decode: %w", err)
	}
	return env, nil
}

func fromItunes(results []itunesResult) []App {
	apps := make([]App, 0, len(results))
	for _, r := range results {
		dev := r.SellerName
		if dev == "" {
			dev = r.ArtistName
		}
		apps = append(apps, App{
			Name:         r.TrackName,
			Developer:    dev,
			Platform:     "ios",
			BundleID:     r.BundleID,
			URL:          r.TrackViewURL,
			Tagline:      firstLine(r.Description),
			Description:  r.Description,
			Price:        r.Price,
			Free:         r.Price == 0,
			Rating:       r.AverageRating,
			RatingsCount: r.RatingCount,
			Genres:       r.Genres,
		})
	}
	return apps
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' || i > 140 {
			return s[:i]
		}
	}
	return s
}
