// Package producthunt queries the Product Hunt GraphQL v2 API for
// launched products matching a topic.
package producthunt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const apiURL = "https://api.producthunt.com/v2/api/graphql"

// Post is one Product Hunt launch.
type Post struct {
	Name        string `json:"name"`
	Tagline     string `json:"tagline"`
	URL         string `json:"url"`
	Website     string `json:"website"`
	VotesCount  int    `json:"votes_count"`
	MakerName   string `json:"maker_name"`
	Description string `json:"description"`
}

// Client talks to the Product Hunt API.
type Client struct {
	Token      string
	MaxResults int
	http       *http.Client
}

func NewClient(token string, maxResults int, timeout time.Duration) *Client {
	if maxResults <= 0 {
		maxResults = 20
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		Token:      token,
		MaxResults: maxResults,
		http:       &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a token is configured.
func (c *Client) Enabled() bool { return c.Token != "" }

const searchQuery = `query($topic: String!, $first: Int!) {
  posts(topic: $topic, order: VOTES, first: $first) {
    edges {
      node {
        name
        tagline
        description
        url
        website
        votesCount
        makers { name }
      }
    }
  }
}`

// Search lists top posts for the given topic slug.
func (c *Client) Search(ctx context.Context, topic string) ([]Post, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("producthunt token not configured")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"query": searchQuery,
		"variables": map[string]interface{}{
			"topic": topic,
			"first": c.MaxResults,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("producthunt: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("producthunt status %d", resp.StatusCode)
	}

	var raw struct {
		Data struct {
			Posts struct {
				Edges []struct {
					Node struct {
						Name        string `json:"name"`
						Tagline     string `json:"tagline"`
						Description string `json:"description"`
						URL         string `json:"url"`
						Website     string `json:"website"`
						VotesCount  int    `json:"votesCount"`
						Makers      []struct {
							Name string `json:"name"`
						} `json:"makers"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"posts"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(raw.Errors) > 0 {
		return nil, fmt.Errorf("producthunt: %s", raw.Errors[0].Message)
	}

	posts := make([]Post, 0, len(raw.Data.Posts.Edges))
	for _, edge := range raw.Data.Posts.Edges {
		post := Post{
			Name:        edge.Node.Name,
			Tagline:     edge.Node.Tagline,
			Description: edge.Node.Description,
			URL:         edge.Node.URL,
			Website:     edge.Node.Website,
			VotesCount:  edge.Node.VotesCount,
		}
		if len(edge.Node.Makers) > 0 {
			post.MakerName = edge.Node.Makers[0].Name
		}
		posts = append(posts, post)
	}
	return posts, nil
}
