package session

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/alphy/internal/research"
	"github.com/mohammad-safakhou/alphy/utils"
)

// doc is the flattened shape indexed for both discovered and
// researched items.
type doc struct {
	Kind      string `json:"kind"` // "discovered" or "researched"
	Name      string `json:"name"`
	Developer string `json:"developer"`
	Platform  string `json:"platform"`
	Tagline   string `json:"tagline"`
	Summary   string `json:"summary"`
	Themes    string `json:"themes"`
	URL       string `json:"url"`
}

// Hit is one search result.
type Hit struct {
	DocID   string  `json:"doc_id"`
	Kind    string  `json:"kind"`
	Name    string  `json:"name"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Index is an in-memory bm25 index over one run's collected items.
type Index struct {
	mu    sync.RWMutex
	bleve bleve.Index
	docs  map[string]doc
}

func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("bleve: %w", err)
	}
	return &Index{bleve: idx, docs: make(map[string]doc)}, nil
}

// Load indexes the view's items, replacing docs with the same identity.
func (i *Index) Load(view research.StoreView) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, app := range view.Discovered {
		id := "discovered:" + app.Key()
		d := doc{
			Kind:      "discovered",
			Name:      app.Name,
			Developer: app.Developer,
			Platform:  string(app.Platform),
			Tagline:   app.Tagline,
			URL:       app.URL,
		}
		i.docs[id] = d
		if err := i.bleve.Index(id, d); err != nil {
			return fmt.Errorf("index %s: %w", id, err)
		}
	}
	for key, item := range view.Researched {
		id := "researched:" + key
		d := doc{
			Kind:      "researched",
			Name:      item.Record.Name,
			Developer: item.Record.Developer,
			Platform:  string(item.Record.Platform),
			Summary:   item.Record.Summary,
			Themes:    strings.Join(item.Record.ReviewThemes, " "),
		}
		i.docs[id] = d
		if err := i.bleve.Index(id, d); err != nil {
			return fmt.Errorf("index %s: %w", id, err)
		}
	}
	return nil
}

// Search runs a query-string search over the indexed items.
func (i *Index) Search(q string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k, 0, false)

	i.mu.RLock()
	defer i.mu.RUnlock()
	res, err := i.bleve.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		d := i.docs[hit.ID]
		snippet := d.Tagline
		if d.Kind == "researched" {
			snippet = d.Summary
		}
		hits = append(hits, Hit{
			DocID:   hit.ID,
			Kind:    d.Kind,
			Name:    d.Name,
			URL:     d.URL,
			Snippet: utils.Truncate(snippet, 200),
			Score:   hit.Score,
		})
	}
	return hits, nil
}

func (i *Index) Close() error {
	return i.bleve.Close()
}
