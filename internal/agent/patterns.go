package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/alphy/config"
	"github.com/mohammad-safakhou/alphy/internal/research"
)

// PatternExtractor derives cross-app observations from the collected
// research. It implements research.PatternExtractor.
type PatternExtractor struct {
	provider LLMProvider
	cfg      config.LLMConfig
	logger   *log.Logger
}

func NewPatternExtractor(provider LLMProvider, cfg config.LLMConfig, logger *log.Logger) *PatternExtractor {
	if logger == nil {
		logger = log.New(log.Writer(), "[PATTERNS] ", log.LstdFlags)
	}
	return &PatternExtractor{provider: provider, cfg: cfg, logger: logger}
}

const extractPrompt = `You are the pattern-extraction stage of an indie-app market study.

Query: %s

Researched apps (JSON):
%s

Find cross-app patterns: shared monetization models, common review complaints, market gaps, pricing clusters. Each pattern must be supported by at least two apps in the data. Return STRICT JSON:
{"patterns": [string]}`

func (p *PatternExtractor) Extract(ctx context.Context, query string, view research.StoreView) ([]string, error) {
	records := make([]research.ResearchRecord, 0, len(view.Researched))
	for _, item := range view.Researched {
		records = append(records, item.Record)
	}
	if len(records) == 0 {
		return nil, nil
	}
	recordsJSON, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal records: %w", err)
	}

	content, err := p.provider.Generate(ctx, fmt.Sprintf(extractPrompt, query, recordsJSON), p.cfg.Model("patterns"), map[string]interface{}{"json": true})
	if err != nil {
		return nil, fmt.Errorf("patterns model: %w", err)
	}
	var out struct {
		Patterns []string `json:"patterns"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &out); err != nil {
		return nil, fmt.Errorf("bad JSON from patterns model: %w; content=%s", err, content)
	}
	p.logger.Printf("extracted %d patterns", len(out.Patterns))
	return out.Patterns, nil
}
