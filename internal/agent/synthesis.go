package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/alphy/config"
	"github.com/mohammad-safakhou/alphy/internal/research"
)

// Synthesizer renders the final markdown report from the collected
// state. It implements research.Synthesizer.
type Synthesizer struct {
	provider LLMProvider
	cfg      config.LLMConfig
	logger   *log.Logger
}

func NewSynthesizer(provider LLMProvider, cfg config.LLMConfig, logger *log.Logger) *Synthesizer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SYNTHESIS] ", log.LstdFlags)
	}
	return &Synthesizer{provider: provider, cfg: cfg, logger: logger}
}

const synthesisPrompt = `You are writing the final report of an indie-app market study.

Query: %s
Run completeness: %s

Collected state (JSON):
%s

Write a markdown report with these sections:
# <title derived from the query>
## Market overview
## Apps researched   (one subsection per researched app: developer, indie assessment, monetization, revenue estimate with sources, review themes)
## Patterns
## Gaps and caveats  (failed tasks, missing data, and an explicit note when the run was partial)

Ground every claim in the collected state; never invent apps or numbers. Cite revenue sources inline as links.`

func (s *Synthesizer) Synthesize(ctx context.Context, query string, view research.StoreView, partial bool) (string, error) {
	stateJSON, err := json.Marshal(view)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	completeness := "complete"
	if partial {
		completeness = "partial (iteration budget exhausted or stages degraded)"
	}

	report, err := s.provider.Generate(ctx, fmt.Sprintf(synthesisPrompt, query, completeness, stateJSON), s.cfg.Model("synthesis"), nil)
	if err != nil {
		return "", fmt.Errorf("synthesis model: %w", err)
	}
	if report == "" {
		return "", fmt.Errorf("synthesis model returned empty report")
	}
	s.logger.Printf("report: %d bytes (partial=%v)", len(report), partial)
	return report, nil
}
