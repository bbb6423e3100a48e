package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/alphy/config"
	"github.com/mohammad-safakhou/alphy/internal/research"
)

// Refiner asks the model for narrower follow-up batches when a phase
// came up short. It implements research.Refiner.
type Refiner struct {
	provider LLMProvider
	cfg      config.LLMConfig
	logger   *log.Logger
}

func NewRefiner(provider LLMProvider, cfg config.LLMConfig, logger *log.Logger) *Refiner {
	if logger == nil {
		logger = log.New(log.Writer(), "[REFINER] ", log.LstdFlags)
	}
	return &Refiner{provider: provider, cfg: cfg, logger: logger}
}

const refineDiscoveryPrompt = `A discovery round for the query below found too few apps. Propose 1-3 new discovery tasks with a DIFFERENT query angle: synonyms, adjacent niches, other platforms. Avoid re-finding the apps already known.

Query: %s
Iteration: %d
Already discovered: %s

Return STRICT JSON:
{"tasks": [{"target": string, "platform": "ios"|"android"|"both"|"producthunt", "context": string}]}`

func (r *Refiner) RefineDiscovery(ctx context.Context, query string, view research.StoreView, iteration int) ([]research.Task, error) {
	known := make([]string, 0, len(view.Discovered))
	for _, app := range view.Discovered {
		known = append(known, app.Name)
	}
	knownJSON, _ := json.Marshal(known)

	content, err := r.provider.Generate(ctx, fmt.Sprintf(refineDiscoveryPrompt, query, iteration, knownJSON), r.cfg.Model("planning"), map[string]interface{}{"json": true})
	if err != nil {
		return nil, fmt.Errorf("refine discovery model: %w", err)
	}
	return parseRefinedTasks(content, research.TaskDiscover)
}

const refineResearchPrompt = `A deep-research round for the query below produced too few solid records. Pick up to %d of the unresearched apps listed and propose a deep-research task for each, with context on what is still missing.

Query: %s
Iteration: %d
Unresearched apps (JSON): %s

Return STRICT JSON:
{"tasks": [{"target": string, "platform": "ios"|"android"|"both"|"producthunt", "context": string}]}`

func (r *Refiner) RefineResearch(ctx context.Context, query string, view research.StoreView, iteration int) ([]research.Task, error) {
	pending := view.Unresearched()
	if len(pending) == 0 {
		return nil, nil
	}
	pendingJSON, _ := json.Marshal(pending)

	content, err := r.provider.Generate(ctx, fmt.Sprintf(refineResearchPrompt, 5, query, iteration, pendingJSON), r.cfg.Model("planning"), map[string]interface{}{"json": true})
	if err != nil {
		return nil, fmt.Errorf("refine research model: %w", err)
	}
	return parseRefinedTasks(content, research.TaskDeepResearch)
}

func parseRefinedTasks(content string, kind research.TaskKind) ([]research.Task, error) {
	var out struct {
		Tasks []struct {
			Target   string `json:"target"`
			Platform string `json:"platform"`
			Context  string `json:"context"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &out); err != nil {
		return nil, fmt.Errorf("bad JSON from refine model: %w; content=%s", err, content)
	}
	if len(out.Tasks) == 0 {
		return nil, fmt.Errorf("refine model proposed no tasks")
	}

	tasks := make([]research.Task, 0, len(out.Tasks))
	for _, t := range out.Tasks {
		tasks = append(tasks, research.Task{
			ID:       uuid.New().String(),
			Kind:     kind,
			Target:   t.Target,
			Platform: parsePlatform(t.Platform),
			Context:  t.Context,
		})
	}
	return tasks, nil
}

// RetryTransform rewords a failed task for its next attempt, always
// starting from the original task so angles never compound.
func RetryTransform(task research.Task, attempt int) research.Task {
	task.Context = fmt.Sprintf("%s (attempt %d: try a different query angle, avoid already-known apps)", task.Context, attempt)
	return task
}
