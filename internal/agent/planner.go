package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/alphy/config"
	"github.com/mohammad-safakhou/alphy/internal/research"
)

// Planner classifies the user's query and turns it into an initial
// task batch. It implements research.Planner.
type Planner struct {
	provider LLMProvider
	cfg      config.LLMConfig
	logger   *log.Logger
}

func NewPlanner(provider LLMProvider, cfg config.LLMConfig, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANNER] ", log.LstdFlags)
	}
	return &Planner{provider: provider, cfg: cfg, logger: logger}
}

const planPrompt = `You are the planning stage of an indie-app market research engine.
Classify the user's query intent and produce an initial research plan.

Intents: "explore" (open-ended market survey), "compare" (specific apps against each other), "validate" (check a product idea against existing apps), "deep_dive" (one app or developer in depth).

Task kinds: "discover" (find candidate apps), "deep_research" (investigate one known app), "validate" (check a claim), "compare" (contrast known apps).
Platforms: "ios", "android", "both", "producthunt".

Return STRICT JSON:
{"intent": string, "summary": string, "tasks": [{"kind": string, "target": string, "platform": string, "context": string, "success_criteria": [string]}]}

Keep the plan minimal: 2-5 tasks, discovery-first for explore/validate intents.

Query: %s`

type planEnvelope struct {
	Intent  string `json:"intent"`
	Summary string `json:"summary"`
	Tasks   []struct {
		Kind            string   `json:"kind"`
		Target          string   `json:"target"`
		Platform        string   `json:"platform"`
		Context         string   `json:"context"`
		SuccessCriteria []string `json:"success_criteria"`
	} `json:"tasks"`
}

// Plan asks the model for an initial plan. A malformed model response
// is an error: planning failures surface to the caller, they are not
// silently patched.
func (p *Planner) Plan(ctx context.Context, query string) (research.Plan, error) {
	content, err := p.provider.Generate(ctx, fmt.Sprintf(planPrompt, query), p.cfg.Model("planning"), map[string]interface{}{"json": true})
	if err != nil {
		return research.Plan{}, fmt.Errorf("planning model: %w", err)
	}
	plan, err := parsePlan(content)
	if err != nil {
		return research.Plan{}, err
	}
	p.logger.Printf("plan: intent=%s tasks=%d", plan.Intent, len(plan.Tasks))
	return plan, nil
}

const refinePrompt = `You are revising a research plan based on user feedback.

Current plan (JSON):
%s

User feedback: %s

Apply the feedback. Keep the same JSON shape:
{"intent": string, "summary": string, "tasks": [{"kind": string, "target": string, "platform": string, "context": string, "success_criteria": [string]}]}

Original query: %s`

// Refine folds user feedback into a prior plan before approval.
func (p *Planner) Refine(ctx context.Context, query string, prior research.Plan, feedback string) (research.Plan, error) {
	priorJSON, err := json.Marshal(planToEnvelope(prior))
	if err != nil {
		return research.Plan{}, fmt.Errorf("marshal prior plan: %w", err)
	}
	content, err := p.provider.Generate(ctx, fmt.Sprintf(refinePrompt, priorJSON, feedback, query), p.cfg.Model("planning"), map[string]interface{}{"json": true})
	if err != nil {
		return research.Plan{}, fmt.Errorf("refine model: %w", err)
	}
	plan, err := parsePlan(content)
	if err != nil {
		return research.Plan{}, err
	}
	p.logger.Printf("refined plan: intent=%s tasks=%d", plan.Intent, len(plan.Tasks))
	return plan, nil
}

func parsePlan(content string) (research.Plan, error) {
	var env planEnvelope
	if err := json.Unmarshal([]byte(extractJSON(content)), &env); err != nil {
		return research.Plan{}, fmt.Errorf("bad JSON from planning model: %w; content=%s", err, content)
	}
	if len(env.Tasks) == 0 {
		return research.Plan{}, fmt.Errorf("planning model returned no tasks; content=%s", content)
	}

	plan := research.Plan{
		Intent:  normalizeIntent(env.Intent),
		Summary: env.Summary,
	}
	for _, t := range env.Tasks {
		kind, err := parseTaskKind(t.Kind)
		if err != nil {
			return research.Plan{}, err
		}
		plan.Tasks = append(plan.Tasks, research.Task{
			ID:              uuid.New().String(),
			Kind:            kind,
			Target:          t.Target,
			Platform:        parsePlatform(t.Platform),
			Context:         t.Context,
			SuccessCriteria: t.SuccessCriteria,
		})
	}
	return plan, nil
}

func planToEnvelope(plan research.Plan) planEnvelope {
	env := planEnvelope{Intent: plan.Intent, Summary: plan.Summary}
	for _, t := range plan.Tasks {
		env.Tasks = append(env.Tasks, struct {
			Kind            string   `json:"kind"`
			Target          string   `json:"target"`
			Platform        string   `json:"platform"`
			Context         string   `json:"context"`
			SuccessCriteria []string `json:"success_criteria"`
		}{string(t.Kind), t.Target, string(t.Platform), t.Context, t.SuccessCriteria})
	}
	return env
}

func normalizeIntent(intent string) string {
	switch strings.ToLower(strings.TrimSpace(intent)) {
	case "explore", "compare", "validate", "deep_dive":
		return strings.ToLower(strings.TrimSpace(intent))
	default:
		return "explore"
	}
}

func parseTaskKind(kind string) (research.TaskKind, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "discover":
		return research.TaskDiscover, nil
	case "deep_research":
		return research.TaskDeepResearch, nil
	case "validate":
		return research.TaskValidate, nil
	case "compare":
		return research.TaskCompare, nil
	default:
		return "", fmt.Errorf("planning model produced unknown task kind %q", kind)
	}
}

func parsePlatform(platform string) research.Platform {
	switch strings.ToLower(strings.TrimSpace(platform)) {
	case "ios":
		return research.PlatformIOS
	case "android":
		return research.PlatformAndroid
	case "producthunt":
		return research.PlatformProductHunt
	default:
		return research.PlatformBoth
	}
}
