package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/alphy/config"
	"github.com/mohammad-safakhou/alphy/internal/research"
)

// stubProvider returns canned content, recording the prompts it saw.
type stubProvider struct {
	content string
	err     error
	prompts []string
}

func (s *stubProvider) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	return s.content, nil
}

func testLLMConfig() config.LLMConfig {
	return config.LLMConfig{Routing: config.LLMRoutingConfig{Fallback: "gpt-4o-mini"}}
}

func TestPlanParsesModelOutput(t *testing.T) {
	provider := &stubProvider{content: `{
		"intent": "explore",
		"summary": "survey indie habit trackers",
		"tasks": [
			{"kind": "discover", "target": "habit tracker", "platform": "ios", "context": "find indie habit trackers", "success_criteria": ["at least 5 apps"]},
			{"kind": "discover", "target": "habit tracking", "platform": "producthunt", "context": "recent launches"}
		]
	}`}
	planner := NewPlanner(provider, testLLMConfig(), nil)

	plan, err := planner.Plan(context.Background(), "indie habit trackers")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Intent != "explore" {
		t.Fatalf("intent = %q", plan.Intent)
	}
	if len(plan.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(plan.Tasks))
	}
	if plan.Tasks[0].Kind != research.TaskDiscover || plan.Tasks[0].Platform != research.PlatformIOS {
		t.Fatalf("task 0 = %+v", plan.Tasks[0])
	}
	if plan.Tasks[0].ID == "" || plan.Tasks[0].ID == plan.Tasks[1].ID {
		t.Fatalf("tasks must get unique ids")
	}
	if len(plan.Tasks[0].SuccessCriteria) != 1 {
		t.Fatalf("success criteria lost: %+v", plan.Tasks[0])
	}
}

func TestPlanStripsCodeFences(t *testing.T) {
	provider := &stubProvider{content: "```json\n" + `{"intent":"explore","summary":"s","tasks":[{"kind":"discover","target":"x","platform":"both","context":"c"}]}` + "\n```"}
	planner := NewPlanner(provider, testLLMConfig(), nil)

	plan, err := planner.Plan(context.Background(), "q")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(plan.Tasks))
	}
}

func TestPlanRejectsMalformedJSON(t *testing.T) {
	planner := NewPlanner(&stubProvider{content: "I think you should research habit trackers."}, testLLMConfig(), nil)
	if _, err := planner.Plan(context.Background(), "q"); err == nil {
		t.Fatalf("prose from the model must be a loud error, not a silent fallback")
	}
}

func TestPlanRejectsUnknownTaskKind(t *testing.T) {
	planner := NewPlanner(&stubProvider{content: `{"intent":"explore","summary":"s","tasks":[{"kind":"meditate","target":"x","platform":"ios","context":"c"}]}`}, testLLMConfig(), nil)
	if _, err := planner.Plan(context.Background(), "q"); err == nil || !strings.Contains(err.Error(), "unknown task kind") {
		t.Fatalf("expected unknown-kind error, got %v", err)
	}
}

func TestPlanRejectsEmptyTaskList(t *testing.T) {
	planner := NewPlanner(&stubProvider{content: `{"intent":"explore","summary":"s","tasks":[]}`}, testLLMConfig(), nil)
	if _, err := planner.Plan(context.Background(), "q"); err == nil {
		t.Fatalf("empty plan must fail")
	}
}

func TestUnknownIntentDefaultsToExplore(t *testing.T) {
	planner := NewPlanner(&stubProvider{content: `{"intent":"world_domination","summary":"s","tasks":[{"kind":"discover","target":"x","platform":"ios","context":"c"}]}`}, testLLMConfig(), nil)
	plan, err := planner.Plan(context.Background(), "q")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Intent != "explore" {
		t.Fatalf("intent = %q, want explore", plan.Intent)
	}
}

func TestRefineCarriesPriorPlan(t *testing.T) {
	provider := &stubProvider{content: `{"intent":"explore","summary":"ios only","tasks":[{"kind":"discover","target":"habit tracker","platform":"ios","context":"c"}]}`}
	planner := NewPlanner(provider, testLLMConfig(), nil)

	prior := research.Plan{Intent: "explore", Summary: "both platforms", Tasks: []research.Task{
		{ID: "t1", Kind: research.TaskDiscover, Target: "habit tracker", Platform: research.PlatformBoth},
	}}
	plan, err := planner.Refine(context.Background(), "habit trackers", prior, "only iOS please")
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if plan.Tasks[0].Platform != research.PlatformIOS {
		t.Fatalf("refined platform = %q", plan.Tasks[0].Platform)
	}

	prompt := provider.prompts[len(provider.prompts)-1]
	if !strings.Contains(prompt, "both platforms") || !strings.Contains(prompt, "only iOS please") {
		t.Fatalf("refine prompt must carry prior plan and feedback:\n%s", prompt)
	}
}
