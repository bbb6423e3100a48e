package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/alphy/config"
	"github.com/mohammad-safakhou/alphy/internal/research"
	"github.com/mohammad-safakhou/alphy/tools/appstore"
	"github.com/mohammad-safakhou/alphy/tools/producthunt"
	"github.com/mohammad-safakhou/alphy/tools/web_fetch"
	"github.com/mohammad-safakhou/alphy/tools/web_search"
)

// Executor performs one research task against the storefront and web
// tools, with the model interpreting what they return. It implements
// research.Executor.
type Executor struct {
	provider LLMProvider
	llm      config.LLMConfig
	store    *appstore.Client
	hunt     *producthunt.Client
	searcher web_search.WebSearcher
	fetcher  web_fetch.WebFetcher
	logger   *log.Logger
}

// NewExecutor wires the tool clients. searcher may be nil when no web
// search key is configured; revenue research then degrades to
// storefront data only.
func NewExecutor(provider LLMProvider, llm config.LLMConfig, store *appstore.Client, hunt *producthunt.Client, searcher web_search.WebSearcher, fetcher web_fetch.WebFetcher, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags)
	}
	return &Executor{
		provider: provider,
		llm:      llm,
		store:    store,
		hunt:     hunt,
		searcher: searcher,
		fetcher:  fetcher,
		logger:   logger,
	}
}

func (e *Executor) Execute(ctx context.Context, task research.Task) (research.Result, error) {
	switch task.Kind {
	case research.TaskDiscover:
		return e.discover(ctx, task)
	case research.TaskDeepResearch:
		return e.deepResearch(ctx, task)
	case research.TaskValidate:
		return e.validate(ctx, task)
	case research.TaskCompare:
		return e.compare(ctx, task)
	default:
		return research.Result{}, fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

// discover collects storefront candidates and has the model keep the
// ones that match the task.
func (e *Executor) discover(ctx context.Context, task research.Task) (research.Result, error) {
	candidates, sources := e.collectCandidates(ctx, task)
	if len(candidates) == 0 {
		return research.Result{}, fmt.Errorf("no candidates found for %q (sources tried: %s)", task.Target, strings.Join(sources, ", "))
	}

	kept, err := e.filterCandidates(ctx, task, candidates)
	if err != nil {
		// Model filtering is an enhancement; storefront data alone is
		// still a valid discovery result.
		e.logger.Printf("candidate filter failed, keeping all %d: %v", len(candidates), err)
		kept = candidates
	}

	return research.Result{
		TaskID:     task.ID,
		Kind:       task.Kind,
		Status:     research.StatusOK,
		Discovered: kept,
		Confidence: research.ConfidenceMedium,
	}, nil
}

func (e *Executor) collectCandidates(ctx context.Context, task research.Task) ([]research.AppSummary, []string) {
	var candidates []research.AppSummary
	var sources []string

	wantIOS := task.Platform == research.PlatformIOS || task.Platform == research.PlatformBoth
	wantAndroid := task.Platform == research.PlatformAndroid || task.Platform == research.PlatformBoth

	if wantIOS {
		sources = append(sources, "appstore")
		apps, err := e.store.Search(ctx, task.Target)
		if err != nil {
			e.logger.Printf("appstore search %q: %v", task.Target, err)
		} else {
			candidates = append(candidates, summaries(apps)...)
		}
	}
	if wantAndroid {
		sources = append(sources, "play")
		apps, err := e.store.SearchPlay(ctx, task.Target)
		if err != nil {
			e.logger.Printf("play search %q: %v", task.Target, err)
		} else {
			candidates = append(candidates, summaries(apps)...)
		}
	}
	if task.Platform == research.PlatformProductHunt && e.hunt.Enabled() {
		sources = append(sources, "producthunt")
		posts, err := e.hunt.Search(ctx, task.Target)
		if err != nil {
			e.logger.Printf("producthunt search %q: %v", task.Target, err)
		} else {
			for _, post := range posts {
				candidates = append(candidates, research.AppSummary{
					Name:      post.Name,
					Developer: post.MakerName,
					Platform:  research.PlatformProductHunt,
					URL:       post.URL,
					Tagline:   post.Tagline,
				})
			}
		}
	}
	return candidates, sources
}

const filterPrompt = `You are filtering app store search results for a market research task.

Task: %s
Context: %s

Candidates (JSON array):
%s

Keep only candidates that plausibly match the task. Drop obvious big-publisher titles when the task is about indie apps. Return STRICT JSON:
{"keep": [int]} where ints are zero-based indexes into the candidate array.`

func (e *Executor) filterCandidates(ctx context.Context, task research.Task, candidates []research.AppSummary) ([]research.AppSummary, error) {
	raw, err := json.Marshal(candidates)
	if err != nil {
		return nil, fmt.Errorf("marshal candidates: %w", err)
	}
	content, err := e.provider.Generate(ctx, fmt.Sprintf(filterPrompt, task.Target, task.Context, raw), e.llm.Model("research"), map[string]interface{}{"json": true})
	if err != nil {
		return nil, err
	}
	var out struct {
		Keep []int `json:"keep"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &out); err != nil {
		return nil, fmt.Errorf("bad JSON from filter model: %w", err)
	}

	var kept []research.AppSummary
	for _, idx := range out.Keep {
		if idx >= 0 && idx < len(candidates) {
			kept = append(kept, candidates[idx])
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("filter model kept nothing")
	}
	return kept, nil
}

const researchPrompt = `You are deep-researching one app for an indie-app market study.

App: %s (platform: %s)
Task context: %s

Storefront data (JSON):
%s

Developer portfolio size: %d apps

Web findings:
%s

Compose a research record. Revenue estimates must come from the web findings; write "unknown" when nothing supports an estimate. Return STRICT JSON:
{"developer": string, "monetization": string, "revenue_estimate": string, "revenue_sources": [string], "review_themes": [string], "similar_apps": [string], "summary": string, "confidence": "low"|"medium"|"high"}`

// deepResearch investigates one known app: storefront listing,
// developer portfolio, and web evidence for revenue and reception.
func (e *Executor) deepResearch(ctx context.Context, task research.Task) (research.Result, error) {
	listing, portfolio := e.lookupListing(ctx, task)

	webFindings, webSources := e.webEvidence(ctx, task.Target)

	listingJSON, _ := json.Marshal(listing)
	content, err := e.provider.Generate(ctx, fmt.Sprintf(researchPrompt,
		task.Target, platformOrBoth(task.Platform), task.Context,
		listingJSON, portfolio, webFindings),
		e.llm.Model("research"), map[string]interface{}{"json": true})
	if err != nil {
		return research.Result{}, fmt.Errorf("research model: %w", err)
	}

	var out struct {
		Developer       string   `json:"developer"`
		Monetization    string   `json:"monetization"`
		RevenueEstimate string   `json:"revenue_estimate"`
		RevenueSources  []string `json:"revenue_sources"`
		ReviewThemes    []string `json:"review_themes"`
		SimilarApps     []string `json:"similar_apps"`
		Summary         string   `json:"summary"`
		Confidence      string   `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &out); err != nil {
		return research.Result{}, fmt.Errorf("bad JSON from research model: %w; content=%s", err, content)
	}

	record := &research.ResearchRecord{
		Name:            task.Target,
		Platform:        platformOrBoth(task.Platform),
		Developer:       out.Developer,
		DeveloperApps:   portfolio,
		Monetization:    out.Monetization,
		RevenueEstimate: out.RevenueEstimate,
		RevenueSources:  out.RevenueSources,
		ReviewThemes:    out.ReviewThemes,
		SimilarApps:     out.SimilarApps,
		Summary:         out.Summary,
		Sources:         webSources,
	}
	if record.Developer == "" && listing != nil {
		record.Developer = listing.Developer
	}
	assessIndie(record)

	return research.Result{
		TaskID:     task.ID,
		Kind:       task.Kind,
		Status:     research.StatusOK,
		Research:   record,
		Confidence: parseConfidence(out.Confidence),
	}, nil
}

func (e *Executor) lookupListing(ctx context.Context, task research.Task) (*appstore.App, int) {
	if task.Platform == research.PlatformAndroid || task.Platform == research.PlatformProductHunt {
		return nil, 0
	}
	apps, err := e.store.Search(ctx, task.Target)
	if err != nil || len(apps) == 0 {
		if err != nil {
			e.logger.Printf("listing lookup %q: %v", task.Target, err)
		}
		return nil, 0
	}
	listing := apps[0]
	portfolio := 0
	if listing.BundleID != "" {
		devApps, err := e.store.LookupDeveloper(ctx, listing.BundleID)
		if err != nil {
			e.logger.Printf("developer lookup %q: %v", listing.BundleID, err)
		} else {
			portfolio = len(devApps)
		}
	}
	return &listing, portfolio
}

// webEvidence searches for revenue and reception coverage and pulls
// the top hit's text.
func (e *Executor) webEvidence(ctx context.Context, target string) (string, []string) {
	if e.searcher == nil {
		return "(no web search configured)", nil
	}

	var findings strings.Builder
	var sources []string
	queries := []string{
		target + " app revenue indie developer",
		target + " app review",
	}
	for _, q := range queries {
		results, err := e.searcher.Discover(ctx, q, 3, nil)
		if err != nil {
			e.logger.Printf("web search %q: %v", q, err)
			continue
		}
		for i, r := range results {
			fmt.Fprintf(&findings, "- %s (%s): %s\n", r.Title, r.URL, r.Snippet)
			sources = append(sources, r.URL)
			if i == 0 && e.fetcher != nil {
				page, err := e.fetcher.Exec(ctx, r.URL)
				if err == nil && page.Text != "" {
					fmt.Fprintf(&findings, "  excerpt: %s\n", firstN(page.Text, 1500))
				}
			}
		}
	}
	if findings.Len() == 0 {
		return "(no web findings)", nil
	}
	return findings.String(), sources
}

const validatePrompt = `You are validating a claim for an indie-app market study.

Claim: %s
Context: %s

Evidence:
%s

Return STRICT JSON:
{"verdict": "supported"|"refuted"|"inconclusive", "notes": [string], "confidence": "low"|"medium"|"high"}`

// validate checks a claim against web evidence and reports the verdict
// as pattern observations.
func (e *Executor) validate(ctx context.Context, task research.Task) (research.Result, error) {
	evidence, _ := e.webEvidence(ctx, task.Target)

	content, err := e.provider.Generate(ctx, fmt.Sprintf(validatePrompt, task.Target, task.Context, evidence), e.llm.Model("research"), map[string]interface{}{"json": true})
	if err != nil {
		return research.Result{}, fmt.Errorf("validate model: %w", err)
	}
	var out struct {
		Verdict    string   `json:"verdict"`
		Notes      []string `json:"notes"`
		Confidence string   `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &out); err != nil {
		return research.Result{}, fmt.Errorf("bad JSON from validate model: %w; content=%s", err, content)
	}

	patterns := []string{fmt.Sprintf("validation %q: %s", task.Target, out.Verdict)}
	patterns = append(patterns, out.Notes...)
	return research.Result{
		TaskID:     task.ID,
		Kind:       task.Kind,
		Status:     research.StatusOK,
		Patterns:   patterns,
		Confidence: parseConfidence(out.Confidence),
	}, nil
}

const comparePrompt = `You are comparing apps for an indie-app market study.

Comparison target: %s
Context: %s

Return STRICT JSON:
{"observations": [string], "confidence": "low"|"medium"|"high"}
Each observation is one concrete, factual contrast.`

func (e *Executor) compare(ctx context.Context, task research.Task) (research.Result, error) {
	content, err := e.provider.Generate(ctx, fmt.Sprintf(comparePrompt, task.Target, task.Context), e.llm.Model("research"), map[string]interface{}{"json": true})
	if err != nil {
		return research.Result{}, fmt.Errorf("compare model: %w", err)
	}
	var out struct {
		Observations []string `json:"observations"`
		Confidence   string   `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &out); err != nil {
		return research.Result{}, fmt.Errorf("bad JSON from compare model: %w; content=%s", err, content)
	}
	return research.Result{
		TaskID:     task.ID,
		Kind:       task.Kind,
		Status:     research.StatusOK,
		Patterns:   out.Observations,
		Confidence: parseConfidence(out.Confidence),
	}, nil
}

// assessIndie applies the portfolio heuristics: small catalogs and solo
// makers read as indie, large publisher portfolios do not.
func assessIndie(record *research.ResearchRecord) {
	var signals []string
	indie := false

	switch {
	case record.DeveloperApps == 0:
		// Unknown portfolio, leave IsIndie unset.
	case record.DeveloperApps <= 5:
		indie = true
		signals = append(signals, fmt.Sprintf("small developer portfolio (%d apps)", record.DeveloperApps))
	default:
		signals = append(signals, fmt.Sprintf("large developer portfolio (%d apps)", record.DeveloperApps))
	}

	lower := strings.ToLower(record.Summary + " " + record.RevenueEstimate)
	for _, marker := range []string{"solo developer", "indie hacker", "side project", "bootstrapped"} {
		if strings.Contains(lower, marker) {
			indie = true
			signals = append(signals, "described as "+marker)
		}
	}

	record.IndieSignals = signals
	if record.DeveloperApps > 0 || indie {
		record.IsIndie = &indie
	}
}

func summaries(apps []appstore.App) []research.AppSummary {
	out := make([]research.AppSummary, 0, len(apps))
	for _, app := range apps {
		summary := research.AppSummary{
			Name:      app.Name,
			Developer: app.Developer,
			Platform:  research.Platform(app.Platform),
			URL:       app.URL,
			Tagline:   app.Tagline,
		}
		if app.Rating > 0 {
			score := app.Rating
			summary.Score = &score
		}
		if app.RatingsCount > 0 {
			count := app.RatingsCount
			summary.RatingsCount = &count
		}
		if app.Platform == "ios" {
			// Play listings carry no price data here; leave Free unknown
			// so the store can back-fill it later.
			free := app.Free
			summary.Free = &free
		}
		out = append(out, summary)
	}
	return out
}

func parseConfidence(s string) research.Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return research.ConfidenceHigh
	case "medium":
		return research.ConfidenceMedium
	default:
		return research.ConfidenceLow
	}
}

func platformOrBoth(p research.Platform) research.Platform {
	if p == "" {
		return research.PlatformBoth
	}
	return p
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
