package main

import (
	"log"

	"github.com/mohammad-safakhou/alphy/config"
	"github.com/mohammad-safakhou/alphy/internal/agent"
	"github.com/mohammad-safakhou/alphy/internal/events"
	"github.com/mohammad-safakhou/alphy/internal/research"
	"github.com/mohammad-safakhou/alphy/tools/appstore"
	"github.com/mohammad-safakhou/alphy/tools/producthunt"
	"github.com/mohammad-safakhou/alphy/tools/web_fetch"
	"github.com/mohammad-safakhou/alphy/tools/web_search"
)

// buildEngine assembles the full run pipeline from config: model
// provider, storefront and web tools, executor, dispatcher, and the
// phase machine around them. The provider is returned alongside so
// callers can report token usage.
func buildEngine(cfg *config.Config, bus *events.Bus) (*research.Engine, *agent.OpenAIProvider, error) {
	if err := cfg.LLM.Validate(); err != nil {
		return nil, nil, err
	}
	provider := agent.NewOpenAIProvider(cfg.LLM)

	store := appstore.NewClient(cfg.Sources.AppStore.Country, cfg.Sources.AppStore.MaxResults, cfg.Sources.AppStore.Timeout)
	hunt := producthunt.NewClient(cfg.Sources.ProductHunt.Token, cfg.Sources.ProductHunt.MaxResults, cfg.Sources.ProductHunt.Timeout)
	fetcher := web_fetch.NewWebFetcher(cfg.Sources.WebSearch.Timeout, 0)

	// Web search is optional: without a key the executor just skips
	// web evidence gathering.
	var searcher web_search.WebSearcher
	switch {
	case cfg.Sources.WebSearch.SerperAPIKey != "":
		s, err := web_search.NewWebSearcher(web_search.SerperProvider, cfg.Sources.WebSearch.SerperAPIKey)
		if err != nil {
			return nil, nil, err
		}
		searcher = s
	case cfg.Sources.WebSearch.BraveAPIKey != "":
		s, err := web_search.NewWebSearcher(web_search.BraveProvider, cfg.Sources.WebSearch.BraveAPIKey)
		if err != nil {
			return nil, nil, err
		}
		searcher = s
	default:
		log.Printf("[SETUP] no web search key configured, web evidence disabled")
	}

	executor := agent.NewExecutor(provider, cfg.LLM, store, hunt, searcher, fetcher, nil)
	dispatcher := research.NewDispatcher(executor, bus, nil)

	runCfg := research.RunConfig{
		MaxIterations: cfg.Research.MaxIterations,
		Sufficiency: research.Sufficiency{
			MinDiscovered: cfg.Research.MinDiscovered,
			MinResearched: cfg.Research.MinResearched,
		},
		Dispatch: research.DispatchConfig{
			MaxConcurrent:  cfg.Research.MaxConcurrent,
			TimeoutPerTask: cfg.Research.TimeoutPerTask,
			MaxRetries:     cfg.Research.MaxRetries,
			OnTaskFailure:  research.FailureMode(cfg.Research.OnTaskFailure),
			RetryTransform: agent.RetryTransform,
		},
	}

	engine := research.NewEngine(
		agent.NewPlanner(provider, cfg.LLM, nil),
		dispatcher,
		agent.NewRefiner(provider, cfg.LLM, nil),
		agent.NewPatternExtractor(provider, cfg.LLM, nil),
		agent.NewSynthesizer(provider, cfg.LLM, nil),
		bus,
		runCfg,
		nil,
	)
	return engine, provider, nil
}
