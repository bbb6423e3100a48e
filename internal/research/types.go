package research

import "strings"

// TaskKind classifies a unit of research work.
type TaskKind string

const (
	TaskDiscover     TaskKind = "discover"
	TaskDeepResearch TaskKind = "deep_research"
	TaskValidate     TaskKind = "validate"
	TaskCompare      TaskKind = "compare"
)

// Platform identifies where an app lives.
type Platform string

const (
	PlatformIOS         Platform = "ios"
	PlatformAndroid     Platform = "android"
	PlatformBoth        Platform = "both"
	PlatformProductHunt Platform = "producthunt"
)

// Task is one unit of delegated research work. Tasks are immutable
// once created: the planning phase builds them, the dispatcher consumes
// them exactly once, and retries go through a caller-supplied transform
// that produces a new Task.
type Task struct {
	ID              string   `json:"id"`
	Kind            TaskKind `json:"kind"`
	Target          string   `json:"target"`
	Platform        Platform `json:"platform,omitempty"`
	Context         string   `json:"context"`
	SuccessCriteria []string `json:"success_criteria,omitempty"`
}

// ResultStatus is the terminal status of a task execution.
type ResultStatus string

const (
	StatusOK       ResultStatus = "ok"
	StatusFailed   ResultStatus = "failed"
	StatusTimedOut ResultStatus = "timed_out"
)

// Confidence is the totally ordered confidence level attached to
// research payloads: low < medium < high.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Rank maps a confidence level onto its position in the total order.
// Unknown values rank below low so they never displace stored data.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceLow:
		return 1
	case ConfidenceMedium:
		return 2
	case ConfidenceHigh:
		return 3
	default:
		return 0
	}
}

// AppSummary is a discovered candidate app. Optional numeric fields are
// pointers so the store can tell "unknown" apart from zero and back-fill
// nulls from later duplicates.
type AppSummary struct {
	Name         string   `json:"name"`
	Developer    string   `json:"developer,omitempty"`
	Platform     Platform `json:"platform"`
	Score        *float64 `json:"score,omitempty"`
	RatingsCount *int     `json:"ratings_count,omitempty"`
	Free         *bool    `json:"free,omitempty"`
	URL          string   `json:"url,omitempty"`
	Tagline      string   `json:"tagline,omitempty"`
}

// Key returns the normalized identity of the app.
func (a AppSummary) Key() string {
	return NormalizeKey(a.Name, a.Platform)
}

// ResearchRecord is the deep-research payload for one app.
type ResearchRecord struct {
	Name            string   `json:"name"`
	Platform        Platform `json:"platform"`
	Developer       string   `json:"developer,omitempty"`
	DeveloperApps   int      `json:"developer_apps,omitempty"`
	IsIndie         *bool    `json:"is_indie,omitempty"`
	IndieSignals    []string `json:"indie_signals,omitempty"`
	Monetization    string   `json:"monetization,omitempty"`
	RevenueEstimate string   `json:"revenue_estimate,omitempty"`
	RevenueSources  []string `json:"revenue_sources,omitempty"`
	ReviewThemes    []string `json:"review_themes,omitempty"`
	SimilarApps     []string `json:"similar_apps,omitempty"`
	Summary         string   `json:"summary,omitempty"`
	Sources         []string `json:"sources,omitempty"`
}

// Key returns the normalized identity of the researched app.
func (r ResearchRecord) Key() string {
	return NormalizeKey(r.Name, r.Platform)
}

// Result is the outcome of executing a Task. A retried task produces a
// new Result with an incremented Attempt, never an edit. The payload
// sections (Discovered, Research, Patterns) are opaque to the
// dispatcher; only the store's merge step interprets them.
type Result struct {
	TaskID     string          `json:"task_id"`
	Kind       TaskKind        `json:"kind"`
	Status     ResultStatus    `json:"status"`
	Discovered []AppSummary    `json:"discovered,omitempty"`
	Research   *ResearchRecord `json:"research,omitempty"`
	Confidence Confidence      `json:"confidence,omitempty"`
	Patterns   []string        `json:"patterns,omitempty"`
	Gaps       []string        `json:"gaps,omitempty"`
	Attempt    int             `json:"attempt"`
}

// FailedTask records a task that exhausted its retries or timed out.
type FailedTask struct {
	TaskID   string `json:"task_id"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

// NormalizeKey produces the case-insensitive, whitespace-collapsed
// identity key for an app name on a platform, so that "Habit Pixel" and
// "habit pixel " resolve to the same entity.
func NormalizeKey(name string, platform Platform) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.Join(strings.Fields(n), " ")
	p := strings.ToLower(strings.TrimSpace(string(platform)))
	if p == "" {
		p = string(PlatformBoth)
	}
	return n + "|" + p
}
