package agent

import (
	"strings"
	"testing"

	"github.com/mohammad-safakhou/alphy/internal/research"
	"github.com/mohammad-safakhou/alphy/tools/appstore"
)

func TestAssessIndieSmallPortfolio(t *testing.T) {
	record := &research.ResearchRecord{Name: "Streaks", DeveloperApps: 3}
	assessIndie(record)
	if record.IsIndie == nil || !*record.IsIndie {
		t.Fatalf("3-app portfolio should read as indie: %+v", record)
	}
	if len(record.IndieSignals) == 0 {
		t.Fatalf("indie verdict must carry signals")
	}
}

func TestAssessIndieLargePortfolio(t *testing.T) {
	record := &research.ResearchRecord{Name: "Some App", DeveloperApps: 40}
	assessIndie(record)
	if record.IsIndie == nil || *record.IsIndie {
		t.Fatalf("40-app portfolio should not read as indie: %+v", record)
	}
}

func TestAssessIndieUnknownPortfolioStaysUnknown(t *testing.T) {
	record := &research.ResearchRecord{Name: "Mystery App"}
	assessIndie(record)
	if record.IsIndie != nil {
		t.Fatalf("no portfolio data must leave IsIndie unset, got %v", *record.IsIndie)
	}
}

func TestAssessIndieTextMarkers(t *testing.T) {
	record := &research.ResearchRecord{
		Name:    "Habit Pixel",
		Summary: "Built by a solo developer as a side project.",
	}
	assessIndie(record)
	if record.IsIndie == nil || !*record.IsIndie {
		t.Fatalf("solo-developer marker should read as indie: %+v", record)
	}
}

func TestSummariesPreservesUnknownFields(t *testing.T) {
	out := summaries([]appstore.App{
		{Name: "Streaks", Platform: "ios", Rating: 4.8, RatingsCount: 12000, Free: false},
		{Name: "Loop", Platform: "android"},
	})

	ios := out[0]
	if ios.Score == nil || *ios.Score != 4.8 {
		t.Fatalf("ios score = %v", ios.Score)
	}
	if ios.Free == nil || *ios.Free {
		t.Fatalf("paid ios app must carry Free=false, got %v", ios.Free)
	}

	android := out[1]
	if android.Score != nil || android.RatingsCount != nil || android.Free != nil {
		t.Fatalf("unknown play fields must stay nil: %+v", android)
	}
}

func TestParseConfidence(t *testing.T) {
	if parseConfidence(" HIGH ") != research.ConfidenceHigh {
		t.Fatalf("high not parsed")
	}
	if parseConfidence("medium") != research.ConfidenceMedium {
		t.Fatalf("medium not parsed")
	}
	if parseConfidence("certain") != research.ConfidenceLow {
		t.Fatalf("unknown confidence must degrade to low")
	}
}

func TestRetryTransformDoesNotCompound(t *testing.T) {
	task := research.Task{ID: "t1", Kind: research.TaskDiscover, Context: "find indie habit trackers"}

	second := RetryTransform(task, 2)
	third := RetryTransform(task, 3)

	if second.Context == task.Context {
		t.Fatalf("transform must reword the context")
	}
	if third.ID != task.ID {
		t.Fatalf("transform must preserve the task id")
	}
	// Applying to the original each time keeps exactly one annotation.
	if got := strings.Count(third.Context, "try a different query angle"); got != 1 {
		t.Fatalf("expected 1 annotation, got %d in %q", got, third.Context)
	}
}
