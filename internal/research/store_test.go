package research

import (
	"fmt"
	"reflect"
	"sort"
	"testing"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }
func bptr(v bool) *bool       { return &v }

func discoveryResult(taskID string, items ...AppSummary) Result {
	return Result{TaskID: taskID, Kind: TaskDiscover, Status: StatusOK, Discovered: items, Attempt: 1}
}

func researchResult(taskID string, rec ResearchRecord, conf Confidence) Result {
	return Result{TaskID: taskID, Kind: TaskDeepResearch, Status: StatusOK, Research: &rec, Confidence: conf, Attempt: 1}
}

func TestMergeIdempotent(t *testing.T) {
	r := Result{
		TaskID: "t1", Kind: TaskDiscover, Status: StatusOK, Attempt: 1,
		Discovered: []AppSummary{{Name: "Habit Pixel", Platform: PlatformIOS}},
		Patterns:   []string{"habit apps cluster around streaks"},
	}

	once := NewStore()
	once.Merge([]Result{r})

	twice := NewStore()
	twice.Merge([]Result{r})
	rep := twice.Merge([]Result{r})

	if rep.Skipped != 1 {
		t.Fatalf("expected replayed result to be skipped, got %+v", rep)
	}
	if !reflect.DeepEqual(once.Snapshot(), twice.Snapshot()) {
		t.Fatalf("double merge diverged from single merge")
	}
}

func TestMergeFailedResultIdempotent(t *testing.T) {
	r := Result{TaskID: "t9", Kind: TaskDiscover, Status: StatusFailed, Gaps: []string{"boundary unreachable"}, Attempt: 3}

	s := NewStore()
	s.Merge([]Result{r})
	s.Merge([]Result{r})

	view := s.Snapshot()
	if len(view.FailedTasks) != 1 {
		t.Fatalf("expected 1 failed task, got %d", len(view.FailedTasks))
	}
	if view.FailedTasks[0].Reason != "boundary unreachable" || view.FailedTasks[0].Attempts != 3 {
		t.Fatalf("unexpected failed task record: %+v", view.FailedTasks[0])
	}
	if len(view.Discovered) != 0 {
		t.Fatalf("failed result must not touch discovered items")
	}
}

func TestMergeBatchOrderIndependence(t *testing.T) {
	batch := []Result{
		discoveryResult("t1",
			AppSummary{Name: "Habit Pixel", Platform: PlatformIOS, Developer: "Solo Dev"},
			AppSummary{Name: "Streaks", Platform: PlatformIOS, Score: fptr(4.8)},
		),
		discoveryResult("t2",
			AppSummary{Name: "habit pixel ", Platform: PlatformIOS, Score: fptr(4.5), RatingsCount: iptr(120)},
		),
		researchResult("t3", ResearchRecord{Name: "Streaks", Platform: PlatformIOS, Monetization: "paid"}, ConfidenceHigh),
		researchResult("t4", ResearchRecord{Name: "Streaks", Platform: PlatformIOS, Monetization: "unknown"}, ConfidenceLow),
	}

	perms := [][]int{
		{0, 1, 2, 3}, {3, 2, 1, 0}, {1, 0, 3, 2}, {2, 3, 0, 1}, {1, 3, 0, 2},
	}

	var baseline StoreView
	for i, perm := range perms {
		s := NewStore()
		ordered := make([]Result, len(perm))
		for j, idx := range perm {
			ordered[j] = batch[idx]
		}
		s.Merge(ordered)
		view := normalizeView(s.Snapshot())
		if i == 0 {
			baseline = view
			continue
		}
		if !reflect.DeepEqual(baseline, view) {
			t.Fatalf("permutation %v diverged:\n%+v\nvs\n%+v", perm, baseline, view)
		}
	}
}

// normalizeView sorts display-ordered slices so permutation comparisons
// only check membership and field values.
func normalizeView(v StoreView) StoreView {
	sort.Slice(v.Discovered, func(i, j int) bool { return v.Discovered[i].Key() < v.Discovered[j].Key() })
	sort.Slice(v.FailedTasks, func(i, j int) bool { return v.FailedTasks[i].TaskID < v.FailedTasks[j].TaskID })
	sort.Strings(v.Patterns)
	return v
}

func TestMonotonicConfidence(t *testing.T) {
	s := NewStore()
	rec := func(mon string) ResearchRecord {
		return ResearchRecord{Name: "Habit Pixel", Platform: PlatformIOS, Monetization: mon}
	}

	s.Merge([]Result{researchResult("t1", rec("from-low"), ConfidenceLow)})
	s.Merge([]Result{researchResult("t2", rec("from-high"), ConfidenceHigh)})
	s.Merge([]Result{researchResult("t3", rec("from-medium"), ConfidenceMedium)})

	view := s.Snapshot()
	item, ok := view.Researched[NormalizeKey("Habit Pixel", PlatformIOS)]
	if !ok {
		t.Fatalf("researched item missing")
	}
	if item.Confidence != ConfidenceHigh || item.Record.Monetization != "from-high" {
		t.Fatalf("expected high-confidence payload to win, got %+v", item)
	}
}

func TestConfidenceTiePrefersMostRecent(t *testing.T) {
	s := NewStore()
	s.Merge([]Result{researchResult("t1", ResearchRecord{Name: "Streaks", Platform: PlatformIOS, Summary: "first"}, ConfidenceMedium)})
	s.Merge([]Result{researchResult("t2", ResearchRecord{Name: "Streaks", Platform: PlatformIOS, Summary: "second"}, ConfidenceMedium)})

	item := s.Snapshot().Researched[NormalizeKey("Streaks", PlatformIOS)]
	if item.Record.Summary != "second" {
		t.Fatalf("tie should prefer most recent write, got %q", item.Record.Summary)
	}
}

func TestDiscoveredIdentityNormalization(t *testing.T) {
	s := NewStore()
	s.Merge([]Result{
		discoveryResult("t1", AppSummary{Name: "Habit Pixel", Platform: PlatformIOS}),
		discoveryResult("t2", AppSummary{Name: "  habit   pixel ", Platform: PlatformIOS}),
	})

	view := s.Snapshot()
	if len(view.Discovered) != 1 {
		t.Fatalf("expected normalized duplicate absorption, got %d items", len(view.Discovered))
	}
	if view.Discovered[0].Name != "Habit Pixel" {
		t.Fatalf("first inserted record's display name must be kept, got %q", view.Discovered[0].Name)
	}
}

func TestDiscoveredBackFillsNullsOnly(t *testing.T) {
	s := NewStore()
	s.Merge([]Result{discoveryResult("t1", AppSummary{Name: "Streaks", Platform: PlatformIOS, Score: fptr(4.8)})})
	s.Merge([]Result{discoveryResult("t2", AppSummary{
		Name: "Streaks", Platform: PlatformIOS,
		Score: fptr(1.0), RatingsCount: iptr(4200), Free: bptr(false), Developer: "Crunchy Bagel",
	})})

	item := s.Snapshot().Discovered[0]
	if *item.Score != 4.8 {
		t.Fatalf("non-null score must never be overwritten, got %.1f", *item.Score)
	}
	if item.RatingsCount == nil || *item.RatingsCount != 4200 {
		t.Fatalf("null ratings count should be back-filled")
	}
	if item.Free == nil || *item.Free != false {
		t.Fatalf("null free flag should be back-filled")
	}
	if item.Developer != "Crunchy Bagel" {
		t.Fatalf("empty developer should be back-filled")
	}
}

func TestPatternsAppendOnlyNoDedup(t *testing.T) {
	s := NewStore()
	s.Merge([]Result{
		{TaskID: "t1", Kind: TaskCompare, Status: StatusOK, Patterns: []string{"p1"}, Attempt: 1},
		{TaskID: "t2", Kind: TaskCompare, Status: StatusOK, Patterns: []string{"p1", "p2"}, Attempt: 1},
	})
	if got := s.Snapshot().Patterns; len(got) != 3 {
		t.Fatalf("patterns are raw material, no dedup expected; got %v", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	s.Merge([]Result{discoveryResult("t1", AppSummary{Name: "Habit Pixel", Platform: PlatformIOS})})

	view := s.Snapshot()
	view.Discovered[0].Name = "mutated"
	view.Patterns = append(view.Patterns, "mutated")

	if s.Snapshot().Discovered[0].Name != "Habit Pixel" {
		t.Fatalf("snapshot mutation leaked into store")
	}
}

func TestUnresearched(t *testing.T) {
	s := NewStore()
	var items []AppSummary
	for i := 0; i < 4; i++ {
		items = append(items, AppSummary{Name: fmt.Sprintf("App %d", i), Platform: PlatformIOS})
	}
	s.Merge([]Result{discoveryResult("t1", items...)})
	s.Merge([]Result{researchResult("t2", ResearchRecord{Name: "App 1", Platform: PlatformIOS}, ConfidenceMedium)})

	un := s.Snapshot().Unresearched()
	if len(un) != 3 {
		t.Fatalf("expected 3 unresearched items, got %d", len(un))
	}
	for _, item := range un {
		if item.Name == "App 1" {
			t.Fatalf("researched item reported as unresearched")
		}
	}
}
