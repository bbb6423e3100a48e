package research

import (
	"fmt"
	"sync"
)

// Store is the run's shared scratchpad. Workers never write to it
// directly: they return immutable Results and the single-threaded merge
// step reconciles them, so readers only need the mutex for snapshots
// taken while a run is in flight.
type Store struct {
	mu         sync.RWMutex
	discovered map[string]*AppSummary
	order      []string // insertion order of discovered keys, for display
	researched map[string]researchedEntry
	patterns   []string
	failed     []FailedTask
	merged     map[string]struct{} // (task_id, attempt) pairs already applied
	iterations int
	pending    int
}

type researchedEntry struct {
	record     ResearchRecord
	confidence Confidence
}

// MergeReport summarizes what one merge call changed.
type MergeReport struct {
	Inserted   int // new discovered items
	BackFilled int // null fields filled on existing discovered items
	Duplicates int // discovered items absorbed with no change
	Updated    int // researched slots written
	Stale      int // researched payloads rejected by the confidence rule
	Patterns   int // patterns appended
	Failed     int // failed tasks recorded
	Skipped    int // results already merged (idempotent replay)
}

// NewStore creates an empty scratchpad.
func NewStore() *Store {
	return &Store{
		discovered: make(map[string]*AppSummary),
		researched: make(map[string]researchedEntry),
		merged:     make(map[string]struct{}),
	}
}

// Merge reconciles a batch of Results into the store. It is idempotent
// per Result (keyed by task id and attempt) and convergent: merging a
// batch in any permutation yields the same final state, because
// discovery uses an idempotent union with null back-fill and research
// updates obey the monotonic confidence rule.
func (s *Store) Merge(results []Result) MergeReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rep MergeReport
	for _, res := range results {
		key := fmt.Sprintf("%s#%d", res.TaskID, res.Attempt)
		if _, seen := s.merged[key]; seen {
			rep.Skipped++
			continue
		}
		s.merged[key] = struct{}{}

		if res.Status != StatusOK {
			reason := string(res.Status)
			if len(res.Gaps) > 0 {
				reason = res.Gaps[len(res.Gaps)-1]
			}
			s.failed = append(s.failed, FailedTask{
				TaskID:   res.TaskID,
				Reason:   reason,
				Attempts: res.Attempt,
			})
			rep.Failed++
			continue
		}

		for _, item := range res.Discovered {
			switch s.insertDiscovered(item) {
			case insertNew:
				rep.Inserted++
			case insertBackFilled:
				rep.BackFilled++
			default:
				rep.Duplicates++
			}
		}

		if res.Research != nil {
			if s.updateResearched(*res.Research, res.Confidence) {
				rep.Updated++
			} else {
				rep.Stale++
			}
		}

		s.patterns = append(s.patterns, res.Patterns...)
		rep.Patterns += len(res.Patterns)
	}
	return rep
}

type insertOutcome int

const (
	insertNew insertOutcome = iota
	insertBackFilled
	insertDuplicate
)

// insertDiscovered applies the identity-wins union rule: the first
// inserted record keeps its display name and metadata, and later
// duplicates may only fill fields that are still null or empty. A
// non-null value is never overwritten by a different non-null value.
func (s *Store) insertDiscovered(item AppSummary) insertOutcome {
	key := item.Key()
	existing, ok := s.discovered[key]
	if !ok {
		cp := item
		s.discovered[key] = &cp
		s.order = append(s.order, key)
		return insertNew
	}

	filled := false
	if existing.Score == nil && item.Score != nil {
		existing.Score = item.Score
		filled = true
	}
	if existing.RatingsCount == nil && item.RatingsCount != nil {
		existing.RatingsCount = item.RatingsCount
		filled = true
	}
	if existing.Free == nil && item.Free != nil {
		existing.Free = item.Free
		filled = true
	}
	if existing.Developer == "" && item.Developer != "" {
		existing.Developer = item.Developer
		filled = true
	}
	if existing.URL == "" && item.URL != "" {
		existing.URL = item.URL
		filled = true
	}
	if existing.Tagline == "" && item.Tagline != "" {
		existing.Tagline = item.Tagline
		filled = true
	}
	if filled {
		return insertBackFilled
	}
	return insertDuplicate
}

// updateResearched applies the monotonic confidence rule: the slot is
// replaced only when it is empty or the incoming confidence ranks at
// least as high as the stored one (ties prefer the most recent write).
func (s *Store) updateResearched(record ResearchRecord, conf Confidence) bool {
	key := record.Key()
	existing, ok := s.researched[key]
	if ok && conf.Rank() < existing.confidence.Rank() {
		return false
	}
	s.researched[key] = researchedEntry{record: record, confidence: conf}
	return true
}

// AddPatterns appends cross-item observations directly, used by the
// pattern-extraction phase which runs outside the dispatcher.
func (s *Store) AddPatterns(patterns []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = append(s.patterns, patterns...)
}

// BumpIteration increments and returns the iteration counter.
func (s *Store) BumpIteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations++
	return s.iterations
}

// Iterations returns the current iteration count.
func (s *Store) Iterations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iterations
}

// SetPending records how many tasks are queued for the next dispatch.
func (s *Store) SetPending(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = n
}

// ResearchedItem pairs a research payload with its stored confidence.
type ResearchedItem struct {
	Record     ResearchRecord `json:"record"`
	Confidence Confidence     `json:"confidence"`
}

// StoreView is an immutable snapshot of the scratchpad for display,
// reflection predicates, and the HTTP control surface.
type StoreView struct {
	Discovered   []AppSummary              `json:"discovered"`
	Researched   map[string]ResearchedItem `json:"researched"`
	Patterns     []string                  `json:"patterns"`
	FailedTasks  []FailedTask              `json:"failed_tasks"`
	Iterations   int                       `json:"iterations"`
	PendingTasks int                       `json:"pending_tasks"`
}

// Snapshot copies the store's current state.
func (s *Store) Snapshot() StoreView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view := StoreView{
		Discovered:   make([]AppSummary, 0, len(s.order)),
		Researched:   make(map[string]ResearchedItem, len(s.researched)),
		Patterns:     append([]string(nil), s.patterns...),
		FailedTasks:  append([]FailedTask(nil), s.failed...),
		Iterations:   s.iterations,
		PendingTasks: s.pending,
	}
	for _, key := range s.order {
		view.Discovered = append(view.Discovered, *s.discovered[key])
	}
	for key, entry := range s.researched {
		view.Researched[key] = ResearchedItem{Record: entry.record, Confidence: entry.confidence}
	}
	return view
}

// ResearchedCount reports how many researched slots have a non-empty
// payload, the deep-research sufficiency input.
func (v StoreView) ResearchedCount() int {
	n := 0
	for _, item := range v.Researched {
		if item.Record.Name != "" {
			n++
		}
	}
	return n
}

// Unresearched lists discovered items that have no researched payload
// yet, in insertion order.
func (v StoreView) Unresearched() []AppSummary {
	var out []AppSummary
	for _, item := range v.Discovered {
		if _, ok := v.Researched[item.Key()]; !ok {
			out = append(out, item)
		}
	}
	return out
}
