package research

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func okResult(task Task) Result {
	return Result{
		TaskID: task.ID,
		Kind:   task.Kind,
		Status: StatusOK,
		Discovered: []AppSummary{
			{Name: "App " + task.ID, Platform: PlatformIOS},
		},
	}
}

func makeTasks(n int) []Task {
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = Task{
			ID:      fmt.Sprintf("t%d", i+1),
			Kind:    TaskDiscover,
			Target:  fmt.Sprintf("target %d", i+1),
			Context: "find indie habit trackers",
		}
	}
	return tasks
}

func TestDispatchTotality(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, task Task) (Result, error) {
		switch task.ID {
		case "t2":
			return Result{}, fmt.Errorf("boundary error")
		case "t3":
			<-ctx.Done()
			return Result{}, ctx.Err()
		default:
			return okResult(task), nil
		}
	})

	d := NewDispatcher(exec, nil, nil)
	tasks := makeTasks(4)
	results := d.Dispatch(context.Background(), "run1", tasks, DispatchConfig{
		MaxRetries:     -1,
		TimeoutPerTask: 50 * time.Millisecond,
	})

	if len(results) != len(tasks) {
		t.Fatalf("dispatch must return exactly one result per task: got %d for %d", len(results), len(tasks))
	}
	byID := make(map[string]Result)
	for _, res := range results {
		byID[res.TaskID] = res
	}
	for _, task := range tasks {
		if _, ok := byID[task.ID]; !ok {
			t.Fatalf("missing result for task %s", task.ID)
		}
	}
	if byID["t2"].Status != StatusFailed {
		t.Fatalf("expected t2 failed, got %s", byID["t2"].Status)
	}
	if byID["t3"].Status != StatusTimedOut {
		t.Fatalf("expected t3 timed out, got %s", byID["t3"].Status)
	}
}

func TestBoundedConcurrency(t *testing.T) {
	const maxConcurrent = 3
	var inflight, peak int64

	exec := ExecutorFunc(func(ctx context.Context, task Task) (Result, error) {
		cur := atomic.AddInt64(&inflight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inflight, -1)
		return okResult(task), nil
	})

	d := NewDispatcher(exec, nil, nil)
	d.Dispatch(context.Background(), "run1", makeTasks(12), DispatchConfig{MaxConcurrent: maxConcurrent})

	if got := atomic.LoadInt64(&peak); got > maxConcurrent {
		t.Fatalf("observed %d concurrent executions, limit is %d", got, maxConcurrent)
	}
}

func TestRetrySucceedsThroughTransform(t *testing.T) {
	var mu sync.Mutex
	var contexts []string

	exec := ExecutorFunc(func(ctx context.Context, task Task) (Result, error) {
		mu.Lock()
		contexts = append(contexts, task.Context)
		attempt := len(contexts)
		mu.Unlock()
		if attempt < 3 {
			return Result{}, fmt.Errorf("no results for angle %d", attempt)
		}
		return okResult(task), nil
	})

	d := NewDispatcher(exec, nil, nil)
	results := d.Dispatch(context.Background(), "run1", makeTasks(1), DispatchConfig{
		MaxRetries: 2,
		RetryTransform: func(task Task, attempt int) Task {
			task.Context = fmt.Sprintf("%s [angle %d]", task.Context, attempt)
			return task
		},
	})

	if results[0].Status != StatusOK {
		t.Fatalf("expected success on third attempt, got %s", results[0].Status)
	}
	if results[0].Attempt != 3 {
		t.Fatalf("expected attempt=3, got %d", results[0].Attempt)
	}
	if len(contexts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(contexts))
	}
	if !strings.Contains(contexts[1], "[angle 2]") || !strings.Contains(contexts[2], "[angle 3]") {
		t.Fatalf("retry transform not applied: %v", contexts)
	}
	// The transform must start from the original task, not compound.
	if strings.Count(contexts[2], "[angle") != 1 {
		t.Fatalf("retry transform compounded: %q", contexts[2])
	}
}

func TestFailureIsolationScenario(t *testing.T) {
	// 3 tasks, max_concurrent=2, one always fails with retries
	// exhausted: 3 results, 1 failed with attempt=3, 2 ok, and the
	// store records exactly one failed task.
	exec := ExecutorFunc(func(ctx context.Context, task Task) (Result, error) {
		if task.ID == "t2" {
			return Result{}, fmt.Errorf("store page scrape rejected")
		}
		return okResult(task), nil
	})

	d := NewDispatcher(exec, nil, nil)
	results := d.Dispatch(context.Background(), "run1", makeTasks(3), DispatchConfig{
		MaxConcurrent: 2,
		MaxRetries:    2,
		OnTaskFailure: FailContinue,
	})

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	var failed, ok int
	for _, res := range results {
		switch res.Status {
		case StatusFailed:
			failed++
			if res.Attempt != 3 {
				t.Fatalf("expected failure after 3 attempts, got %d", res.Attempt)
			}
		case StatusOK:
			ok++
		}
	}
	if failed != 1 || ok != 2 {
		t.Fatalf("expected 1 failed and 2 ok, got failed=%d ok=%d", failed, ok)
	}

	store := NewStore()
	store.Merge(results)
	if got := len(store.Snapshot().FailedTasks); got != 1 {
		t.Fatalf("expected exactly 1 failed task in store, got %d", got)
	}
}

func TestAbortAllCancelsSiblings(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, task Task) (Result, error) {
		if task.ID == "t1" {
			return Result{}, fmt.Errorf("hard failure")
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(2 * time.Second):
			return okResult(task), nil
		}
	})

	d := NewDispatcher(exec, nil, nil)
	start := time.Now()
	results := d.Dispatch(context.Background(), "run1", makeTasks(4), DispatchConfig{
		MaxConcurrent: 4,
		MaxRetries:    -1,
		OnTaskFailure: FailAbortAll,
	})

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("abort_all did not cancel siblings promptly (%v)", elapsed)
	}
	if len(results) != 4 {
		t.Fatalf("totality must hold under abort_all: got %d results", len(results))
	}
	for _, res := range results {
		if res.Status == "" {
			t.Fatalf("missing status for %s", res.TaskID)
		}
		if res.TaskID != "t1" && res.Status == StatusOK {
			t.Fatalf("sibling %s completed despite abort", res.TaskID)
		}
	}
}

func TestTimeoutYieldsTimedOutResult(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, task Task) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	})

	d := NewDispatcher(exec, nil, nil)
	results := d.Dispatch(context.Background(), "run1", makeTasks(1), DispatchConfig{
		TimeoutPerTask: 30 * time.Millisecond,
	})

	res := results[0]
	if res.Status != StatusTimedOut {
		t.Fatalf("expected timed_out, got %s", res.Status)
	}
	if len(res.Gaps) == 0 || !strings.Contains(res.Gaps[0], "timed out") {
		t.Fatalf("timeout should be recorded in gaps, got %v", res.Gaps)
	}
}

func TestNormalizeResultEnforcesBackReference(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, task Task) (Result, error) {
		// A sloppy boundary returning no task id and no status.
		return Result{Discovered: []AppSummary{{Name: "Streaks", Platform: PlatformIOS}}}, nil
	})

	d := NewDispatcher(exec, nil, nil)
	results := d.Dispatch(context.Background(), "run1", makeTasks(1), DispatchConfig{})

	if results[0].TaskID != "t1" || results[0].Status != StatusOK || results[0].Attempt != 1 {
		t.Fatalf("dispatcher must normalize boundary output: %+v", results[0])
	}
}
