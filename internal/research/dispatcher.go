package research

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/alphy/internal/events"
)

var dispatchTracer trace.Tracer = otel.Tracer("alphy/internal/research/dispatcher")

// Executor is the opaque model/tool boundary: it executes one task and
// returns a structured Result or an error. Any error or malformed
// output is captured as a failed Result; nothing propagates past the
// dispatcher as an exception.
type Executor interface {
	Execute(ctx context.Context, task Task) (Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task Task) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, task Task) (Result, error) {
	return f(ctx, task)
}

// RetryTransform mutates a task between retries ("try a different query
// angle"). attempt is the 1-based number of the attempt about to run.
type RetryTransform func(task Task, attempt int) Task

// FailureMode controls what a task's retry exhaustion does to its
// siblings.
type FailureMode string

const (
	FailContinue FailureMode = "continue"
	FailAbortAll FailureMode = "abort_all"
)

// DispatchConfig bounds one concurrent dispatch round.
type DispatchConfig struct {
	MaxConcurrent  int
	TimeoutPerTask time.Duration
	MaxRetries     int
	OnTaskFailure  FailureMode
	RetryTransform RetryTransform
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.TimeoutPerTask <= 0 {
		c.TimeoutPerTask = 60 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.OnTaskFailure == "" {
		c.OnTaskFailure = FailContinue
	}
	return c
}

// Dispatcher fans a batch of tasks out over a bounded worker pool and
// returns exactly one Result per input Task, regardless of timeouts or
// failures, so the caller's merge step is total over the batch.
type Dispatcher struct {
	exec   Executor
	bus    *events.Bus
	logger *log.Logger
}

// NewDispatcher creates a dispatcher over the given executor. The bus
// may be nil; lifecycle events are then skipped.
func NewDispatcher(exec Executor, bus *events.Bus, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags)
	}
	return &Dispatcher{exec: exec, bus: bus, logger: logger}
}

// Dispatch executes tasks with at most cfg.MaxConcurrent running at any
// instant. The order of the returned slice follows the input order;
// callers must still correlate by task id, not position.
func (d *Dispatcher) Dispatch(ctx context.Context, runID string, tasks []Task, cfg DispatchConfig) []Result {
	cfg = cfg.withDefaults()
	results := make([]Result, len(tasks))

	batchCtx, cancelBatch := context.WithCancel(ctx)
	defer cancelBatch()

	sem := make(chan struct{}, cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		go func(idx int, t Task) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-batchCtx.Done():
				results[idx] = abortedResult(t)
				return
			}

			res := d.runTask(batchCtx, runID, t, cfg)
			results[idx] = res

			if res.Status != StatusOK && cfg.OnTaskFailure == FailAbortAll {
				cancelBatch()
			}
		}(i, task)
	}

	wg.Wait()
	return results
}

// runTask drives the attempt loop for one task: per-attempt timeout,
// up to MaxRetries retries through the caller's transform, and a
// guaranteed terminal Result.
func (d *Dispatcher) runTask(ctx context.Context, runID string, task Task, cfg DispatchConfig) Result {
	taskCtx, span := dispatchTracer.Start(ctx, "research.execute_task",
		trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("task.kind", string(task.Kind)),
		))
	defer span.End()

	d.publish(events.KindTaskStarted, runID, task.ID, map[string]interface{}{
		"kind":   string(task.Kind),
		"target": task.Target,
	})

	current := task
	var lastErr error
	for attempt := 1; ; attempt++ {
		res, err := d.runAttempt(taskCtx, current, cfg.TimeoutPerTask)
		if err == nil {
			res = normalizeResult(res, task, attempt)
			span.SetAttributes(attribute.Int("task.attempt", attempt))
			if res.Status == StatusTimedOut {
				span.SetStatus(codes.Error, "timed out")
				d.publish(events.KindTaskFailed, runID, task.ID, map[string]interface{}{
					"status":  string(StatusTimedOut),
					"attempt": attempt,
				})
				return res
			}
			span.SetStatus(codes.Ok, "completed")
			d.publish(events.KindTaskCompleted, runID, task.ID, map[string]interface{}{
				"status":  string(res.Status),
				"attempt": attempt,
			})
			return res
		}
		lastErr = err

		if ctx.Err() != nil {
			// Batch cancelled while this task was in flight.
			span.SetStatus(codes.Error, "aborted")
			d.publish(events.KindTaskFailed, runID, task.ID, map[string]interface{}{
				"status":  string(StatusFailed),
				"attempt": attempt,
				"error":   "batch aborted",
			})
			return abortedResult(task)
		}

		if attempt > cfg.MaxRetries {
			execErr := TaskExecutionError{TaskID: task.ID, Attempts: attempt, Err: lastErr}
			span.RecordError(execErr)
			span.SetStatus(codes.Error, execErr.Error())
			d.logger.Printf("task %s exhausted retries: %v", task.ID, lastErr)
			d.publish(events.KindTaskFailed, runID, task.ID, map[string]interface{}{
				"status":  string(StatusFailed),
				"attempt": attempt,
				"error":   lastErr.Error(),
			})
			return Result{
				TaskID:  task.ID,
				Kind:    task.Kind,
				Status:  StatusFailed,
				Gaps:    []string{execErr.Error()},
				Attempt: attempt,
			}
		}

		if cfg.RetryTransform != nil {
			current = cfg.RetryTransform(task, attempt+1)
			current.ID = task.ID
		}
	}
}

// runAttempt executes one attempt under the per-task timeout. A timeout
// yields a timed_out Result (nil error); executor errors are returned
// for the retry loop.
func (d *Dispatcher) runAttempt(ctx context.Context, task Task, timeout time.Duration) (Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := d.exec.Execute(attemptCtx, task)
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		if out.err != nil && attemptCtx.Err() == context.DeadlineExceeded {
			return timedOutResult(task, timeout), nil
		}
		return out.res, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			// Batch-level cancellation, not a per-task timeout.
			return Result{}, ctx.Err()
		}
		return timedOutResult(task, timeout), nil
	}
}

// normalizeResult enforces the dispatcher's invariants on whatever the
// boundary returned: correct back-reference, a status, and the attempt
// count at completion.
func normalizeResult(res Result, task Task, attempt int) Result {
	res.TaskID = task.ID
	if res.Kind == "" {
		res.Kind = task.Kind
	}
	if res.Status == "" {
		res.Status = StatusOK
	}
	res.Attempt = attempt
	return res
}

func timedOutResult(task Task, timeout time.Duration) Result {
	return Result{
		TaskID: task.ID,
		Kind:   task.Kind,
		Status: StatusTimedOut,
		Gaps:   []string{TaskTimeoutError{TaskID: task.ID, Timeout: timeout}.Error()},
	}
}

func abortedResult(task Task) Result {
	return Result{
		TaskID:  task.ID,
		Kind:    task.Kind,
		Status:  StatusFailed,
		Gaps:    []string{fmt.Sprintf("task %s cancelled: batch aborted", task.ID)},
		Attempt: 1,
	}
}

func (d *Dispatcher) publish(kind events.Kind, runID, taskID string, payload map[string]interface{}) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(events.Event{Kind: kind, RunID: runID, TaskID: taskID, Payload: payload})
}
