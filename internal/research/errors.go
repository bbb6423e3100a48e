package research

import (
	"fmt"
	"time"
)

// TaskTimeoutError marks a task whose execution exceeded the per-task
// timeout. It is captured into a Result, never thrown past the
// dispatcher.
type TaskTimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e TaskTimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %s", e.TaskID, e.Timeout)
}

// TaskExecutionError marks a task whose executor signalled an error on
// every allowed attempt.
type TaskExecutionError struct {
	TaskID   string
	Attempts int
	Err      error
}

func (e TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s failed after %d attempts: %v", e.TaskID, e.Attempts, e.Err)
}

func (e TaskExecutionError) Unwrap() error { return e.Err }

// BatchDispatchError marks a dispatch round in which no task produced a
// usable result, typically because the model boundary was unreachable.
// Reflection treats it as zero results against sufficiency.
type BatchDispatchError struct {
	Size int
}

func (e BatchDispatchError) Error() string {
	return fmt.Sprintf("all %d tasks in batch failed", e.Size)
}

// InsufficientDataError records that reflection could not reach
// sufficiency within the iteration budget. The run still advances and
// completes with Partial set; this error only annotates the outcome.
type InsufficientDataError struct {
	Phase      Phase
	Iterations int
}

func (e InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data after %d iterations in %s", e.Iterations, e.Phase)
}

// ErrPlanNotApproved is returned when Execute is called before the plan
// approval gate has been passed.
var ErrPlanNotApproved = fmt.Errorf("research plan has not been approved")
