package orchestrator

import "fmt"

// ConfigError means the task cannot run with the current settings. It is never retried and
// never counted against a provider.
type ConfigError struct {
	Task   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task %s: %s: %v", e.Task, e.Reason, e.Err)
	}

	return fmt.Sprintf("task %s: %s", e.Task, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// TaskError carries the task context of a failed provider call.
type TaskError struct {
	Task     string
	Provider string
	Model    string
	Err      error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed (provider %s, model %s): %v", e.Task, e.Provider, e.Model, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
