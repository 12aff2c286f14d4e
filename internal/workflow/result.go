package workflow

import "time"

// RollbackStepID names the synthetic result appended after a rollback pass.
const RollbackStepID = "rollback"

// StepResult is the outcome of one executed step. RetriedCount is set for
// steps run under the retry policy: the number of re-attempts used.
type StepResult struct {
	StepID       string    `json:"stepId"`
	StepName     string    `json:"stepName"`
	Index        int       `json:"index"`
	Success      bool      `json:"success"`
	Output       string    `json:"output,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	RetriedCount *int      `json:"retriedCount,omitempty"`
	Details      any       `json:"details,omitempty"`
}

// Status is the terminal state of one invocation.
type Status string

const (
	StatusCompleted             Status = "completed"
	StatusFailed                Status = "failed"
	StatusRolledBack            Status = "rolled_back"
	StatusBlocked               Status = "blocked"
	StatusCancelled             Status = "cancelled"
	StatusAuthorizationRequired Status = "authorization_required"
)

// Result is what an invocation returns to its caller.
type Result struct {
	ExecutionID           string       `json:"executionId"`
	WorkflowID            string       `json:"workflowId"`
	WorkflowName          string       `json:"workflowName"`
	Status                Status       `json:"status"`
	Success               bool         `json:"success"`
	Results               []StepResult `json:"results"`
	FailedStepIndex       *int         `json:"failedStepIndex,omitempty"`
	RolledBack            bool         `json:"rolledBack,omitempty"`
	Blocked               bool         `json:"blocked,omitempty"`
	Cancelled             bool         `json:"cancelled,omitempty"`
	AuthorizationRequired bool         `json:"authorizationRequired,omitempty"`
	AuthorizationPrompt   string       `json:"authorizationPrompt,omitempty"`
	Reason                string       `json:"reason,omitempty"`
	StartedAt             time.Time    `json:"startedAt"`
	FinishedAt            time.Time    `json:"finishedAt"`
}
