// Package workflow holds declarative device-service procedures: their shape,
// validation and default filling. Execution lives in workflow/engine.
package workflow

import (
	"time"
)

// RiskLevel classifies how dangerous a workflow is. High and destructive
// workflows are mirrored to the encrypted shadow log.
type RiskLevel string

const (
	RiskLow         RiskLevel = "low"
	RiskMedium      RiskLevel = "medium"
	RiskHigh        RiskLevel = "high"
	RiskDestructive RiskLevel = "destructive"
)

var riskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskDestructive}

// IsValid reports whether r is a known risk level.
func (r RiskLevel) IsValid() bool {
	return contains(riskLevels, r)
}

// RequiresShadow reports whether events at this risk level must reach the
// shadow log.
func (r RiskLevel) RequiresShadow() bool {
	return r == RiskHigh || r == RiskDestructive
}

type Platform string

const (
	PlatformAndroid   Platform = "android"
	PlatformIOS       Platform = "ios"
	PlatformUniversal Platform = "universal"
)

var platforms = []Platform{PlatformAndroid, PlatformIOS, PlatformUniversal}

func (p Platform) IsValid() bool {
	return contains(platforms, p)
}

type Category string

const (
	CategoryBootloader  Category = "bootloader"
	CategoryLockBypass  Category = "lock_bypass"
	CategoryFirmware    Category = "firmware"
	CategoryDiagnostics Category = "diagnostics"
	CategoryRecovery    Category = "recovery"
)

// Categories lists every category; the definition store keeps one directory
// per category.
var Categories = []Category{
	CategoryBootloader,
	CategoryLockBypass,
	CategoryFirmware,
	CategoryDiagnostics,
	CategoryRecovery,
}

func (c Category) IsValid() bool {
	return contains(Categories, c)
}

// ParseCategory validates a category from external input.
func ParseCategory(s string) (Category, bool) {
	c := Category(s)
	return c, c.IsValid()
}

// StepType selects the handler that runs a step.
type StepType string

const (
	StepCommand StepType = "command"
	StepCheck   StepType = "check"
	StepWait    StepType = "wait"
	StepPrompt  StepType = "prompt"
	StepLog     StepType = "log"
)

// StepTypes lists every step type. The engine keeps one handler per entry.
var StepTypes = []StepType{StepCommand, StepCheck, StepWait, StepPrompt, StepLog}

func (t StepType) IsValid() bool {
	return contains(StepTypes, t)
}

// OnFailure is the policy applied when a step fails.
type OnFailure string

const (
	OnFailureAbort    OnFailure = "abort"
	OnFailureRetry    OnFailure = "retry"
	OnFailureContinue OnFailure = "continue"
)

var failurePolicies = []OnFailure{OnFailureAbort, OnFailureRetry, OnFailureContinue}

func (f OnFailure) IsValid() bool {
	return contains(failurePolicies, f)
}

// LogTarget names the audit stream a log step writes to.
type LogTarget string

const (
	LogTargetPublic LogTarget = "public"
	LogTargetShadow LogTarget = "shadow"
)

// Defaults filled by Sanitize.
const (
	DefaultStepTimeout = 30 * time.Second
	DefaultRetryCount  = 1
)

// Definition is a declarative procedure. It is immutable once loaded; the
// engine works on a sanitized clone.
type Definition struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Description           string    `json:"description,omitempty"`
	Platform              Platform  `json:"platform"`
	Category              Category  `json:"category"`
	RiskLevel             RiskLevel `json:"risk_level"`
	RequiresAuthorization bool      `json:"requires_authorization"`
	AuthorizationPrompt   string    `json:"authorization_prompt,omitempty"`
	Steps                 []Step    `json:"steps"`
	RollbackSupported     bool      `json:"rollback_supported"`
	RollbackSteps         []Step    `json:"rollback_steps,omitempty"`
}

// Step is one unit of a procedure.
type Step struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Type StepType `json:"type"`
	// Action is the device command for command steps and the check name for
	// check steps.
	Action         string    `json:"action,omitempty"`
	OnFailure      OnFailure `json:"on_failure,omitempty"`
	RetryCount     int       `json:"retry_count,omitempty"`
	RollbackStepID string    `json:"rollback_step_id,omitempty"`
	// TimeoutSeconds bounds a command step's device I/O.
	TimeoutSeconds int `json:"timeout,omitempty"`
	// DurationSeconds is how long a wait step suspends the invocation.
	DurationSeconds int `json:"duration,omitempty"`
	// Prompt and RequiredInput drive prompt steps.
	Prompt        string `json:"prompt,omitempty"`
	RequiredInput string `json:"required_input,omitempty"`
	// LogTarget and Message drive log steps.
	LogTarget LogTarget `json:"log_target,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Timeout returns the step's timeout as a duration; zero means unset.
func (s Step) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Duration returns the wait duration.
func (s Step) Duration() time.Duration {
	return time.Duration(s.DurationSeconds) * time.Second
}

// Retries returns the number of re-attempts a retry step is allowed.
func (s Step) Retries() int {
	if s.RetryCount <= 0 {
		return DefaultRetryCount
	}
	return s.RetryCount
}

// Clone returns a deep copy of the definition.
func (d Definition) Clone() Definition {
	clone := d
	clone.Steps = cloneSteps(d.Steps)
	clone.RollbackSteps = cloneSteps(d.RollbackSteps)
	return clone
}

// StepByID looks id up in steps first, then in rollback_steps.
func (d Definition) StepByID(id string) (Step, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	for _, s := range d.RollbackSteps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Summary is the listing view of a definition.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  Category  `json:"category"`
	Platform  Platform  `json:"platform"`
	RiskLevel RiskLevel `json:"risk_level"`
	Steps     int       `json:"steps"`
}

// Summarize returns the listing view of d.
func (d Definition) Summarize() Summary {
	return Summary{
		ID:        d.ID,
		Name:      d.Name,
		Category:  d.Category,
		Platform:  d.Platform,
		RiskLevel: d.RiskLevel,
		Steps:     len(d.Steps),
	}
}

func cloneSteps(in []Step) []Step {
	if in == nil {
		return nil
	}
	out := make([]Step, len(in))
	copy(out, in)
	return out
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
