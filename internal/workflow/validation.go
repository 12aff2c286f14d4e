package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	dErrors "devguard/pkg/domain-errors"
)

// FieldError is a single validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is the structured result of a failed validation.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return strings.Join(parts, "; ")
}

func (v *ValidationErrors) add(field, format string, args ...any) {
	*v = append(*v, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// FieldErrors extracts the structured list from a validation error chain.
func FieldErrors(err error) (ValidationErrors, bool) {
	var v ValidationErrors
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// Parse decodes a definition from its JSON file form and validates it.
// Malformed JSON and wrongly typed fields are reported as validation errors.
func Parse(data []byte) (Definition, error) {
	var def Definition
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&def); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field := typeErr.Field
			if field == "" {
				field = "definition"
			}
			errs := ValidationErrors{{Field: field, Message: fmt.Sprintf("must be of type %s", typeErr.Type)}}
			return Definition{}, dErrors.Wrap(errs, dErrors.CodeValidation, "workflow definition is invalid")
		}
		errs := ValidationErrors{{Field: "definition", Message: "malformed JSON: " + err.Error()}}
		return Definition{}, dErrors.Wrap(errs, dErrors.CodeValidation, "workflow definition is invalid")
	}
	if err := Validate(def); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Validate checks a definition and returns every problem found, wrapped with
// CodeValidation. A nil return means the definition may be executed.
func Validate(def Definition) error {
	var errs ValidationErrors

	if def.ID == "" {
		errs.add("id", "is required")
	}
	if def.Name == "" {
		errs.add("name", "is required")
	}
	if !def.Platform.IsValid() {
		errs.add("platform", "must be one of %s", join(platforms))
	}
	if !def.Category.IsValid() {
		errs.add("category", "must be one of %s", join(Categories))
	}
	if !def.RiskLevel.IsValid() {
		errs.add("risk_level", "must be one of %s", join(riskLevels))
	}
	if def.RequiresAuthorization && strings.TrimSpace(def.AuthorizationPrompt) == "" {
		errs.add("authorization_prompt", "is required when requires_authorization is true")
	}
	if len(def.Steps) == 0 {
		errs.add("steps", "at least one step is required")
	}

	seen := make(map[string]struct{}, len(def.Steps))
	for idx, step := range def.Steps {
		validateStep(&errs, fmt.Sprintf("steps[%d]", idx), step, seen)
	}
	seenRollback := make(map[string]struct{}, len(def.RollbackSteps))
	for idx, step := range def.RollbackSteps {
		validateStep(&errs, fmt.Sprintf("rollback_steps[%d]", idx), step, seenRollback)
	}
	for idx, step := range def.Steps {
		if step.RollbackStepID == "" {
			continue
		}
		if _, ok := def.StepByID(step.RollbackStepID); !ok {
			errs.add(fmt.Sprintf("steps[%d].rollback_step_id", idx), "references unknown step %q", step.RollbackStepID)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	msg := "workflow definition is invalid"
	if def.ID != "" {
		msg = fmt.Sprintf("workflow %s is invalid", def.ID)
	}
	return dErrors.Wrap(errs, dErrors.CodeValidation, msg)
}

func validateStep(errs *ValidationErrors, path string, step Step, seen map[string]struct{}) {
	if step.ID == "" {
		errs.add(path+".id", "is required")
	} else {
		if _, dup := seen[step.ID]; dup {
			errs.add(path+".id", "duplicate step id %q", step.ID)
		}
		seen[step.ID] = struct{}{}
	}
	if step.Name == "" {
		errs.add(path+".name", "is required")
	}
	if !step.Type.IsValid() {
		errs.add(path+".type", "must be one of %s", join(StepTypes))
	}
	if step.OnFailure != "" && !step.OnFailure.IsValid() {
		errs.add(path+".on_failure", "must be one of %s", join(failurePolicies))
	}
	if step.RetryCount < 0 {
		errs.add(path+".retry_count", "must not be negative")
	}
	if step.TimeoutSeconds < 0 {
		errs.add(path+".timeout", "must not be negative")
	}
	if step.DurationSeconds < 0 {
		errs.add(path+".duration", "must not be negative")
	}
	switch step.Type {
	case StepCommand:
		if strings.TrimSpace(step.Action) == "" {
			errs.add(path+".action", "is required for command steps")
		}
	case StepPrompt:
		if step.RequiredInput == "" {
			errs.add(path+".required_input", "is required for prompt steps")
		}
	case StepLog:
		if step.LogTarget != "" && step.LogTarget != LogTargetPublic && step.LogTarget != LogTargetShadow {
			errs.add(path+".log_target", "must be public or shadow")
		}
	}
}

// Sanitize returns a copy of def with defaults filled in. The caller's value
// and its step slices are left untouched. A non-positive defaultTimeout falls
// back to DefaultStepTimeout.
func Sanitize(def Definition, defaultTimeout time.Duration) Definition {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultStepTimeout
	}
	out := def.Clone()
	for i := range out.Steps {
		sanitizeStep(&out.Steps[i], defaultTimeout)
	}
	for i := range out.RollbackSteps {
		sanitizeStep(&out.RollbackSteps[i], defaultTimeout)
	}
	return out
}

func sanitizeStep(s *Step, defaultTimeout time.Duration) {
	if s.OnFailure == "" {
		s.OnFailure = OnFailureAbort
	}
	if s.TimeoutSeconds == 0 {
		s.TimeoutSeconds = int(defaultTimeout / time.Second)
	}
	if s.Type == StepLog && s.LogTarget == "" {
		s.LogTarget = LogTargetPublic
	}
	if s.OnFailure == OnFailureRetry && s.RetryCount == 0 {
		s.RetryCount = DefaultRetryCount
	}
}

func join[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}
