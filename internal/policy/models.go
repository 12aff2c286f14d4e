// Package policy decides whether a sensitive device operation may proceed.
//
// Gates are configuration data loaded once from the manifest. Evaluation is a
// pure function of (gate, context): no I/O, no shared state, no clock reads.
// The evaluation timestamp comes from GateContext.At so that repeated calls
// with the same inputs produce identical results.
package policy

import (
	"time"

	dErrors "devguard/pkg/domain-errors"
)

// GateType identifies the evaluator that handles a gate.
type GateType string

const (
	GateOwnershipAttestation    GateType = "ownership_attestation"
	GateEvidenceCompleteness    GateType = "evidence_completeness"
	GateDeviceAuthorization     GateType = "device_authorization"
	GateDestructiveConfirmation GateType = "destructive_confirmation"
	GateBlockedIntent           GateType = "blocked_intent"
)

// GateTypes lists every supported gate type. Each must have an evaluator.
var GateTypes = []GateType{
	GateOwnershipAttestation,
	GateEvidenceCompleteness,
	GateDeviceAuthorization,
	GateDestructiveConfirmation,
	GateBlockedIntent,
}

// ParseGateType validates a gate type from external input.
func ParseGateType(s string) (GateType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "gate type cannot be empty")
	}
	for _, t := range GateTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", dErrors.Newf(dErrors.CodeInvalidInput, "unsupported gate type %q", s)
}

// Status is the outcome of a single gate evaluation.
type Status string

const (
	StatusPending       Status = "pending"
	StatusPassed        Status = "passed"
	StatusFailed        Status = "failed"
	StatusBlocked       Status = "blocked"
	StatusNotApplicable Status = "not_applicable"
)

// Defaults applied when a gate omits its requirement.
const (
	DefaultMinimumEvidenceScore = 70
	DefaultDestructivePhrase    = "ERASE AND RESTORE"
)

// Requirements carries the type-specific configuration of a gate.
type Requirements struct {
	// Phrase is the typed confirmation the operator must enter verbatim.
	Phrase string `json:"phrase,omitempty" yaml:"phrase,omitempty"`
	// MinimumScore is the lowest acceptable evidence score (0-100).
	MinimumScore int `json:"minimum_score,omitempty" yaml:"minimum_score,omitempty"`
	// Keywords is the blocklist scanned by blocked_intent gates.
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// Selector limits a gate to workflows of given categories and risk levels.
// Empty lists match everything.
type Selector struct {
	Categories []string `json:"categories,omitempty" yaml:"categories,omitempty"`
	RiskLevels []string `json:"risk_levels,omitempty" yaml:"risk_levels,omitempty"`
}

// Matches reports whether the selector admits a workflow.
func (s Selector) Matches(category, riskLevel string) bool {
	return matchOrEmpty(s.Categories, category) && matchOrEmpty(s.RiskLevels, riskLevel)
}

func matchOrEmpty(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Gate is a named admission check. Read-only once loaded.
type Gate struct {
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name,omitempty" yaml:"name,omitempty"`
	Type         GateType     `json:"type" yaml:"type"`
	Required     bool         `json:"required" yaml:"required"`
	Requirements Requirements `json:"requirements,omitempty" yaml:"requirements,omitempty"`
	AppliesTo    Selector     `json:"applies_to,omitempty" yaml:"applies_to,omitempty"`
}

// OwnershipVerification is the case's proof-of-ownership record.
type OwnershipVerification struct {
	AttestationConfirmed bool      `json:"attestation_confirmed"`
	Method               string    `json:"method,omitempty"`
	VerifiedAt           time.Time `json:"verified_at,omitempty"`
}

// Platform names recognised by the device_authorization gate.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

// TrustState captures platform trust facts gathered from the attached device.
type TrustState struct {
	Platform string `json:"platform"`
	// IOSPaired is true when the host is paired with the iOS device.
	IOSPaired bool `json:"ios_paired,omitempty"`
	// ADBAuthorized is true when the Android device accepted the host's ADB key.
	ADBAuthorized bool `json:"adb_authorized,omitempty"`
}

// MetadataInputText is the metadata key scanned by blocked_intent gates.
const MetadataInputText = "inputText"

// GateContext is the snapshot a gate is evaluated against. It is built fresh
// per evaluation and never mutated by evaluators.
type GateContext struct {
	CaseID        string                 `json:"case_id"`
	Ownership     *OwnershipVerification `json:"ownership,omitempty"`
	Trust         *TrustState            `json:"trust,omitempty"`
	EvidenceScore *int                   `json:"evidence_score,omitempty"`
	UserInput     string                 `json:"user_input,omitempty"`
	Metadata      map[string]string      `json:"metadata,omitempty"`
	// At stamps every result produced from this context.
	At time.Time `json:"at"`
}

// Result is the outcome of evaluating one gate.
type Result struct {
	GateID      string    `json:"gate_id"`
	GateType    GateType  `json:"gate_type"`
	Status      Status    `json:"status"`
	Passed      bool      `json:"passed"`
	Blocked     bool      `json:"blocked"`
	Reason      string    `json:"reason"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Decision aggregates the results of a gate set.
type Decision struct {
	Results        []Result `json:"results"`
	AllPassed      bool     `json:"all_passed"`
	Blocked        bool     `json:"blocked"`
	BlockingReason string   `json:"blocking_reason,omitempty"`
}
