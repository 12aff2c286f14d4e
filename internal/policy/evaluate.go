package policy

import (
	"fmt"
	"strings"
)

// outcome is what a type evaluator decides before the gate's required flag
// is applied.
type outcome struct {
	status Status
	reason string
}

func pass(reason string) outcome {
	return outcome{status: StatusPassed, reason: reason}
}

func fail(reason string) outcome {
	return outcome{status: StatusFailed, reason: reason}
}

func notApplicable(reason string) outcome {
	return outcome{status: StatusNotApplicable, reason: reason}
}

type evaluator func(gate Gate, gctx GateContext) outcome

// informational gates report but never block.
type gateRule struct {
	fn            evaluator
	informational bool
}

// evaluators is the single dispatch table; TestEvaluatorsCoverEveryGateType
// keeps it in sync with GateTypes.
var evaluators = map[GateType]gateRule{
	GateOwnershipAttestation:    {fn: evaluateOwnership},
	GateEvidenceCompleteness:    {fn: evaluateEvidence},
	GateDeviceAuthorization:     {fn: evaluateDeviceAuthorization, informational: true},
	GateDestructiveConfirmation: {fn: evaluateDestructiveConfirmation},
	GateBlockedIntent:           {fn: evaluateBlockedIntent},
}

// Evaluate decides one gate against a context snapshot.
// This is pure domain logic - no I/O, no side effects.
//
// A failing required gate is blocked. A failing non-required gate reports
// failed without blocking. Unknown gate types are blocked when required so a
// misconfigured manifest fails closed.
func Evaluate(gate Gate, gctx GateContext) Result {
	res := Result{
		GateID:      gate.ID,
		GateType:    gate.Type,
		EvaluatedAt: gctx.At,
	}

	rule, ok := evaluators[gate.Type]
	if !ok {
		res.Status = StatusFailed
		res.Reason = fmt.Sprintf("unsupported gate type %q", gate.Type)
		if gate.Required {
			res.Status = StatusBlocked
			res.Blocked = true
		}
		return res
	}

	out := rule.fn(gate, gctx)
	res.Reason = out.reason
	switch out.status {
	case StatusPassed, StatusNotApplicable:
		res.Status = out.status
		res.Passed = true
	default:
		res.Status = StatusFailed
		if gate.Required && !rule.informational {
			res.Status = StatusBlocked
			res.Blocked = true
		}
	}
	return res
}

func evaluateOwnership(gate Gate, gctx GateContext) outcome {
	if gctx.Ownership == nil {
		return fail("ownership verification is required before this operation")
	}
	if !gctx.Ownership.AttestationConfirmed {
		return fail("ownership attestation has not been confirmed")
	}
	if phrase := gate.Requirements.Phrase; phrase != "" && gctx.UserInput != phrase {
		return fail(fmt.Sprintf("typed confirmation must exactly match %q", phrase))
	}
	return pass("ownership attested")
}

func evaluateEvidence(gate Gate, gctx GateContext) outcome {
	minimum := gate.Requirements.MinimumScore
	if minimum <= 0 {
		minimum = DefaultMinimumEvidenceScore
	}
	if gctx.EvidenceScore == nil {
		return fail("evidence score is required")
	}
	if score := *gctx.EvidenceScore; score < minimum {
		return fail(fmt.Sprintf("evidence score %d is below the required minimum of %d", score, minimum))
	}
	return pass("evidence complete")
}

func evaluateDeviceAuthorization(_ Gate, gctx GateContext) outcome {
	if gctx.Trust == nil {
		return notApplicable("no device trust data available")
	}
	switch strings.ToLower(gctx.Trust.Platform) {
	case PlatformIOS:
		if gctx.Trust.IOSPaired {
			return pass("iOS device is paired with this host")
		}
		return fail("iOS device is not paired with this host")
	case PlatformAndroid:
		if gctx.Trust.ADBAuthorized {
			return pass("ADB authorization granted")
		}
		return fail("ADB authorization has not been granted on the device")
	default:
		return notApplicable(fmt.Sprintf("platform %q has no trust check", gctx.Trust.Platform))
	}
}

func evaluateDestructiveConfirmation(gate Gate, gctx GateContext) outcome {
	phrase := gate.Requirements.Phrase
	if phrase == "" {
		phrase = DefaultDestructivePhrase
	}
	if gctx.UserInput != phrase {
		return fail(fmt.Sprintf("type %q to confirm this destructive operation", phrase))
	}
	return pass("destructive operation confirmed")
}

func evaluateBlockedIntent(gate Gate, gctx GateContext) outcome {
	text := gctx.Metadata[MetadataInputText]
	if text == "" {
		return pass("no input text to scan")
	}
	lowered := strings.ToLower(text)
	for _, kw := range gate.Requirements.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return fail(fmt.Sprintf("request matches blocked term %q", kw))
		}
	}
	return pass("no blocked terms found")
}

// EvaluateAll evaluates gates in order and reduces the results. Gates are
// independent: order only decides which reason is reported when several block.
func EvaluateAll(gates []Gate, gctx GateContext) Decision {
	decision := Decision{
		Results:   make([]Result, 0, len(gates)),
		AllPassed: true,
	}
	for _, gate := range gates {
		res := Evaluate(gate, gctx)
		decision.Results = append(decision.Results, res)
		if !res.Passed {
			decision.AllPassed = false
		}
		if res.Blocked && !decision.Blocked {
			decision.Blocked = true
			decision.BlockingReason = res.Reason
		}
	}
	return decision
}
