package policy

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devguard/internal/policy/metrics"
	"devguard/pkg/requestcontext"
)

type staticSource []Gate

func (s staticSource) ForWorkflow(_, _ string) []Gate { return s }

func TestChecker_Check(t *testing.T) {
	ctx := requestcontext.WithTime(context.Background(), evalTime)
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	source := staticSource{
		{ID: "ownership", Type: GateOwnershipAttestation, Required: true,
			Requirements: Requirements{Phrase: "I CONFIRM AUTHORIZED SERVICE"}},
		{ID: "trust", Type: GateDeviceAuthorization, Required: true},
	}
	checker := NewChecker(source, WithMetrics(m))

	t.Run("typed phrase mismatch blocks admission", func(t *testing.T) {
		d := checker.Check(ctx, "firmware", "high", GateContext{
			CaseID:    "case-1",
			Ownership: confirmedOwnership(),
			UserInput: "i confirm",
		})
		assert.True(t, d.Blocked)
		assert.Contains(t, d.BlockingReason, "I CONFIRM AUTHORIZED SERVICE")
		require.Len(t, d.Results, 2)
		assert.Equal(t, evalTime, d.Results[0].EvaluatedAt, "results are stamped from the request clock")

		assert.Equal(t, float64(1), testutil.ToFloat64(m.Blocked.WithLabelValues("firmware")))
		assert.Equal(t, float64(1), testutil.ToFloat64(
			m.Evaluations.WithLabelValues(string(GateOwnershipAttestation), string(StatusBlocked))))
	})

	t.Run("explicit timestamp is preserved", func(t *testing.T) {
		at := evalTime.Add(-1)
		d := checker.Check(ctx, "firmware", "high", GateContext{At: at})
		assert.Equal(t, at, d.Results[0].EvaluatedAt)
	})

	t.Run("nil source admits everything", func(t *testing.T) {
		d := NewChecker(nil).Check(ctx, "diagnostics", "low", GateContext{})
		assert.True(t, d.AllPassed)
		assert.False(t, d.Blocked)
	})
}
