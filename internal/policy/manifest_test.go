package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "devguard/pkg/domain-errors"
)

const sampleManifest = `
disclaimer: Authorized service only.
banned_terms:
  - "  iCloud Bypass "
  - stolen
gates:
  - id: ownership
    name: Ownership attestation
    type: ownership_attestation
    required: true
    requirements:
      phrase: I CONFIRM AUTHORIZED SERVICE
  - id: evidence
    type: evidence_completeness
    required: true
    requirements:
      minimum_score: 80
    applies_to:
      risk_levels: [high, destructive]
  - id: intent
    type: blocked_intent
    required: true
    requirements:
      keywords: [stolen]
  - id: erase
    type: destructive_confirmation
    required: true
    applies_to:
      categories: [recovery]
      risk_levels: [destructive]
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)

	assert.Equal(t, "Authorized service only.", m.Disclaimer)
	require.Len(t, m.Gates, 4)
	assert.Equal(t, GateOwnershipAttestation, m.Gates[0].Type)
	assert.Equal(t, "I CONFIRM AUTHORIZED SERVICE", m.Gates[0].Requirements.Phrase)
	assert.Equal(t, 80, m.Gates[1].Requirements.MinimumScore)
	assert.Equal(t, []string{"high", "destructive"}, m.Gates[1].AppliesTo.RiskLevels)
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantMsg string
	}{
		{"empty document", "  \n", "empty"},
		{"malformed yaml", "gates: [", "decode"},
		{"missing id", "gates:\n  - type: blocked_intent\n", "id is required"},
		{"duplicate id", "gates:\n  - id: a\n    type: blocked_intent\n  - id: a\n    type: blocked_intent\n", "duplicate"},
		{"unknown type", "gates:\n  - id: a\n    type: geo_fence\n", "geo_fence"},
		{"score out of range", "gates:\n  - id: a\n    type: evidence_completeness\n    requirements:\n      minimum_score: 150\n", "0-100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file is not found", func(t *testing.T) {
		_, err := LoadManifest(filepath.Join(dir, "absent.yaml"))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("reads a file from disk", func(t *testing.T) {
		path := filepath.Join(dir, "gates.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleManifest), 0o600))

		m, err := LoadManifest(path)
		require.NoError(t, err)
		assert.Len(t, m.Gates, 4)
	})

	t.Run("validation errors name the file", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("gates:\n  - type: blocked_intent\n"), 0o600))

		_, err := LoadManifest(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), path)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestMemoryGateStore(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)
	store := NewMemoryGateStore(m)

	t.Run("banned terms are folded into blocked_intent gates", func(t *testing.T) {
		var intent Gate
		for _, g := range store.All() {
			if g.ID == "intent" {
				intent = g
			}
		}
		assert.Equal(t, []string{"stolen", "icloud bypass"}, intent.Requirements.Keywords)
		assert.Equal(t, []string{"stolen"}, m.Gates[2].Requirements.Keywords, "manifest must not be mutated")
	})

	t.Run("selectors filter by category and risk", func(t *testing.T) {
		ids := func(gates []Gate) []string {
			var out []string
			for _, g := range gates {
				out = append(out, g.ID)
			}
			return out
		}
		assert.Equal(t, []string{"ownership", "intent"}, ids(store.ForWorkflow("diagnostics", "low")))
		assert.Equal(t, []string{"ownership", "evidence", "intent"}, ids(store.ForWorkflow("firmware", "high")))
		assert.Equal(t, []string{"ownership", "evidence", "intent", "erase"}, ids(store.ForWorkflow("recovery", "destructive")))
	})

	t.Run("returned gates are copies", func(t *testing.T) {
		gates := store.ForWorkflow("diagnostics", "low")
		gates[1].Requirements.Keywords[0] = "mutated"
		again := store.ForWorkflow("diagnostics", "low")
		assert.Equal(t, "stolen", again[1].Requirements.Keywords[0])
	})

	t.Run("nil manifest yields an empty store", func(t *testing.T) {
		empty := NewMemoryGateStore(nil)
		assert.Empty(t, empty.All())
		assert.Empty(t, empty.Disclaimer())
	})

	assert.Equal(t, "Authorized service only.", store.Disclaimer())
}

func TestShippedManifestLoads(t *testing.T) {
	m, err := LoadManifest(filepath.Join("..", "..", "config", "gates.yaml"))
	require.NoError(t, err)

	store := NewMemoryGateStore(m)
	assert.NotEmpty(t, store.Disclaimer())

	destructive := store.ForWorkflow("recovery", "destructive")
	ids := make([]string, 0, len(destructive))
	for _, g := range destructive {
		ids = append(ids, g.ID)
	}
	assert.Contains(t, ids, "erase-confirmation")
	assert.NotContains(t, ids, "ownership")

	for _, g := range store.All() {
		if g.Type == GateBlockedIntent {
			assert.Contains(t, g.Requirements.Keywords, "frp bypass")
		}
	}
}
