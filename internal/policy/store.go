package policy

import (
	strs "devguard/pkg/platform/strings"
)

// MemoryGateStore serves the gates of a loaded manifest. It is read-only after
// construction; gates are cloned on the way in and out so callers never share
// slices with the store, which keeps it safe for concurrent readers.
type MemoryGateStore struct {
	gates      []Gate
	disclaimer string
}

// NewMemoryGateStore builds a store from a manifest, folding the global
// banned terms into every blocked_intent gate. Keywords are trimmed,
// lowercased and deduplicated.
func NewMemoryGateStore(m *Manifest) *MemoryGateStore {
	s := &MemoryGateStore{}
	if m == nil {
		return s
	}
	s.disclaimer = m.Disclaimer
	s.gates = make([]Gate, 0, len(m.Gates))
	for _, g := range m.Gates {
		g = cloneGate(g)
		if g.Type == GateBlockedIntent {
			g.Requirements.Keywords = strs.DedupeAndTrimLower(append(g.Requirements.Keywords, m.BannedTerms...))
		}
		s.gates = append(s.gates, g)
	}
	return s
}

// All returns every gate in manifest order.
func (s *MemoryGateStore) All() []Gate {
	out := make([]Gate, 0, len(s.gates))
	for _, g := range s.gates {
		out = append(out, cloneGate(g))
	}
	return out
}

// ForWorkflow returns the gates whose selector admits the workflow, in
// manifest order.
func (s *MemoryGateStore) ForWorkflow(category, riskLevel string) []Gate {
	var out []Gate
	for _, g := range s.gates {
		if g.AppliesTo.Matches(category, riskLevel) {
			out = append(out, cloneGate(g))
		}
	}
	return out
}

// Disclaimer returns the manifest's operator-facing disclaimer text.
func (s *MemoryGateStore) Disclaimer() string {
	return s.disclaimer
}

func cloneGate(g Gate) Gate {
	g.Requirements.Keywords = cloneStrings(g.Requirements.Keywords)
	g.AppliesTo.Categories = cloneStrings(g.AppliesTo.Categories)
	g.AppliesTo.RiskLevels = cloneStrings(g.AppliesTo.RiskLevels)
	return g
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
