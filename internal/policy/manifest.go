package policy

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	dErrors "devguard/pkg/domain-errors"
)

// Manifest is the static gate configuration loaded once at startup.
type Manifest struct {
	Gates []Gate `yaml:"gates"`
	// BannedTerms are appended to the keyword list of every blocked_intent gate.
	BannedTerms []string `yaml:"banned_terms,omitempty"`
	Disclaimer  string   `yaml:"disclaimer,omitempty"`
}

// ParseManifest decodes and validates a manifest from YAML bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "gate manifest is empty")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "decode gate manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, fmt.Sprintf("gate manifest %s", path))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("read gate manifest %s", path))
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Validate checks gate ids are present and unique and every type is known.
func (m *Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Gates))
	for idx, gate := range m.Gates {
		if gate.ID == "" {
			return dErrors.Newf(dErrors.CodeValidation, "gate[%d]: id is required", idx)
		}
		if _, dup := seen[gate.ID]; dup {
			return dErrors.Newf(dErrors.CodeValidation, "gate %s: duplicate id", gate.ID)
		}
		seen[gate.ID] = struct{}{}
		if _, err := ParseGateType(string(gate.Type)); err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("gate %s", gate.ID))
		}
		if gate.Requirements.MinimumScore < 0 || gate.Requirements.MinimumScore > 100 {
			return dErrors.Newf(dErrors.CodeValidation, "gate %s: minimum_score must be within 0-100", gate.ID)
		}
	}
	return nil
}
