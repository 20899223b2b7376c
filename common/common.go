// Package common holds the small shared value types used across the
// workflow engine: dynamic input/output maps, environment overlays, and
// ID generation. It mirrors the lineage's engine/common package, scoped
// down to what the runtime actually needs.
package common

import (
	"fmt"
	"maps"

	"dario.cat/mergo"
	"github.com/google/uuid"
)

// Input is a free-form mapping, as decoded from YAML/JSON. Step config,
// trigger payloads, and action outputs are all represented this way so the
// interpolator and executor can stay structurally typed rather than
// reaching for a bespoke tagged-value tree.
type Input map[string]any

// Output is an action's or step's return value.
type Output map[string]any

// EnvMap is a string-to-string environment overlay.
type EnvMap map[string]string

// Merge overlays other on top of e, with other's values winning on
// conflict. A nil receiver is treated as empty.
func (e EnvMap) Merge(other EnvMap) (EnvMap, error) {
	result := make(EnvMap, len(e)+len(other))
	maps.Copy(result, e)
	if err := mergo.Merge(&result, other, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge env: %w", err)
	}
	return result, nil
}

// NewRunID generates a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}
