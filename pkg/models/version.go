package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VersionStatus defines the lifecycle status of a model version
type VersionStatus string

const (
	VersionStatusRegistered VersionStatus = "registered"
	VersionStatusStaged     VersionStatus = "staged"
	VersionStatusActive     VersionStatus = "active"
	VersionStatusSuperseded VersionStatus = "superseded"
	VersionStatusRetired    VersionStatus = "retired"
)

// CanTransitionTo reports whether the lifecycle permits moving to next.
// Versions never return to registered; active versions leave only through
// superseded; retired and superseded are terminal apart from purge.
func (s VersionStatus) CanTransitionTo(next VersionStatus) bool {
	switch s {
	case VersionStatusRegistered:
		return next == VersionStatusStaged || next == VersionStatusActive || next == VersionStatusRetired
	case VersionStatusStaged:
		return next == VersionStatusActive || next == VersionStatusRetired
	case VersionStatusActive:
		return next == VersionStatusSuperseded
	case VersionStatusSuperseded:
		return next == VersionStatusActive // reactivated by rollback
	default:
		return false
	}
}

// VersionBump selects which component of the semantic version to increment
type VersionBump string

const (
	BumpPatch VersionBump = "patch"
	BumpMinor VersionBump = "minor"
	BumpMajor VersionBump = "major"
)

// SemanticVersion identifies a model version as (major, minor, patch)
type SemanticVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// String returns the canonical "major.minor.patch" form
func (v SemanticVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0, or 1 when v is less than, equal to, or greater than other
func (v SemanticVersion) Compare(other SemanticVersion) int {
	if v.Major != other.Major {
		if v.Major < other.Major {
			return -1
		}
		return 1
	}
	if v.Minor != other.Minor {
		if v.Minor < other.Minor {
			return -1
		}
		return 1
	}
	if v.Patch != other.Patch {
		if v.Patch < other.Patch {
			return -1
		}
		return 1
	}
	return 0
}

// Bump returns the next version after applying the requested bump
func (v SemanticVersion) Bump(bump VersionBump) SemanticVersion {
	switch bump {
	case BumpMajor:
		return SemanticVersion{Major: v.Major + 1}
	case BumpMinor:
		return SemanticVersion{Major: v.Major, Minor: v.Minor + 1}
	default:
		return SemanticVersion{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
	}
}

// ParseSemanticVersion parses a "major.minor.patch" string
func ParseSemanticVersion(s string) (SemanticVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return SemanticVersion{}, fmt.Errorf("invalid version %q: expected major.minor.patch", s)
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return SemanticVersion{}, fmt.Errorf("invalid version %q: component %q is not a non-negative integer", s, p)
		}
		nums[i] = n
	}

	return SemanticVersion{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// ModelVersion represents a registered model artifact version.
// Identity is (model_name, version); the artifact reference and training
// metrics are immutable once registered, only status and tags may change.
type ModelVersion struct {
	ModelName       string             `json:"model_name"`
	Version         SemanticVersion    `json:"version"`
	ArtifactRef     string             `json:"artifact_ref"`
	ModelKind       string             `json:"model_kind,omitempty"`
	Description     string             `json:"description,omitempty"`
	Tags            []string           `json:"tags,omitempty"`
	TrainingMetrics map[string]float64 `json:"training_metrics,omitempty"`
	Status          VersionStatus      `json:"status"`
	CreatedBy       string             `json:"created_by,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

// HasTag reports whether the version carries the given tag
func (m *ModelVersion) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so snapshot readers never share mutable state
func (m *ModelVersion) Clone() *ModelVersion {
	c := *m
	if m.Tags != nil {
		c.Tags = append([]string(nil), m.Tags...)
	}
	if m.TrainingMetrics != nil {
		c.TrainingMetrics = make(map[string]float64, len(m.TrainingMetrics))
		for k, v := range m.TrainingMetrics {
			c.TrainingMetrics[k] = v
		}
	}
	return &c
}
