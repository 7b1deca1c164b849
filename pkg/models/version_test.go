package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSemanticVersion(t *testing.T) {
	tests := []struct {
		input    string
		expected SemanticVersion
		wantErr  bool
	}{
		{"1.0.0", SemanticVersion{1, 0, 0}, false},
		{"0.0.0", SemanticVersion{0, 0, 0}, false},
		{"12.34.56", SemanticVersion{12, 34, 56}, false},
		{"1.0", SemanticVersion{}, true},
		{"1.0.0.0", SemanticVersion{}, true},
		{"1.0.x", SemanticVersion{}, true},
		{"1.-1.0", SemanticVersion{}, true},
		{"", SemanticVersion{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := ParseSemanticVersion(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestSemanticVersionCompare(t *testing.T) {
	assert.Equal(t, 0, SemanticVersion{1, 2, 3}.Compare(SemanticVersion{1, 2, 3}))
	assert.Equal(t, -1, SemanticVersion{1, 2, 3}.Compare(SemanticVersion{2, 0, 0}))
	assert.Equal(t, 1, SemanticVersion{2, 0, 0}.Compare(SemanticVersion{1, 99, 99}))
	assert.Equal(t, -1, SemanticVersion{1, 1, 0}.Compare(SemanticVersion{1, 2, 0}))
	assert.Equal(t, 1, SemanticVersion{1, 0, 5}.Compare(SemanticVersion{1, 0, 4}))
}

func TestSemanticVersionBump(t *testing.T) {
	base := SemanticVersion{1, 2, 3}

	assert.Equal(t, SemanticVersion{1, 2, 4}, base.Bump(BumpPatch))
	assert.Equal(t, SemanticVersion{1, 3, 0}, base.Bump(BumpMinor))
	assert.Equal(t, SemanticVersion{2, 0, 0}, base.Bump(BumpMajor))

	// unknown bump falls back to patch
	assert.Equal(t, SemanticVersion{1, 2, 4}, base.Bump(""))
}

func TestVersionStatusTransitions(t *testing.T) {
	assert.True(t, VersionStatusRegistered.CanTransitionTo(VersionStatusStaged))
	assert.True(t, VersionStatusRegistered.CanTransitionTo(VersionStatusActive))
	assert.True(t, VersionStatusStaged.CanTransitionTo(VersionStatusActive))
	assert.True(t, VersionStatusActive.CanTransitionTo(VersionStatusSuperseded))
	assert.True(t, VersionStatusSuperseded.CanTransitionTo(VersionStatusActive))

	assert.False(t, VersionStatusActive.CanTransitionTo(VersionStatusRetired))
	assert.False(t, VersionStatusActive.CanTransitionTo(VersionStatusRegistered))
	assert.False(t, VersionStatusRetired.CanTransitionTo(VersionStatusActive))
	assert.False(t, VersionStatusSuperseded.CanTransitionTo(VersionStatusRetired))
	assert.False(t, VersionStatusStaged.CanTransitionTo(VersionStatusRegistered))
}

func TestModelVersionClone(t *testing.T) {
	original := &ModelVersion{
		ModelName:       "spread-predictor",
		Version:         SemanticVersion{1, 0, 0},
		ArtifactRef:     "models/spread/v1.bin",
		Tags:            []string{"candidate"},
		TrainingMetrics: map[string]float64{"accuracy": 0.91},
		Status:          VersionStatusRegistered,
	}

	clone := original.Clone()
	clone.Tags[0] = "mutated"
	clone.TrainingMetrics["accuracy"] = 0.5

	assert.Equal(t, "candidate", original.Tags[0])
	assert.Equal(t, 0.91, original.TrainingMetrics["accuracy"])
}
