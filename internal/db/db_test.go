package db

import (
	"strings"
	"testing"

	"github.com/jonathan/role-audition/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMigrationVersion(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"001_init.sql", 1, false},
		{"012_add_index.sql", 12, false},
		{"init.sql", 0, true},
		{"abc_init.sql", 0, true},
		{"000_zero.sql", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMigrationVersion(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMigrationFiles(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)

	assert.Equal(t, 1, files[0].version)
	for i := 1; i < len(files); i++ {
		assert.Less(t, files[i-1].version, files[i].version, "migrations must be ordered")
	}

	all := ""
	for _, f := range files {
		all += f.sql
	}
	for _, table := range []string{"projects", "role_definitions", "audition_scaffolds"} {
		assert.True(t, strings.Contains(all, "CREATE TABLE IF NOT EXISTS "+table), "missing table %s", table)
	}
}

func TestDimensionColumnRoundTrip(t *testing.T) {
	dims := []types.Dimension{types.DimensionJudgment, types.DimensionEmotionalIntelligence}
	stored := dimensionStrings(dims)
	assert.Equal(t, []string{"judgment", "emotional_intelligence"}, stored)
	assert.Equal(t, dims, parseDimensions(stored))
}

func TestParseDimensions_SkipsUnknown(t *testing.T) {
	got := parseDimensions([]string{"Communication", "telepathy", "communication_collaboration"})
	assert.Equal(t, []types.Dimension{types.DimensionCommunication, types.DimensionCommunication}, got)
}
