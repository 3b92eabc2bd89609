package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trend-curator/internal/store"
)

const seedYAML = `
users:
  - id: u1
    email: coach@example.com
    credits:
      bonus: 10
      rollover: 0
      main: 200
projects:
  - id: p1
    user_id: u1
    name: Home Fitness
    profile:
      niche: fitness
      sub_niche: home workouts
      keywords: [home workout, no equipment]
      exclude: [gambling]
      audience:
        age: 25-40
        interests: [health]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSeedFile(t *testing.T) {
	sf, err := loadSeedFile(writeFile(t, "seed.yaml", seedYAML))
	require.NoError(t, err)

	require.Len(t, sf.Users, 1)
	assert.Equal(t, int64(210), sf.Users[0].Credits.Total())
	require.Len(t, sf.Projects, 1)
	p := sf.Projects[0]
	assert.Equal(t, "fitness", p.Profile.Niche)
	assert.Equal(t, []string{"home workout", "no equipment"}, p.Profile.Keywords)
	assert.Equal(t, "25-40", p.Profile.Audience.Age)
}

func TestLoadSeedFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "users: [", "parse seed file"},
		{"user without id", "users:\n  - email: a@b.c\n", "user without id"},
		{"project without user", "projects:\n  - id: p1\n", "requires id and user_id"},
		{"unknown user", "users:\n  - id: u1\nprojects:\n  - id: p1\n    user_id: u2\n", "unknown user u2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadSeedFile(writeFile(t, "seed.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadSeedFile_Missing(t *testing.T) {
	_, err := loadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplySeed(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	sf, err := loadSeedFile(writeFile(t, "seed.yaml", seedYAML))
	require.NoError(t, err)
	require.NoError(t, applySeed(ctx, st, sf))
	// Re-applying is an upsert.
	require.NoError(t, applySeed(ctx, st, sf))

	u, err := st.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), u.Credits.Main)

	p, err := st.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Home Fitness", p.Name)
	assert.Equal(t, []string{"gambling"}, p.Profile.Exclude)
}
