package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationVersionsAreSorted(t *testing.T) {
	versions, err := migrationVersions()
	require.NoError(t, err)
	require.NotEmpty(t, versions)
	assert.Equal(t, "001_users.sql", versions[0])
	assert.IsNonDecreasing(t, versions)
}

func TestUsersMigrationDefinesUniqueUsername(t *testing.T) {
	script, err := migrationFiles.ReadFile("migrations/001_users.sql")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(script), "username TEXT NOT NULL UNIQUE"))
}
