package database

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	got, err := MigrateURL("postgres://user:pw@db:5432/files?sslmode=disable", "tenant_a")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "pgx5", u.Scheme)
	assert.Equal(t, "db:5432", u.Host)
	assert.Equal(t, "/files", u.Path)
	assert.Equal(t, "tenant_a", u.Query().Get("search_path"))
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
}

func TestMigrateURLRejectsKeywordDSN(t *testing.T) {
	_, err := MigrateURL("host=db user=x", "public")
	assert.Error(t, err)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "0001_files.up.sql")
	assert.Contains(t, names, "0001_files.down.sql")
}
