package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFS_PairsUpAndDown(t *testing.T) {
	entries, err := fs.ReadDir(FS, ".")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}

	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestFS_CreatesDeliveryTables(t *testing.T) {
	data, err := fs.ReadFile(FS, "000001_create_delivery_jobs.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS delivery_jobs")

	data, err = fs.ReadFile(FS, "000002_create_delivery_attempts.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(data), "REFERENCES delivery_jobs(id)")
}

func TestFS_AddsNextAttemptAt(t *testing.T) {
	data, err := fs.ReadFile(FS, "000003_add_next_attempt_at.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(data), "ADD COLUMN IF NOT EXISTS next_attempt_at TIMESTAMPTZ")

	data, err = fs.ReadFile(FS, "000003_add_next_attempt_at.down.sql")
	require.NoError(t, err)
	assert.Contains(t, string(data), "DROP COLUMN IF EXISTS next_attempt_at")
}
