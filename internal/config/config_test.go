package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Ingestion.ChunkSize)
	assert.Equal(t, 200, cfg.Ingestion.ChunkOverlap)
	assert.Equal(t, 32, cfg.Ingestion.EmbedBatchSize)
	assert.Equal(t, 100, cfg.Ingestion.UpsertBatchSize)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 3000, cfg.Retrieval.MaxContextChars)
	assert.Equal(t, "Asia/Kolkata", cfg.App.Timezone)
	assert.Equal(t, 3, cfg.Quota.LifetimeUploads)
	assert.Equal(t, 15, cfg.Quota.DailyTutoringTurns)
}

func TestLoadFile_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[app]
port = 9090

[quota]
daily_tutoring_turns = 42

[milvus]
collection = "from_file"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("MILVUS_COLLECTION", "from_env")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, 42, cfg.Quota.DailyTutoringTurns)
	assert.Equal(t, "from_env", cfg.Milvus.Collection)
	assert.Equal(t, "0.0.0.0:9090", cfg.HTTPAddr())
}

func TestLoadFile_RejectsOverlapNotSmallerThanChunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[ingestion]\nchunk_size = 100\nchunk_overlap = 100\n"), 0o600))

	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestGetEnvAsInt_FallsBackOnGarbage(t *testing.T) {
	t.Setenv("STUDYMATE_TEST_INT", "nope")
	assert.Equal(t, 7, getEnvAsInt("STUDYMATE_TEST_INT", 7))
}
