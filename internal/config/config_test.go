package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4<<10, cfg.Chunker.MinChunkSize)
	assert.Equal(t, int64(4<<30), cfg.PackStore.MaxPackSizeBytes)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoadUnknownFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}
