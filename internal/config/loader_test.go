package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 512, cfg.Chunking.ChunkSize)
	assert.Equal(t, 128, cfg.Chunking.Overlap)
	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.6, cfg.Gate.ConfidenceFloor, 1e-9)
	assert.Equal(t, 5, cfg.Cache.PromotionThreshold)
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qa.yaml")
	yaml := `
retrieval:
  top_k: 7
gate:
  confidence_floor: 0.8
chunking:
  chunk_size: 256
  overlap: 64
  min_chunk_size: 16
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.8, cfg.Gate.ConfidenceFloor, 1e-9)
	assert.Equal(t, 256, cfg.Chunking.ChunkSize)
	// Untouched sections keep defaults
	assert.Equal(t, 5, cfg.Generation.NCandidates)
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qa.yaml")
	require.NoError(t, os.WriteFile(path, []byte("no_such_section:\n  x: 1\n"), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap >= chunk size", func(c *Config) { c.Chunking.Overlap = c.Chunking.ChunkSize }},
		{"negative score floor", func(c *Config) { c.Retrieval.ScoreFloor = -0.1 }},
		{"n_candidates too high", func(c *Config) { c.Generation.NCandidates = 11 }},
		{"weights do not sum to 1", func(c *Config) { c.Generation.Weights.Quality = 0.5 }},
		{"unknown fallback provider", func(c *Config) { c.Fallback.Provider = "oracle" }},
		{"confidence floor above 1", func(c *Config) { c.Gate.ConfidenceFloor = 1.5 }},
		{"flush_every zero", func(c *Config) { c.Cache.FlushEvery = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Retrieval.TopK, cfg.Retrieval.TopK)
}
