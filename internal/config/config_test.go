package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAPERDIGEST_CHUNK_SIZE", "")
	t.Setenv("PAPERDIGEST_DOWNLOAD_DIR", "")
	t.Setenv("DOWNLOAD_PATH", "")
	cfg := Load()
	require.Equal(t, 1000, cfg.ChunkSize)
	require.Equal(t, 100, cfg.ChunkOverlap)
	require.Equal(t, "./local/docs", cfg.DownloadDir)
	require.Equal(t, 2*time.Hour, cfg.ScheduleEvery)
	require.Equal(t, 1, cfg.Workers)
}

func TestLoadUpstreamFallbacks(t *testing.T) {
	t.Setenv("PAPERDIGEST_HF_TOKEN", "")
	t.Setenv("HUGGING_FACE_READ_ONLY_TOKEN", "hf_read")
	t.Setenv("PAPERDIGEST_DOWNLOAD_DIR", "")
	t.Setenv("DOWNLOAD_PATH", "/tmp/docs")
	t.Setenv("PAPERDIGEST_OPENAI_CHAT_MODEL", "")
	t.Setenv("OPENAI_CHAT_MODEL", "gpt-x")
	cfg := Load()
	require.Equal(t, "hf_read", cfg.HFToken)
	require.Equal(t, "/tmp/docs", cfg.DownloadDir)
	require.Equal(t, "gpt-x", cfg.OpenAIChat)
}

func TestGetenvDuration(t *testing.T) {
	t.Setenv("X_DUR", "90s")
	require.Equal(t, 90*time.Second, getenvDuration("X_DUR", time.Second))
	t.Setenv("X_DUR", "45")
	require.Equal(t, 45*time.Second, getenvDuration("X_DUR", time.Second))
	t.Setenv("X_DUR", "soon")
	require.Equal(t, time.Second, getenvDuration("X_DUR", time.Second))
}

func TestGetenvIntInvalidFallsBack(t *testing.T) {
	t.Setenv("X_INT", "many")
	require.Equal(t, 7, getenvInt("X_INT", 7))
}

func TestGetenvBool(t *testing.T) {
	t.Setenv("X_BOOL", "false")
	require.False(t, getenvBool("X_BOOL", true))
	t.Setenv("X_BOOL", "maybe")
	require.True(t, getenvBool("X_BOOL", true))
}
