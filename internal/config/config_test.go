package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so ambient shell state cannot
// leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DISCORD_TOKEN", "STT_BACKEND", "VOSK_MODEL_PATH", "DEEPGRAM_API_KEY",
		"DEEPGRAM_MODEL", "LANGUAGE", "ENABLE_NOISE_FILTER", "SILENCE_THRESHOLD_MS",
		"MIN_AUDIO_MS", "MAX_SESSION_MINUTES", "DRAIN_TIMEOUT_SECONDS",
		"FRAME_BUFFER_FRAMES", "LOGS_DIR", "ARCHIVE_AUDIO", "AUDIO_FORMAT",
		"FFMPEG_BIN", "PLAYER_MAP_DIR", "GENAI_API_KEY", "GENAI_MODEL",
		"METRICS_ADDR", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_TOKEN", "token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "vosk", cfg.STTBackend)
	assert.Equal(t, "./models/vosk/fr", cfg.VoskModelPath)
	assert.Equal(t, "nova-2", cfg.DeepgramModel)
	assert.Equal(t, "fr", cfg.Language)
	assert.True(t, cfg.EnableNoiseFilter)
	assert.Equal(t, 1200, cfg.SilenceThresholdMS)
	assert.Equal(t, 100, cfg.MinAudioMS)
	assert.Equal(t, 240, cfg.MaxSessionMinutes)
	assert.Equal(t, 30, cfg.DrainTimeoutSeconds)
	assert.Equal(t, 200, cfg.FrameBufferFrames)
	assert.Equal(t, ".logs", cfg.LogsDir)
	assert.False(t, cfg.ArchiveAudio)
	assert.Equal(t, "wav", cfg.AudioFormat)
	assert.Equal(t, "ffmpeg", cfg.FFmpegBin)
	assert.Empty(t, cfg.PlayerMapDir)
	assert.Empty(t, cfg.GenAIAPIKey)
	assert.Equal(t, "gemini-2.5-flash", cfg.GenAIModel)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadRequiresDiscordToken(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISCORD_TOKEN")
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("STT_BACKEND", "whisper")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STT_BACKEND")
}

func TestLoadDeepgramNeedsAPIKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("STT_BACKEND", "deepgram")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEEPGRAM_API_KEY")
}

func TestLoadRejectsUnknownAudioFormat(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("AUDIO_FORMAT", "aac")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUDIO_FORMAT")
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("SILENCE_THRESHOLD_MS", "800")
	t.Setenv("MAX_SESSION_MINUTES", "0")
	t.Setenv("ARCHIVE_AUDIO", "true")
	t.Setenv("AUDIO_FORMAT", "flac")
	t.Setenv("LANGUAGE", "en")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 800, cfg.SilenceThresholdMS)
	assert.Zero(t, cfg.MaxSessionMinutes)
	assert.True(t, cfg.ArchiveAudio)
	assert.Equal(t, "flac", cfg.AudioFormat)
	assert.Equal(t, "en", cfg.Language)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("SILENCE_THRESHOLD_MS", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1200, cfg.SilenceThresholdMS)
}
