package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Discord
	DiscordToken string

	// STT backend
	STTBackend string // "vosk" or "deepgram"

	// Vosk settings
	VoskModelPath string

	// Deepgram settings
	DeepgramAPIKey string
	DeepgramModel  string

	// Transcription
	Language          string
	EnableNoiseFilter bool

	// Segmentation
	SilenceThresholdMS int
	MinAudioMS         int

	// Session limits
	MaxSessionMinutes   int // 0 disables the duration guard
	DrainTimeoutSeconds int
	FrameBufferFrames   int

	// Storage
	LogsDir      string
	ArchiveAudio bool
	AudioFormat  string // "wav", "mp3", "flac" or "ogg"
	FFmpegBin    string
	PlayerMapDir string

	// Gemini recap (empty key disables it)
	GenAIAPIKey string
	GenAIModel  string

	// Observability
	MetricsAddr string // empty disables the /metrics listener
	LogLevel    string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("No .env file found, using environment variables only")
	}

	cfg := &Config{
		// Discord
		DiscordToken: os.Getenv("DISCORD_TOKEN"),

		// STT backend
		STTBackend: getEnvOrDefault("STT_BACKEND", "vosk"),

		// Vosk
		VoskModelPath: getEnvOrDefault("VOSK_MODEL_PATH", "./models/vosk/fr"),

		// Deepgram
		DeepgramAPIKey: os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:  getEnvOrDefault("DEEPGRAM_MODEL", "nova-2"),

		// Transcription
		Language:          getEnvOrDefault("LANGUAGE", "fr"),
		EnableNoiseFilter: getBoolEnvOrDefault("ENABLE_NOISE_FILTER", true),

		// Segmentation
		SilenceThresholdMS: getIntEnvOrDefault("SILENCE_THRESHOLD_MS", 1200),
		MinAudioMS:         getIntEnvOrDefault("MIN_AUDIO_MS", 100),

		// Session limits
		MaxSessionMinutes:   getIntEnvOrDefault("MAX_SESSION_MINUTES", 240),
		DrainTimeoutSeconds: getIntEnvOrDefault("DRAIN_TIMEOUT_SECONDS", 30),
		FrameBufferFrames:   getIntEnvOrDefault("FRAME_BUFFER_FRAMES", 200),

		// Storage
		LogsDir:      getEnvOrDefault("LOGS_DIR", ".logs"),
		ArchiveAudio: getBoolEnvOrDefault("ARCHIVE_AUDIO", false),
		AudioFormat:  getEnvOrDefault("AUDIO_FORMAT", "wav"),
		FFmpegBin:    getEnvOrDefault("FFMPEG_BIN", "ffmpeg"),
		PlayerMapDir: os.Getenv("PLAYER_MAP_DIR"),

		// Gemini
		GenAIAPIKey: os.Getenv("GENAI_API_KEY"),
		GenAIModel:  getEnvOrDefault("GENAI_MODEL", "gemini-2.5-flash"),

		// Observability
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_TOKEN is required")
	}

	if c.STTBackend != "vosk" && c.STTBackend != "deepgram" {
		return fmt.Errorf("STT_BACKEND must be 'vosk' or 'deepgram'")
	}

	if c.STTBackend == "deepgram" && c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required when using deepgram backend")
	}

	switch c.AudioFormat {
	case "wav", "mp3", "flac", "ogg":
	default:
		return fmt.Errorf("AUDIO_FORMAT must be 'wav', 'mp3', 'flac' or 'ogg'")
	}

	if c.SilenceThresholdMS <= 0 {
		return fmt.Errorf("SILENCE_THRESHOLD_MS must be positive")
	}
	if c.MinAudioMS < 0 {
		return fmt.Errorf("MIN_AUDIO_MS must not be negative")
	}
	if c.FrameBufferFrames <= 0 {
		return fmt.Errorf("FRAME_BUFFER_FRAMES must be positive")
	}
	if c.DrainTimeoutSeconds < 0 {
		return fmt.Errorf("DRAIN_TIMEOUT_SECONDS must not be negative")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnvOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
