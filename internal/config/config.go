package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all interview-room environment variables.
const EnvPrefix = "INTERVIEW_ROOM_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr            string    `yaml:"listen_addr"`
	DBPath                string    `yaml:"db_path"`
	TranscriptDir         string    `yaml:"transcript_dir"`
	RecordingDir          string    `yaml:"recording_dir"`
	Model                 string    `yaml:"model"`
	GenerationTimeout     string    `yaml:"generation_timeout"`
	DeliveryDelay         string    `yaml:"delivery_delay"`
	SessionTTL            string    `yaml:"session_ttl"`
	DisconnectGrace       string    `yaml:"disconnect_grace"`
	SpeechModel           string    `yaml:"speech_model"`
	GDriveFolderID        string    `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string    `yaml:"google_credentials_file"`
	LogLevel              string    `yaml:"log_level"`
	LogDevelopment        bool      `yaml:"log_development"`
	Candidate             Candidate `yaml:"candidate"`

	// Secrets: env vars only, never serialized to YAML.
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
	DeepgramAPIKey  string `yaml:"-"`
}

// Candidate configures the candidate client binary.
type Candidate struct {
	ServerURL       string `yaml:"server_url"`
	MicSampleRate   int    `yaml:"mic_sample_rate"`
	MicSampleRates  []int  `yaml:"mic_sample_rates"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
}

func defaults() Config {
	return Config{
		ListenAddr:            ":8080",
		DBPath:                "data/interview-room.db",
		TranscriptDir:         "data/transcripts",
		RecordingDir:          "data/recordings",
		Model:                 "openai/gpt-4o-mini",
		GenerationTimeout:     "30s",
		DeliveryDelay:         "1s",
		SessionTTL:            "30m",
		DisconnectGrace:       "2m",
		SpeechModel:           "aura-asteria-en",
		GoogleCredentialsFile: "./service-account.json",
		LogLevel:              "info",
		Candidate: Candidate{
			ServerURL:       "http://127.0.0.1:8080",
			MicSampleRate:   16000,
			MicSampleRates:  []int{48000, 44100},
			FramesPerBuffer: 1024,
		},
	}
}

// Load reads configuration from a YAML file (if it exists), applies a local
// .env file and environment variable overrides, loads secrets, and validates
// the result. It returns the config, any validation warnings, and an error if
// the file exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if err := loadDotEnv(); err != nil {
		return cfg, nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// loadDotEnv never overrides variables that are already set.
func loadDotEnv() error {
	envFile := os.Getenv(EnvPrefix + "ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", envFile, err)
	}
	return nil
}

func (c *Config) ParsedGenerationTimeout() time.Duration {
	return parseDuration(c.GenerationTimeout, 30*time.Second)
}

func (c *Config) ParsedDeliveryDelay() time.Duration {
	return parseDuration(c.DeliveryDelay, time.Second)
}

func (c *Config) ParsedSessionTTL() time.Duration {
	return parseDuration(c.SessionTTL, 30*time.Minute)
}

func (c *Config) ParsedDisconnectGrace() time.Duration {
	return parseDuration(c.DisconnectGrace, 2*time.Minute)
}

// APIKeyFor returns the secret for an LLM provider name.
func (c *Config) APIKeyFor(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Candidate) SampleRateCandidates() []int {
	hardcoded := []int{16000, 48000, 44100, 32000, 24000}

	combined := make([]int, 0, 1+len(c.MicSampleRates)+len(hardcoded))
	combined = append(combined, c.MicSampleRate)
	combined = append(combined, c.MicSampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

func applyEnvOverrides(cfg *Config) {
	stringOverrides := map[string]*string{
		"LISTEN_ADDR":             &cfg.ListenAddr,
		"DB_PATH":                 &cfg.DBPath,
		"TRANSCRIPT_DIR":          &cfg.TranscriptDir,
		"RECORDING_DIR":           &cfg.RecordingDir,
		"MODEL":                   &cfg.Model,
		"GENERATION_TIMEOUT":      &cfg.GenerationTimeout,
		"DELIVERY_DELAY":          &cfg.DeliveryDelay,
		"SESSION_TTL":             &cfg.SessionTTL,
		"DISCONNECT_GRACE":        &cfg.DisconnectGrace,
		"SPEECH_MODEL":            &cfg.SpeechModel,
		"GDRIVE_FOLDER_ID":        &cfg.GDriveFolderID,
		"GOOGLE_CREDENTIALS_FILE": &cfg.GoogleCredentialsFile,
		"LOG_LEVEL":               &cfg.LogLevel,
		"SERVER_URL":              &cfg.Candidate.ServerURL,
	}
	for key, dst := range stringOverrides {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(EnvPrefix + "LOG_DEVELOPMENT"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.LogDevelopment = b
		}
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.Candidate.MicSampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.Candidate.MicSampleRates = parseSampleRates(v)
	}
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	provider, _, found := strings.Cut(cfg.Model, "/")
	if !found {
		warnings = append(warnings, fmt.Sprintf("Invalid model %q: expected provider/model. Follow-up questions will use the fallback question.", cfg.Model))
	} else if cfg.APIKeyFor(provider) == "" {
		warnings = append(warnings, fmt.Sprintf("No API key for provider %q: follow-up questions and results are disabled. Set %s%s_API_KEY.", provider, EnvPrefix, strings.ToUpper(provider)))
	}
	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured: speech synthesis is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}

	for name, value := range map[string]string{
		"generation_timeout": cfg.GenerationTimeout,
		"delivery_delay":     cfg.DeliveryDelay,
		"session_ttl":        cfg.SessionTTL,
		"disconnect_grace":   cfg.DisconnectGrace,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q: using default.", name, value))
		}
	}

	return warnings
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}
