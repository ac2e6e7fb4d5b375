package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LISTEN_ADDR", "DB_PATH", "TRANSCRIPT_DIR", "RECORDING_DIR", "MODEL",
		"GENERATION_TIMEOUT", "DELIVERY_DELAY", "SESSION_TTL", "DISCONNECT_GRACE",
		"SPEECH_MODEL", "GDRIVE_FOLDER_ID", "GOOGLE_CREDENTIALS_FILE",
		"LOG_LEVEL", "LOG_DEVELOPMENT", "SERVER_URL",
		"MIC_SAMPLE_RATE", "MIC_SAMPLE_RATES",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "DEEPGRAM_API_KEY",
		"ENV_FILE",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "data/interview-room.db" {
		t.Fatalf("expected default db_path, got %q", cfg.DBPath)
	}
	if cfg.Model != "openai/gpt-4o-mini" {
		t.Fatalf("expected default model, got %q", cfg.Model)
	}
	if cfg.ParsedDeliveryDelay() != time.Second {
		t.Fatalf("expected default delivery delay 1s, got %v", cfg.ParsedDeliveryDelay())
	}
	if cfg.ParsedSessionTTL() != 30*time.Minute {
		t.Fatalf("expected default session ttl 30m, got %v", cfg.ParsedSessionTTL())
	}
	if cfg.Candidate.ServerURL != "http://127.0.0.1:8080" {
		t.Fatalf("expected default server url, got %q", cfg.Candidate.ServerURL)
	}
}

func TestYAMLLoading(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
listen_addr: ":9090"
db_path: /custom/db.sqlite
model: anthropic/claude-3-5-haiku-latest
session_ttl: 10m
gdrive_folder_id: my-folder
candidate:
  server_url: ws://interviews.example/ws
  mic_sample_rate: 48000
  mic_sample_rates: [44100, 32000]
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Fatalf("expected yaml listen_addr, got %q", cfg.ListenAddr)
	}
	if cfg.Model != "anthropic/claude-3-5-haiku-latest" {
		t.Fatalf("expected yaml model, got %q", cfg.Model)
	}
	if cfg.ParsedSessionTTL() != 10*time.Minute {
		t.Fatalf("expected yaml session_ttl, got %v", cfg.ParsedSessionTTL())
	}
	if cfg.GDriveFolderID != "my-folder" {
		t.Fatalf("expected yaml gdrive_folder_id, got %q", cfg.GDriveFolderID)
	}
	if cfg.Candidate.MicSampleRate != 48000 {
		t.Fatalf("expected yaml mic_sample_rate, got %d", cfg.Candidate.MicSampleRate)
	}
	if !reflect.DeepEqual(cfg.Candidate.MicSampleRates, []int{44100, 32000}) {
		t.Fatalf("expected yaml mic_sample_rates, got %v", cfg.Candidate.MicSampleRates)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("db_path: /from/yaml\nmodel: openai/gpt-yaml\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	clearEnv(t)
	t.Setenv(EnvPrefix+"DB_PATH", "/from/env")
	t.Setenv(EnvPrefix+"MODEL", "gemini/gemini-2.0-flash")
	t.Setenv(EnvPrefix+"SERVER_URL", "http://env:9000")

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "/from/env" {
		t.Fatalf("expected env override for db_path, got %q", cfg.DBPath)
	}
	if cfg.Model != "gemini/gemini-2.0-flash" {
		t.Fatalf("expected env override for model, got %q", cfg.Model)
	}
	if cfg.Candidate.ServerURL != "http://env:9000" {
		t.Fatalf("expected env override for server url, got %q", cfg.Candidate.ServerURL)
	}
}

func TestDotEnvFileDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	envPath := filepath.Join(dir, "local.env")
	content := EnvPrefix + "GEMINI_API_KEY=from-dotenv\n" + EnvPrefix + "OPENAI_API_KEY=from-dotenv\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv(EnvPrefix+"ENV_FILE", envPath)
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "from-env")
	// godotenv only sets unset variables, so remove the empty placeholder.
	_ = os.Unsetenv(EnvPrefix + "GEMINI_API_KEY")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.GeminiAPIKey != "from-dotenv" {
		t.Fatalf("expected gemini key from env file, got %q", cfg.GeminiAPIKey)
	}
	if cfg.OpenAIAPIKey != "from-env" {
		t.Fatalf("expected process env to win, got %q", cfg.OpenAIAPIKey)
	}
}

func TestSecretsIgnoredInYAML(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
deepgram_api_key: should-be-ignored
openai_api_key: also-ignored
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "" || cfg.OpenAIAPIKey != "" {
		t.Fatalf("expected secrets to be ignored in yaml, got %q / %q", cfg.DeepgramAPIKey, cfg.OpenAIAPIKey)
	}
}

func TestValidationWarnings(t *testing.T) {
	clearEnv(t)

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var deepgramWarning, providerWarning bool
	for _, w := range warnings {
		if strings.Contains(w, "Deepgram") {
			deepgramWarning = true
		}
		if strings.Contains(w, `provider "openai"`) {
			providerWarning = true
		}
	}

	if !deepgramWarning {
		t.Fatalf("expected Deepgram warning when key is missing, got warnings: %v", warnings)
	}
	if !providerWarning {
		t.Fatalf("expected provider key warning, got warnings: %v", warnings)
	}
}

func TestValidationNoWarningsWhenConfigured(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "key")
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "key")

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 0 {
		t.Fatalf("expected no warnings when fully configured, got: %v", warnings)
	}
}

func TestInvalidDurationWarning(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "key")
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "key")
	t.Setenv(EnvPrefix+"SESSION_TTL", "not-a-duration")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 1 || !strings.Contains(warnings[0], "session_ttl") {
		t.Fatalf("expected session_ttl warning, got: %v", warnings)
	}
	if cfg.ParsedSessionTTL() != 30*time.Minute {
		t.Fatalf("expected fallback to 30m, got %v", cfg.ParsedSessionTTL())
	}
}

func TestInvalidConfigFileReturnsError(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(configPath, []byte(":::invalid yaml"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	clearEnv(t)

	if _, _, err := Load(configPath); err == nil {
		t.Fatal("expected error for invalid yaml, got nil")
	}
}

func TestAPIKeyFor(t *testing.T) {
	cfg := Config{OpenAIAPIKey: "o", AnthropicAPIKey: "a", GeminiAPIKey: "g"}
	for provider, want := range map[string]string{"openai": "o", "anthropic": "a", "gemini": "g", "mistral": ""} {
		if got := cfg.APIKeyFor(provider); got != want {
			t.Fatalf("APIKeyFor(%q) = %q, want %q", provider, got, want)
		}
	}
}

func TestSampleRateCandidatesCustom(t *testing.T) {
	cfg := defaults()
	cfg.Candidate.MicSampleRate = 48000
	cfg.Candidate.MicSampleRates = []int{44100, 16000, 48000, 32000}

	got := cfg.Candidate.SampleRateCandidates()
	want := []int{48000, 44100, 16000, 32000, 24000}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected custom sample rates: got=%v want=%v", got, want)
	}
}

func TestParseSampleRates(t *testing.T) {
	got := parseSampleRates(" 16000,  ,invalid,0,-1,44100,16000 ")
	want := []int{16000, 44100}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected parsed sample rates: got=%v want=%v", got, want)
	}
}
