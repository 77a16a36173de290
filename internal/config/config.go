package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const (
	WriteModeCanonical   = "canonical"
	WriteModeTimestamped = "timestamped"
)

type Config struct {
	WorkbookPath    string `yaml:"workbook_path"`
	ImageDir        string `yaml:"image_dir"`
	ReportOutputDir string `yaml:"report_output_dir"`
	JournalDBPath   string `yaml:"journal_db_path"`
	LogMode         string `yaml:"log_mode"`

	WriteRetries          int    `yaml:"write_retries"`
	WriteRetryDelayMillis int    `yaml:"write_retry_delay_ms"`
	IngestWriteMode       string `yaml:"ingest_write_mode"`
	UnknownSpecStatus     string `yaml:"unknown_spec_status"`
	RecomputeStatusOnEdit bool   `yaml:"recompute_status_on_edit"`

	Machines []string `yaml:"machines"`
	Chambers []string `yaml:"chambers"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	AlertChannelID string `yaml:"alert_channel_id"`
	DigestSchedule string `yaml:"digest_schedule"`
	Timezone       string `yaml:"timezone"`

	LLMProvider                string `yaml:"llm_provider"`
	LLMModel                   string `yaml:"llm_model"`
	AnthropicAPIKey            string `yaml:"anthropic_api_key"`
	OpenAIAPIKey               string `yaml:"openai_api_key"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// Load reads the YAML file at path if it exists, applies env overrides and
// defaults, and validates the result.
func Load(path string) (Config, error) {
	var cfg Config

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	envOverride(&cfg.WorkbookPath, "QCLOG_WORKBOOK_PATH")
	envOverride(&cfg.ImageDir, "QCLOG_IMAGE_DIR")
	envOverride(&cfg.ReportOutputDir, "QCLOG_REPORT_OUTPUT_DIR")
	envOverride(&cfg.JournalDBPath, "QCLOG_JOURNAL_DB_PATH")
	envOverride(&cfg.LogMode, "QCLOG_LOG_MODE")
	envOverride(&cfg.IngestWriteMode, "QCLOG_INGEST_WRITE_MODE")
	envOverride(&cfg.UnknownSpecStatus, "QCLOG_UNKNOWN_SPEC_STATUS")
	envOverrideBool(&cfg.RecomputeStatusOnEdit, "QCLOG_RECOMPUTE_STATUS_ON_EDIT")
	envOverrideList(&cfg.Machines, "QCLOG_MACHINES")
	envOverrideList(&cfg.Chambers, "QCLOG_CHAMBERS")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.AlertChannelID, "QCLOG_ALERT_CHANNEL_ID")
	envOverrideAllowEmpty(&cfg.DigestSchedule, "QCLOG_DIGEST_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	for key, field := range map[string]*int{
		"QCLOG_WRITE_RETRIES":           &cfg.WriteRetries,
		"QCLOG_WRITE_RETRY_DELAY_MS":    &cfg.WriteRetryDelayMillis,
		"EXTERNAL_HTTP_TIMEOUT_SECONDS": &cfg.ExternalHTTPTimeoutSeconds,
	} {
		if err := envOverrideInt(field, key); err != nil {
			return cfg, err
		}
	}

	if cfg.WorkbookPath == "" {
		cfg.WorkbookPath = "./qc_measurements.xlsx"
	}
	if cfg.ImageDir == "" {
		cfg.ImageDir = "./uploaded_images"
	}
	if cfg.ReportOutputDir == "" {
		cfg.ReportOutputDir = "./reports"
	}
	if cfg.JournalDBPath == "" {
		cfg.JournalDBPath = "./qclog_journal.db"
	}
	if cfg.WriteRetries == 0 {
		cfg.WriteRetries = 3
	}
	if cfg.WriteRetryDelayMillis == 0 {
		cfg.WriteRetryDelayMillis = 250
	}
	if cfg.IngestWriteMode == "" {
		cfg.IngestWriteMode = WriteModeCanonical
	}
	if cfg.UnknownSpecStatus == "" {
		cfg.UnknownSpecStatus = "pass"
	}
	if len(cfg.Machines) == 0 {
		cfg.Machines = []string{"SA01", "SA02", "SA03"}
	}
	if len(cfg.Chambers) == 0 {
		cfg.Chambers = []string{"A", "B", "C", "D"}
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "none"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	if cfg.WriteRetries < 1 {
		return cfg, fmt.Errorf("invalid write_retries '%d': must be >= 1", cfg.WriteRetries)
	}
	if cfg.WriteRetryDelayMillis < 0 {
		return cfg, fmt.Errorf("invalid write_retry_delay_ms '%d': must be >= 0", cfg.WriteRetryDelayMillis)
	}
	cfg.IngestWriteMode = strings.ToLower(strings.TrimSpace(cfg.IngestWriteMode))
	if cfg.IngestWriteMode != WriteModeCanonical && cfg.IngestWriteMode != WriteModeTimestamped {
		return cfg, fmt.Errorf("ingest_write_mode must be '%s' or '%s', got '%s'", WriteModeCanonical, WriteModeTimestamped, cfg.IngestWriteMode)
	}
	cfg.UnknownSpecStatus = strings.ToLower(strings.TrimSpace(cfg.UnknownSpecStatus))
	if cfg.UnknownSpecStatus != "pass" && cfg.UnknownSpecStatus != "unknown" {
		return cfg, fmt.Errorf("unknown_spec_status must be 'pass' or 'unknown', got '%s'", cfg.UnknownSpecStatus)
	}
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	switch cfg.LLMProvider {
	case "none":
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return cfg, fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return cfg, fmt.Errorf("openai_api_key is required when llm_provider=openai")
		}
	default:
		return cfg, fmt.Errorf("llm_provider must be 'none', 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}
	if cfg.LLMModel == "" {
		switch cfg.LLMProvider {
		case "anthropic":
			cfg.LLMModel = "claude-sonnet-4-5"
		case "openai":
			cfg.LLMModel = "gpt-4o-mini"
		}
	}
	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		return cfg, fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.AlertChannelID != "" && cfg.SlackBotToken == "" {
		return cfg, fmt.Errorf("alert_channel_id is set but slack_bot_token is not")
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return cfg, fmt.Errorf("invalid timezone '%s': %w", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
}

func envOverrideList(field *[]string, envKey string) {
	raw := os.Getenv(envKey)
	if raw == "" {
		return
	}
	*field = nil
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			*field = append(*field, v)
		}
	}
}

// SlackConfigured reports whether alerts and digests can be posted.
func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.AlertChannelID != ""
}

func (c Config) LLMConfigured() bool {
	return c.LLMProvider == "anthropic" || c.LLMProvider == "openai"
}

func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.WriteRetryDelayMillis) * time.Millisecond
}
