package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for zrelay.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Provider ProviderConfig `json:"provider"`
	Trigger  TriggerConfig  `json:"trigger"`
	Filter   FilterConfig   `json:"filter"`
	Ledger   LedgerConfig   `json:"ledger"`
	Webhook  WebhookConfig  `json:"webhook"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel            string `json:"logLevel"`
	LogFile             string `json:"logFile,omitempty"` // optional log file path
	PollIntervalSeconds int    `json:"pollIntervalSeconds"`
	HeartbeatMinutes    int    `json:"heartbeatMinutes,omitempty"` // 0 = disabled
}

// ProviderConfig identifies the chat provider instance the relay reads
// from. Instance and token are embedded in the request path.
type ProviderConfig struct {
	APIBase        string `json:"apiBase"`
	Instance       string `json:"instance"`
	Token          string `json:"token"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	AckEnabled     bool   `json:"ackEnabled"`
	AckText        string `json:"ackText,omitempty"`
}

// TriggerConfig identifies the automation sink that receives qualifying
// events.
type TriggerConfig struct {
	APIBase        string `json:"apiBase"`
	Repository     string `json:"repository"` // owner/name
	Token          string `json:"token"`
	EventType      string `json:"eventType"`
	MaxRetries     int    `json:"maxRetries"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type FilterConfig struct {
	Keyword   string         `json:"keyword"`
	Pattern   string         `json:"pattern,omitempty"` // optional regex, overrides keyword
	AllowFrom FlexStringList `json:"allowFrom,omitempty"`
	RulesFile string         `json:"rulesFile,omitempty"` // optional YAML rules file
}

type LedgerConfig struct {
	DBPath         string `json:"dbPath"`
	RetentionHours int    `json:"retentionHours"`
}

type WebhookConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Path   string `json:"path"`
	Secret string `json:"secret,omitempty"` // HMAC secret for signature verification
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.zrelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zrelay"
	}
	return filepath.Join(home, ".zrelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Ledger.DBPath = ExpandPath(cfg.Ledger.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Filter.RulesFile = ExpandPath(cfg.Filter.RulesFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Resolve expands ${VAR} placeholders left in a config built without a
// file (e.g. Defaults() populated straight from the environment).
func Resolve(cfg *Config) (*Config, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	data = []byte(ExpandEnvVars(string(data)))
	resolved := Defaults()
	if err := json.Unmarshal(data, resolved); err != nil {
		return nil, err
	}
	resolved.Ledger.DBPath = ExpandPath(resolved.Ledger.DBPath)
	resolved.General.LogFile = ExpandPath(resolved.General.LogFile)
	resolved.Filter.RulesFile = ExpandPath(resolved.Filter.RulesFile)
	return resolved, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// missing reports values that are empty or still contain an unexpanded
// ${VAR} placeholder (environment variable absent with no default).
func missing(v string) bool {
	return v == "" || strings.Contains(v, "${")
}

// Validate checks that the config has valid values. Required credentials
// that never resolved are reported together so the operator can fix the
// environment in one pass.
func Validate(cfg *Config) error {
	var errs []string

	if missing(cfg.Provider.Instance) {
		errs = append(errs, "provider.instance is required (ZAPI_INSTANCE)")
	}
	if missing(cfg.Provider.Token) {
		errs = append(errs, "provider.token is required (ZAPI_TOKEN)")
	}
	if missing(cfg.Trigger.Repository) {
		errs = append(errs, "trigger.repository is required (GITHUB_REPOSITORY)")
	}
	if missing(cfg.Trigger.Token) {
		errs = append(errs, "trigger.token is required (GH_TOKEN)")
	}
	if cfg.Filter.Keyword == "" && cfg.Filter.Pattern == "" && cfg.Filter.RulesFile == "" {
		errs = append(errs, "filter.keyword, filter.pattern or filter.rulesFile must be set")
	}
	if cfg.Filter.Pattern != "" {
		if _, err := regexp.Compile(cfg.Filter.Pattern); err != nil {
			errs = append(errs, fmt.Sprintf("filter.pattern is not a valid regex: %v", err))
		}
	}

	if cfg.General.PollIntervalSeconds < 1 {
		errs = append(errs, "general.pollIntervalSeconds must be >= 1")
	}
	if cfg.Webhook.Port < 0 || cfg.Webhook.Port > 65535 {
		errs = append(errs, "webhook.port must be between 0 and 65535")
	}
	if cfg.Ledger.RetentionHours < 1 {
		errs = append(errs, "ledger.retentionHours must be >= 1")
	}
	if cfg.Trigger.MaxRetries < 0 || cfg.Trigger.MaxRetries > 10 {
		errs = append(errs, "trigger.maxRetries must be between 0 and 10")
	}
	if cfg.Trigger.EventType == "" {
		errs = append(errs, "trigger.eventType must not be empty")
	}
	if cfg.Provider.TimeoutSeconds < 1 || cfg.Trigger.TimeoutSeconds < 1 {
		errs = append(errs, "provider.timeoutSeconds and trigger.timeoutSeconds must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Sanitize returns a copy safe for display: credentials are masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Provider.Token = mask(cfg.Provider.Token)
	out.Trigger.Token = mask(cfg.Trigger.Token)
	out.Webhook.Secret = mask(cfg.Webhook.Secret)
	return &out
}

func mask(s string) string {
	if len(s) <= 4 {
		if s == "" {
			return ""
		}
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
