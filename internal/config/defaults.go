package config

// Defaults returns the baseline configuration. Credentials default to
// ${VAR} placeholders so a config file (or Resolve) can pull them from
// the environment.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:            "info",
			PollIntervalSeconds: 10,
			HeartbeatMinutes:    5,
		},
		Provider: ProviderConfig{
			APIBase:        "https://api.z-api.io",
			Instance:       "${ZAPI_INSTANCE}",
			Token:          "${ZAPI_TOKEN}",
			TimeoutSeconds: 15,
			AckEnabled:     false,
		},
		Trigger: TriggerConfig{
			APIBase:        "https://api.github.com",
			Repository:     "${GITHUB_REPOSITORY}",
			Token:          "${GH_TOKEN}",
			EventType:      "mensagem_recebida",
			MaxRetries:     3,
			TimeoutSeconds: 15,
		},
		Filter: FilterConfig{
			Keyword: "zumo",
		},
		Ledger: LedgerConfig{
			DBPath:         "~/.zrelay/ledger.db",
			RetentionHours: 24,
		},
		Webhook: WebhookConfig{
			Host: "0.0.0.0",
			Port: 9090,
			Path: "/webhook",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
