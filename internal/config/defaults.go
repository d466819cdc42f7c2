package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
			AgentsDir: "~/.agentlink/agents",
		},
		Ledger: LedgerConfig{
			Backend:         "memory",
			Network:         "testnet",
			RedisPrefix:     "agentlink",
			RateLimitPerSec: 10,
			RateLimitBurst:  20,
			InitialBalance:  10,
		},
		Protocol: ProtocolConfig{
			InlineThreshold: 1000,
			MaxChunkSize:    4096,
		},
		Store: StoreConfig{
			Driver: "memory",
			Path:   "~/.agentlink/agentlink.db",
		},
		API: APIConfig{
			Enabled:     true,
			Host:        "127.0.0.1",
			Port:        3000,
			CORSOrigins: []string{"*"},
		},
		MCP: MCPConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    3001,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Notify: NotifyConfig{
			Telegram: TelegramConfig{
				Enabled: false,
				Events:  []string{"connection.requested", "connection.accepted", "connection.duplicate_accept", "advisory.failed"},
			},
		},
	}
}
