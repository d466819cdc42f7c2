package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the root configuration for agentlink.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Ledger   LedgerConfig   `json:"ledger"`
	Protocol ProtocolConfig `json:"protocol"`
	Store    StoreConfig    `json:"store"`
	API      APIConfig      `json:"api"`
	MCP      MCPConfig      `json:"mcp"`
	Metrics  MetricsConfig  `json:"metrics"`
	Notify   NotifyConfig   `json:"notify"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"` // "text" | "json"
	LogFile   string `json:"logFile,omitempty"`
	// AgentsDir holds *.yaml agent definitions registered by "register -f".
	AgentsDir string `json:"agentsDir,omitempty"`
}

// LedgerConfig selects and configures the ledger backend.
type LedgerConfig struct {
	Backend         string  `json:"backend"` // "memory" | "redis" | "hedera"
	Network         string  `json:"network"` // mainnet | testnet | previewnet
	OperatorID      string  `json:"operatorId,omitempty"`
	OperatorKey     string  `json:"operatorKey,omitempty"`
	RegistryTopicID string  `json:"registryTopicId,omitempty"`
	RedisURL        string  `json:"redisUrl,omitempty"`
	RedisPrefix     string  `json:"redisPrefix,omitempty"`
	MirrorURL       string  `json:"mirrorUrl,omitempty"` // defaults to the public node of network
	RateLimitPerSec float64 `json:"rateLimitPerSecond"`
	RateLimitBurst  int     `json:"rateLimitBurst"`
	InitialBalance  float64 `json:"initialBalance"`
}

// ProtocolConfig tunes the connection protocol.
type ProtocolConfig struct {
	InlineThreshold   int  `json:"inlineThreshold"`
	MaxChunkSize      int  `json:"maxChunkSize"`
	StrictHandshake   bool `json:"strictHandshake"`
	RequestTTLSeconds int  `json:"requestTtlSeconds,omitempty"` // 0 = never expire
}

type StoreConfig struct {
	Driver    string `json:"driver"` // "memory" | "sqlite" | "postgres"
	Path      string `json:"path,omitempty"`
	DSN       string `json:"dsn,omitempty"`
	KeySecret string `json:"keySecret,omitempty"`
}

// APIConfig configures the REST server.
type APIConfig struct {
	Enabled     bool     `json:"enabled"`
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	APIKeyHash  string   `json:"apiKeyHash,omitempty"` // bcrypt hash of the bearer key
	CORSOrigins []string `json:"corsOrigins,omitempty"`
}

// MCPConfig configures the Model Context Protocol server.
type MCPConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// MetricsConfig configures the Prometheus endpoint on the REST server.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig forwards protocol events to Telegram chats.
type TelegramConfig struct {
	Enabled bool           `json:"enabled"`
	Token   string         `json:"token"`
	ChatIDs FlexStringList `json:"chatIds"`
	// Events limits forwarding to these event types; empty forwards all.
	Events []string `json:"events,omitempty"`
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

// DefaultConfigDir returns the default config directory (~/.agentlink).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentlink"
	}
	return filepath.Join(home, ".agentlink")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config file at path. A .env file in the working directory
// or next to the config file is loaded first; variables already set in the
// environment win. A missing config file yields the defaults.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)
	loadDotEnv(".env", filepath.Join(filepath.Dir(path), ".env"))

	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	default:
		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	ApplyEnv(cfg)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.General.AgentsDir = ExpandPath(cfg.General.AgentsDir)
	cfg.Store.Path = ExpandPath(cfg.Store.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// ApplyEnv overrides file values with the service environment variables.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("HEDERA_NETWORK"); v != "" {
		cfg.Ledger.Network = v
	}
	if v := os.Getenv("HEDERA_OPERATOR_ID"); v != "" {
		cfg.Ledger.OperatorID = v
	}
	if v := os.Getenv("HEDERA_OPERATOR_KEY"); v != "" {
		cfg.Ledger.OperatorKey = v
	}
	if v := os.Getenv("REGISTRY_TOPIC_ID"); v != "" {
		cfg.Ledger.RegistryTopicID = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Ledger.RedisURL = v
	}
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
		cfg.API.Port = p
	}
	if p, err := strconv.Atoi(os.Getenv("SSE_PORT")); err == nil {
		cfg.MCP.Port = p
	}
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
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	// The file may hold the operator key.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	switch cfg.Ledger.Backend {
	case "memory":
	case "redis":
		if cfg.Ledger.RedisURL == "" {
			errs = append(errs, "ledger.redisUrl is required for the redis backend")
		}
	case "hedera":
		if cfg.Ledger.OperatorID == "" || cfg.Ledger.OperatorKey == "" {
			errs = append(errs, "ledger.operatorId and ledger.operatorKey are required for the hedera backend")
		}
	default:
		errs = append(errs, "ledger.backend must be one of: memory, redis, hedera")
	}
	switch cfg.Ledger.Network {
	case "mainnet", "testnet", "previewnet":
	default:
		errs = append(errs, "ledger.network must be one of: mainnet, testnet, previewnet")
	}
	if cfg.Ledger.RateLimitPerSec < 0 {
		errs = append(errs, "ledger.rateLimitPerSecond must be >= 0")
	}
	if cfg.Ledger.InitialBalance < 0 {
		errs = append(errs, "ledger.initialBalance must be >= 0")
	}

	if cfg.Protocol.InlineThreshold < 1 {
		errs = append(errs, "protocol.inlineThreshold must be >= 1")
	}
	if cfg.Protocol.MaxChunkSize < 1 {
		errs = append(errs, "protocol.maxChunkSize must be >= 1")
	}
	if cfg.Protocol.RequestTTLSeconds < 0 {
		errs = append(errs, "protocol.requestTtlSeconds must be >= 0")
	}

	switch cfg.Store.Driver {
	case "memory":
	case "sqlite":
		if cfg.Store.Path == "" {
			errs = append(errs, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, "store.driver must be one of: memory, sqlite, postgres")
	}
	// A memory ledger restarts its id counters in every process, so records
	// kept in a persistent store would point at reused or missing ids.
	if cfg.Ledger.Backend == "memory" && cfg.Store.Driver != "memory" {
		errs = append(errs, "ledger.backend memory requires store.driver memory")
	}

	if cfg.API.Port < 0 || cfg.API.Port > 65535 {
		errs = append(errs, "api.port must be between 0 and 65535")
	}
	if cfg.MCP.Port < 0 || cfg.MCP.Port > 65535 {
		errs = append(errs, "mcp.port must be between 0 and 65535")
	}
	if cfg.API.Enabled && cfg.MCP.Enabled && cfg.API.Port == cfg.MCP.Port && cfg.API.Port != 0 {
		errs = append(errs, "api.port and mcp.port must differ")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if tg := cfg.Notify.Telegram; tg.Enabled {
		if tg.Token == "" {
			errs = append(errs, "notify.telegram.token is required when enabled")
		}
		if len(tg.ChatIDs) == 0 {
			errs = append(errs, "notify.telegram.chatIds must not be empty when enabled")
		}
		for _, id := range tg.ChatIDs {
			if _, err := strconv.ParseInt(id, 10, 64); err != nil {
				errs = append(errs, fmt.Sprintf("notify.telegram.chatIds: %q is not a numeric chat id", id))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
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
