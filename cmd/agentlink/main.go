package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"agentlink/internal/config"
	"agentlink/internal/engine"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "agentlink",
		Short: "agentlink: agent connection protocol over a consensus ledger",
		Long: `agentlink registers AI agents on a consensus ledger, negotiates
connections between them and exchanges messages over dedicated topics.`,
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.agentlink/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(registerCmd())
	root.AddCommand(profileCmd())
	root.AddCommand(findCmd())
	root.AddCommand(requestCmd())
	root.AddCommand(acceptCmd())
	root.AddCommand(pendingCmd())
	root.AddCommand(connectionsCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(messagesCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(keygenCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			agentsDir := config.ExpandPath(cfg.General.AgentsDir)
			if err := os.MkdirAll(agentsDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "agents", agentsDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config and replaces the bootstrap logger with one
// built from general.logLevel, general.logFormat and general.logFile. The
// returned func closes the log file, if any.
func loadConfig() (*config.Config, func(), error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	l, closeLog, err := newLogger(cfg.General)
	if err != nil {
		return nil, nil, err
	}
	logger = l
	return cfg, closeLog, nil
}

func newLogger(g config.GeneralConfig) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	var w io.Writer = os.Stderr
	closeFn := func() {}
	if g.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(g.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("log directory: %w", err)
		}
		f, err := os.OpenFile(g.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = func() { f.Close() }
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(g.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), closeFn, nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), closeFn, nil
}

// openEngine loads the config and assembles an engine over it. A newly
// created registry topic is written back to the config file so the next
// invocation reuses it.
func openEngine(ctx context.Context) (*engine.Engine, *config.Config, func(), error) {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	cfgPath := resolveConfigPath()
	var opts engine.Options
	// A memory ledger's topics vanish with the process.
	if cfg.Ledger.Backend != "memory" {
		opts.OnRegistryCreated = func(topicID string) {
			persistRegistryTopic(cfgPath, topicID)
		}
	}
	e, err := engine.New(ctx, cfg, opts, logger)
	if err != nil {
		closeLog()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := e.Close(); err != nil {
			logger.Warn("engine close", "err", err)
		}
		closeLog()
	}
	return e, cfg, cleanup, nil
}

func persistRegistryTopic(cfgPath, topicID string) {
	onDisk, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("registry topic not persisted", "topic", topicID, "err", err)
		return
	}
	if err := config.SetByPath(onDisk, "ledger.registryTopicId", topicID); err != nil {
		logger.Warn("registry topic not persisted", "topic", topicID, "err", err)
		return
	}
	if err := config.Save(cfgPath, onDisk); err != nil {
		logger.Warn("registry topic not persisted", "topic", topicID, "err", err)
		return
	}
	logger.Info("registry topic saved", "topic", topicID, "file", cfgPath)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. ledger.backend)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			return printJSON(val)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. protocol.strictHandshake true)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return printJSON(config.ListPaths(config.Sanitize(cfg)))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
