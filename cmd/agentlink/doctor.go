package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"agentlink/internal/config"
	"agentlink/internal/domain"
	"agentlink/internal/keys"
	"agentlink/internal/ledger"
	"agentlink/internal/store"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your agentlink installation",
		Long: `Verifies that the configuration, store, ledger backend and listen ports
are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("agentlink doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			r := &report{}

			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s (using defaults)", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			if err := checkStore(ctx, cfg.Store); err != nil {
				r.fail("Store", err.Error())
			} else {
				r.pass("Store", storeDetail(cfg.Store))
			}

			if cfg.Store.KeySecret == "" && cfg.Store.Driver != "memory" {
				r.warn("Key sealing", "store.keySecret not set; agent keys are stored in clear")
			} else {
				r.pass("Key sealing", "enabled")
			}

			detail, err := checkLedger(ctx, cfg.Ledger)
			switch {
			case err != nil:
				r.fail("Ledger", err.Error())
			case cfg.Ledger.Backend == "memory":
				r.warn("Ledger", detail)
			default:
				r.pass("Ledger", detail)
			}

			if cfg.Ledger.RegistryTopicID == "" {
				r.warn("Registry", "no registry topic yet; the first registration creates one")
			} else {
				r.pass("Registry", cfg.Ledger.RegistryTopicID)
			}

			if cfg.API.Enabled {
				r.port("API port", cfg.API.Host, cfg.API.Port)
			}
			if cfg.MCP.Enabled {
				r.port("MCP port", cfg.MCP.Host, cfg.MCP.Port)
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			if cfg.General.AgentsDir != "" {
				defs, err := os.ReadDir(cfg.General.AgentsDir)
				if err != nil {
					r.warn("Agent definitions", fmt.Sprintf("%s not readable", cfg.General.AgentsDir))
				} else {
					r.pass("Agent definitions", fmt.Sprintf("%s (%d entries)", cfg.General.AgentsDir, len(defs)))
				}
			}

			return r.summary()
		},
	}
}

type report struct {
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *report) fail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func (r *report) warn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func (r *report) port(check, host string, port int) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if err := checkPort(addr); err != nil {
		r.warn(check, fmt.Sprintf("%s may be in use: %v", addr, err))
		return
	}
	r.pass(check, addr+" available")
}

func (r *report) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running agentlink.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nagentlink should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! agentlink is ready to run.\n")
	}
	return nil
}

func storeDetail(cfg config.StoreConfig) string {
	switch cfg.Driver {
	case "sqlite":
		return "sqlite " + cfg.Path
	case "postgres":
		return "postgres"
	default:
		return cfg.Driver
	}
}

// checkStore opens the store, which runs pending migrations, and reads from it.
func checkStore(ctx context.Context, cfg config.StoreConfig) error {
	st, err := store.New(ctx, store.Config{
		Driver:    cfg.Driver,
		Path:      cfg.Path,
		DSN:       cfg.DSN,
		KeySecret: cfg.KeySecret,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer st.Close()
	if _, err := st.ListAgents(ctx); err != nil {
		return fmt.Errorf("cannot read: %w", err)
	}
	return nil
}

func checkLedger(ctx context.Context, cfg config.LedgerConfig) (string, error) {
	switch cfg.Backend {
	case "memory":
		return "in-memory ledger; state is lost on exit", nil
	case "redis":
		r, err := ledger.NewRedis(ctx, cfg.RedisURL, cfg.RedisPrefix, keys.PrivateKey{})
		if err != nil {
			return "", err
		}
		defer r.Close()
		return "redis reachable", nil
	case "hedera":
		if _, err := keys.ParsePrivateKey(cfg.OperatorKey); err != nil {
			return "", fmt.Errorf("operator key: %w", err)
		}
		base := cfg.MirrorURL
		if base == "" {
			base = ledger.MirrorURL(cfg.Network)
		}
		if cfg.RegistryTopicID == "" {
			return fmt.Sprintf("%s operator %s (mirror %s not probed)", cfg.Network, cfg.OperatorID, base), nil
		}
		mirror := ledger.NewMirror(ledger.MirrorConfig{BaseURL: base, Logger: logger})
		if _, err := mirror.ReadMessages(ctx, cfg.RegistryTopicID, domain.ReadOptions{Limit: 1}); err != nil {
			return "", fmt.Errorf("mirror %s: %w", base, err)
		}
		return fmt.Sprintf("%s operator %s, mirror %s", cfg.Network, cfg.OperatorID, base), nil
	default:
		return "", fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
