// Package cli implements the bleprobe command tree. Commands print
// human-facing output with fmt; diagnostics go through slog at the
// configured level.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/derSebastian/ble-printer-probe/internal/ble"
	"github.com/derSebastian/ble-printer-probe/internal/config"
	"github.com/derSebastian/ble-printer-probe/internal/profile"
	"github.com/derSebastian/ble-printer-probe/internal/session"
)

const toolName = "bleprobe"

// version is stamped by the release build; "dev" otherwise.
var version = "dev"

// Flag values shared across commands.
var (
	configPath  string
	dbPath      string
	logLevelStr string
	backendStr  string
)

// cfg is the loaded configuration, valid after PersistentPreRunE.
var cfg *config.Config

// labels numbers printed test lines. One counter for the whole process
// keeps labels unique even across repeated probe runs in interactive
// mode.
var labels = &session.LabelCounter{}

// Execute runs the command tree, cancelling command contexts on SIGINT
// and SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Commands().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Commands builds the bleprobe command tree.
func Commands() *cobra.Command {
	root := &cobra.Command{
		Use:   toolName,
		Short: toolName + " identifies the protocol of BLE thermal printers",
		Long: toolName + ` connects to a BLE thermal printer, matches it against a
database of known devices, and walks through a guided probing session
to identify which protocol the printer speaks. The result is a JSON
report suitable for adding the device to the profile database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadConfig(configPath)
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			if logLevelStr != "" {
				cfg.LogLevel = logLevelStr
			}
			if backendStr != "" {
				cfg.BLE.Backend = backendStr
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config: %w", err)
			}

			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: config.ParseLogLevel(cfg.LogLevel),
			})))
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config file (default: "+config.DefaultConfigPath()+")")
	root.PersistentFlags().StringVar(&dbPath, "db", "",
		"profile database file; overrides the configured path")
	root.PersistentFlags().StringVarP(&logLevelStr, "log-level", "l", "",
		"log level: debug, info, warn, or error")
	root.PersistentFlags().StringVarP(&backendStr, "backend", "b", "",
		"BLE backend: hci or portable")

	root.AddCommand(scanCmd())
	root.AddCommand(probeCmd())
	root.AddCommand(profilesCmd())
	root.AddCommand(interactiveCmd())
	root.AddCommand(initCmd())
	root.AddCommand(versionCmd())

	return root
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		c, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Debug("[CLI] config loaded", "path", defaultPath)
		return c, nil
	}

	return config.Default(), nil
}

// loadDatabase opens the configured profile database, falling back to
// the built-in set when no file exists.
func loadDatabase() (*profile.Database, error) {
	return profile.LoadOrBuiltin(cfg.DBPath)
}

// newTransport builds the configured BLE backend, seeding the portable
// scanner with the database's known service UUIDs.
func newTransport(db *profile.Database) (ble.Transport, error) {
	return ble.New(cfg.BLE.Backend, db.ServiceUUIDs())
}
