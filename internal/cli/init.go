package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/derSebastian/ble-printer-probe/internal/config"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file to edit",
		Long: `init writes a commented default configuration to ` + config.DefaultConfigPath() + `.
An existing config file is left untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.WriteDefault()
			if err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			if path == "" {
				fmt.Printf("Config already exists at %s, leaving it alone.\n", config.DefaultConfigPath())
				return nil
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
}
