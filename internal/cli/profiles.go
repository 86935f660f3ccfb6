package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/derSebastian/ble-printer-probe/internal/gatt"
	"github.com/derSebastian/ble-printer-probe/internal/profile"
)

func profilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspect and update the known-printer profile database",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}
	cmd.AddCommand(profilesListCmd())
	cmd.AddCommand(profilesShowCmd())
	cmd.AddCommand(profilesUpdateCmd())
	return cmd
}

func profilesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known printer profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := loadDatabase()
			if err != nil {
				return err
			}
			fmt.Printf("%d profile(s), database version %d:\n\n", db.Len(), db.Version)
			fmt.Printf("  %-12s %-8s %-10s %s\n", "ID", "PROTOCOL", "SERVICE", "NAME")
			for _, p := range db.Profiles {
				fmt.Printf("  %-12s %-8s %-10s %s\n",
					p.ID, p.Protocol, gatt.Short(p.BLE.ServiceUUID), p.Name)
			}
			return nil
		},
	}
}

func profilesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one profile in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := loadDatabase()
			if err != nil {
				return err
			}
			p, ok := db.Get(args[0])
			if !ok {
				return fmt.Errorf("no profile with id %q (try: %s profiles list)", args[0], toolName)
			}
			data, err := yaml.Marshal(p)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func profilesUpdateCmd() *cobra.Command {
	var srcURL string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Download the community profile database",
		Long: `update fetches the shared profile database over HTTPS and replaces
the local copy atomically. A download that does not parse as a valid
database never clobbers the existing file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if srcURL == "" {
				srcURL = cfg.DBURL
			}
			if cfg.DBPath == "" {
				return fmt.Errorf("no db_path configured to store the database")
			}

			fmt.Printf("Fetching %s\n", srcURL)
			db, err := fetchDatabase(cmd.Context(), srcURL, cfg.DBPath)
			if err != nil {
				return err
			}
			fmt.Printf("Updated %s: version %d, %d profile(s)\n",
				cfg.DBPath, db.Version, db.Len())
			return nil
		},
	}

	cmd.Flags().StringVar(&srcURL, "url", "", "database URL (default: config db_url)")
	return cmd
}

// fetchDatabase downloads and installs a database file, rendering the
// transfer progress on stdout.
func fetchDatabase(ctx context.Context, url, dest string) (*profile.Database, error) {
	return profile.Fetch(ctx, url, dest, os.Stdout)
}
