package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/derSebastian/ble-printer-probe/internal/ble"
	"github.com/derSebastian/ble-printer-probe/internal/profile"
)

func scanCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List advertising BLE devices with known-printer hints",
		Example: "  " + toolName + " scan\n" +
			"  " + toolName + " scan --timeout 10s --backend portable",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := loadDatabase()
			if err != nil {
				return err
			}
			tr, err := newTransport(db)
			if err != nil {
				return err
			}
			if timeout <= 0 {
				timeout = cfg.BLE.ScanTimeout()
			}

			fmt.Printf("Scanning for %s (backend: %s). Ctrl+C to stop early.\n\n",
				timeout, cfg.BLE.Backend)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			seen := make(map[string]ble.Advertisement)
			err = tr.Scan(ctx, func(adv ble.Advertisement) {
				prev, ok := seen[adv.Address]
				seen[adv.Address] = adv
				if ok && prev.Name != "" {
					return
				}
				if ok && adv.Name == "" {
					return
				}
				printAdvertisement(adv, db)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			fmt.Printf("\nFound %d device(s).\n", len(seen))
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0,
		"scan duration (default: config scan_timeout_s)")
	return cmd
}

func printAdvertisement(adv ble.Advertisement, db *profile.Database) {
	name := adv.Name
	if name == "" {
		name = "(no name)"
	}
	line := fmt.Sprintf("  %-17s  %4d dBm  %-20s", adv.Address, adv.RSSI, name)
	if hints := profileHints(adv.Services, db); hints != "" {
		line += "  " + hints
	}
	fmt.Println(line)
}

// profileHints names the profiles whose service UUID appears in the
// advertisement, most confident first.
func profileHints(services []string, db *profile.Database) string {
	matches := profile.MatchAll(services, db)
	if len(matches) == 0 {
		return ""
	}
	ids := make([]string, len(matches))
	for i, p := range matches {
		ids[i] = p.ID
	}
	return "matches: " + strings.Join(ids, ", ")
}
