package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"github.com/derSebastian/ble-printer-probe/internal/ble"
	"github.com/derSebastian/ble-printer-probe/internal/gatt"
	"github.com/derSebastian/ble-printer-probe/internal/profile"
	"github.com/derSebastian/ble-printer-probe/internal/protocol"
	"github.com/derSebastian/ble-printer-probe/internal/report"
	"github.com/derSebastian/ble-printer-probe/internal/session"
	"github.com/derSebastian/ble-printer-probe/internal/transport"
)

func probeCmd() *cobra.Command {
	var (
		device  string
		name    string
		outPath string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run a guided protocol-discovery session against one printer",
		Long: `probe scans for the target device, connects, and walks through a
discovery session: known-profile trials, elimination probing on unknown
devices, and ESC/POS capability tests. The operator confirms each test
print at the terminal. The result is a JSON discovery report.

Load paper into the printer before starting.`,
		Example: "  " + toolName + " probe --name GB03\n" +
			"  " + toolName + " probe --device AA:BB:CC:DD:EE:FF --out report.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			if device == "" && name == "" {
				return errors.New("one of --device or --name is required")
			}
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

			adv, err := findTarget(cmd.Context(), tr, device, name, timeout)
			if err != nil {
				return err
			}

			fmt.Printf("Connecting to %s (%s)...\n", adv.DisplayName(), adv.Address)
			per, err := tr.Connect(cmd.Context(), adv)
			if err != nil {
				if errors.Is(err, ble.ErrScanOnly) {
					return fmt.Errorf("the %s backend cannot connect; rerun with --backend hci", cfg.BLE.Backend)
				}
				return err
			}
			defer per.Disconnect()

			snap := per.Snapshot()
			printDeviceBanner(snap, db)

			rep, err := runSession(cmd.Context(), per, db)
			if err != nil {
				return err
			}

			if outPath != "" {
				if err := rep.Save(outPath); err != nil {
					return err
				}
				fmt.Printf("\nReport written to %s\n", outPath)
			} else {
				fmt.Println("\n=== Discovery report ===")
				if err := rep.WriteJSON(os.Stdout); err != nil {
					return err
				}
			}

			printFollowup(rep)
			return nil
		},
	}

	cmd.Flags().StringVarP(&device, "device", "d", "", "target device address")
	cmd.Flags().StringVarP(&name, "name", "n", "", "target device name substring (case-insensitive)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the report JSON to a file instead of stdout")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0,
		"how long to wait for the target's advertisement (default: config scan_timeout_s)")
	return cmd
}

// findTarget scans until an advertisement matches the requested address
// or name. The timeout aborts before any connection is attempted.
func findTarget(ctx context.Context, tr ble.Transport, device, name string, timeout time.Duration) (ble.Advertisement, error) {
	switch {
	case device != "":
		fmt.Printf("Scanning for %s (up to %s)...\n", device, timeout)
	default:
		fmt.Printf("Scanning for a device named %q (up to %s)...\n", name, timeout)
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu    sync.Mutex
		found *ble.Advertisement
	)
	err := tr.Scan(sctx, func(adv ble.Advertisement) {
		if !matchesTarget(adv, device, name) {
			return
		}
		mu.Lock()
		if found == nil {
			a := adv
			found = &a
			cancel()
		}
		mu.Unlock()
	})

	mu.Lock()
	defer mu.Unlock()
	if found != nil {
		return *found, nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return ble.Advertisement{}, err
	}
	if cerr := ctx.Err(); cerr != nil {
		return ble.Advertisement{}, cerr
	}
	return ble.Advertisement{}, fmt.Errorf("no matching device seen within %s", timeout)
}

func matchesTarget(adv ble.Advertisement, device, name string) bool {
	if device != "" {
		return strings.EqualFold(adv.Address, device)
	}
	return adv.Name != "" && strings.Contains(strings.ToLower(adv.Name), strings.ToLower(name))
}

// printDeviceBanner summarizes the connected device before the session
// starts asking questions.
func printDeviceBanner(snap *gatt.Snapshot, db *profile.Database) {
	fmt.Println()
	fmt.Println("=== Device ===")
	if snap.Name != "" {
		fmt.Printf("  Name:     %s\n", snap.Name)
	}
	fmt.Printf("  Address:  %s\n", snap.Address)
	fmt.Printf("  Services: %d (%d writable characteristics)\n",
		len(snap.Services), len(snap.Writable()))
	if matches := profile.MatchAll(snap.ServiceUUIDs(), db); len(matches) > 0 {
		for _, p := range matches {
			fmt.Printf("  Match:    %s (%s, protocol %s)\n", p.ID, p.Name, p.Protocol)
		}
	} else {
		fmt.Println("  Match:    none, will probe for the protocol")
	}
	fmt.Println("==============")
	fmt.Println()
}

// runSession configures and runs a discovery session over an established
// peripheral, with terminal prompts and transfer progress bars.
func runSession(ctx context.Context, per ble.Peripheral, db *profile.Database) (*report.Report, error) {
	opts := session.Options{
		DB: db,
		Chunk: protocol.ChunkParams{
			Size:  cfg.Probe.ChunkSize,
			Delay: cfg.Probe.ChunkDelay(),
		},
		FlushPause: cfg.Probe.FlushPause(),
		Labels:     labels,
		Notify:     progressNotify(),
	}
	oracle := newStdinOracle(os.Stdin, os.Stdout)
	return session.New(per, oracle, opts).Run(ctx)
}

// progressBarThreshold keeps one-chunk test prints from flashing a bar.
const progressBarThreshold = 256

// progressNotify renders a byte-count progress bar per transmission
// stage. Session transmissions run sequentially, so one bar at a time is
// enough.
func progressNotify() transport.Notify {
	var bar *pb.ProgressBar
	return transport.Notify{
		StageStart: func(name string, totalBytes int) {
			if bar != nil {
				bar.Finish()
				bar = nil
			}
			if totalBytes < progressBarThreshold {
				return
			}
			bar = pb.New(totalBytes).
				Set(pb.Bytes, true).
				Set("prefix", "  "+name+" ")
			bar.SetWidth(64)
			bar.Start()
		},
		ChunkSent: func(name string, sentBytes, totalBytes int) {
			if bar == nil {
				return
			}
			bar.SetCurrent(int64(sentBytes))
			if sentBytes >= totalBytes {
				bar.Finish()
				bar = nil
			}
		},
	}
}

// printFollowup tells the operator what to do with the result.
func printFollowup(rep *report.Report) {
	fmt.Println()
	if !rep.Identified() {
		fmt.Println("No protocol could be confirmed. The report is still useful;")
		fmt.Println("please share it so the device can be investigated:")
		if u := rep.IssueURL(cfg.Report.IssueRepo); u != "" {
			fmt.Printf("  %s\n", u)
		}
		return
	}

	fmt.Printf("Protocol identified: %s\n", rep.PrimaryProtocol())
	if len(rep.MatchedProfiles) > 0 {
		return
	}

	// Confirmed but previously unknown: offer the database entry.
	snippet, err := rep.SuggestedProfileYAML()
	if err == nil && snippet != "" {
		fmt.Println("\nThis device is not in the profile database yet.")
		fmt.Println("Suggested entry:")
		fmt.Println()
		fmt.Println(snippet)
	}
	if u := rep.IssueURL(cfg.Report.IssueRepo); u != "" {
		fmt.Println("Share it by opening a prefilled issue:")
		fmt.Printf("  %s\n", u)
	}
}
