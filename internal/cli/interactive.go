package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	ishell "gopkg.in/abiosoft/ishell.v2"

	"github.com/derSebastian/ble-printer-probe/internal/ble"
	"github.com/derSebastian/ble-printer-probe/internal/gatt"
	"github.com/derSebastian/ble-printer-probe/internal/profile"
	"github.com/derSebastian/ble-printer-probe/internal/protocol"
	"github.com/derSebastian/ble-printer-probe/internal/report"
	"github.com/derSebastian/ble-printer-probe/internal/session"
)

// console is the state behind interactive mode. ishell dispatches one
// command at a time, so plain fields suffice.
type console struct {
	ctx     context.Context
	db      *profile.Database
	tr      ble.Transport
	targets []ble.Advertisement
	per     ble.Peripheral
	last    *report.Report
}

func interactiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Run " + toolName + " as an interactive console",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := loadDatabase()
			if err != nil {
				return err
			}
			tr, err := newTransport(db)
			if err != nil {
				return err
			}
			cs := &console{ctx: cmd.Context(), db: db, tr: tr}

			// New shell; exit, help, and clear come built in.
			shell := ishell.New()
			shell.SetPrompt(toolName + "> ")

			shell.Println()
			shell.Println(" " + toolName + " interactive mode")
			shell.Printf("   backend: %s, %d profile(s) loaded\n", cfg.BLE.Backend, db.Len())
			shell.Println("   scan, connect, services, probe, report, disconnect. 'help' lists details.")
			shell.Println()

			shell.AddCmd(&ishell.Cmd{
				Name: "scan",
				Help: "scan for advertising devices",
				Func: cs.scan,
			})
			shell.AddCmd(&ishell.Cmd{
				Name: "connect",
				Help: "connect to a device: connect <number|address>",
				Func: cs.connect,
			})
			shell.AddCmd(&ishell.Cmd{
				Name: "services",
				Help: "list the connected device's services and characteristics",
				Func: cs.services,
			})
			shell.AddCmd(&ishell.Cmd{
				Name: "probe",
				Help: "run a discovery session against the connected device",
				Func: cs.probe,
			})
			shell.AddCmd(&ishell.Cmd{
				Name: "report",
				Help: "print the last report, or save it: report [FILE]",
				Func: cs.report,
			})
			shell.AddCmd(&ishell.Cmd{
				Name: "disconnect",
				Help: "drop the current connection",
				Func: cs.disconnect,
			})

			shell.Run()
			shell.Close()

			if cs.per != nil {
				cs.per.Disconnect()
			}
			return nil
		},
	}
}

func (cs *console) scan(c *ishell.Context) {
	timeout := cfg.BLE.ScanTimeout()
	c.Printf("Scanning for %s...\n", timeout)

	ctx, cancel := context.WithTimeout(cs.ctx, timeout)
	defer cancel()

	cs.targets = cs.targets[:0]
	index := make(map[string]int)
	err := cs.tr.Scan(ctx, func(adv ble.Advertisement) {
		if i, ok := index[adv.Address]; ok {
			if cs.targets[i].Name == "" && adv.Name != "" {
				cs.targets[i] = adv
			}
			return
		}
		index[adv.Address] = len(cs.targets)
		cs.targets = append(cs.targets, adv)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.Println("Error:", err)
		return
	}

	if len(cs.targets) == 0 {
		c.Println("No devices seen.")
		return
	}
	for i, adv := range cs.targets {
		line := fmt.Sprintf("  [%d] %-17s  %4d dBm  %s", i+1, adv.Address, adv.RSSI, adv.DisplayName())
		if hints := profileHints(adv.Services, cs.db); hints != "" {
			line += "  " + hints
		}
		c.Println(line)
	}
}

// resolveTarget accepts a number from the last scan listing or a raw
// address.
func (cs *console) resolveTarget(arg string) ble.Advertisement {
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(cs.targets) {
		return cs.targets[n-1]
	}
	for _, adv := range cs.targets {
		if strings.EqualFold(adv.Address, arg) {
			return adv
		}
	}
	return ble.Advertisement{Address: arg}
}

func (cs *console) connect(c *ishell.Context) {
	if len(c.Args) != 1 {
		c.Println("usage: connect <number|address>")
		return
	}
	adv := cs.resolveTarget(c.Args[0])

	if cs.per != nil {
		cs.per.Disconnect()
		cs.per = nil
	}

	c.Printf("Connecting to %s...\n", adv.DisplayName())
	per, err := cs.tr.Connect(cs.ctx, adv)
	if err != nil {
		if errors.Is(err, ble.ErrScanOnly) {
			c.Println("This backend is scan-only; restart with --backend hci to connect.")
			return
		}
		c.Println("Error:", err)
		return
	}
	cs.per = per

	snap := per.Snapshot()
	c.Printf("Connected: %d service(s), %d writable characteristic(s)\n",
		len(snap.Services), len(snap.Writable()))
	for _, p := range profile.MatchAll(snap.ServiceUUIDs(), cs.db) {
		c.Printf("  matches profile %s (%s)\n", p.ID, p.Name)
	}
}

func (cs *console) services(c *ishell.Context) {
	if cs.per == nil {
		c.Println("Not connected. Use connect first.")
		return
	}
	for _, svc := range cs.per.Snapshot().Services {
		c.Printf("service %s\n", svc.UUID)
		for _, ch := range svc.Characteristics {
			c.Printf("  %s  [%s]\n", gatt.Short(ch.UUID), strings.Join(ch.Props.Names(), " "))
		}
	}
}

func (cs *console) probe(c *ishell.Context) {
	if cs.per == nil {
		c.Println("Not connected. Use connect first.")
		return
	}
	c.Println("Starting discovery. Make sure paper is loaded.")

	opts := session.Options{
		DB: cs.db,
		Chunk: protocol.ChunkParams{
			Size:  cfg.Probe.ChunkSize,
			Delay: cfg.Probe.ChunkDelay(),
		},
		FlushPause: cfg.Probe.FlushPause(),
		Labels:     labels,
	}
	rep, err := session.New(cs.per, ishellOracle{c}, opts).Run(cs.ctx)
	if err != nil {
		c.Println("Error:", err)
		return
	}
	cs.last = rep

	if rep.Identified() {
		c.Printf("Protocol identified: %s\n", rep.PrimaryProtocol())
	} else {
		c.Println("No protocol confirmed.")
	}
	c.Println("Type 'report' for the full JSON, or 'report FILE' to save it.")
}

func (cs *console) report(c *ishell.Context) {
	if cs.last == nil {
		c.Println("No report yet. Run probe first.")
		return
	}
	if len(c.Args) == 1 {
		if err := cs.last.Save(c.Args[0]); err != nil {
			c.Println("Error:", err)
			return
		}
		c.Printf("Report written to %s\n", c.Args[0])
		return
	}

	var sb strings.Builder
	if err := cs.last.WriteJSON(&sb); err != nil {
		c.Println("Error:", err)
		return
	}
	c.Print(sb.String())
}

func (cs *console) disconnect(c *ishell.Context) {
	if cs.per == nil {
		c.Println("Not connected.")
		return
	}
	if err := cs.per.Disconnect(); err != nil {
		c.Println("Error:", err)
	}
	cs.per = nil
	cs.last = nil
	c.Println("Disconnected.")
}

// ishellOracle adapts the shell's line reader to session questioning.
type ishellOracle struct {
	c *ishell.Context
}

var _ session.Oracle = ishellOracle{}

func (o ishellOracle) Confirm(question string) (bool, error) {
	for {
		o.c.Printf("%s [y/n]: ", question)
		line, err := o.c.ReadLineErr()
		if err != nil {
			return false, fmt.Errorf("reading answer: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		o.c.Println("Please answer y or n.")
	}
}

func (o ishellOracle) Ask(question, defaultValue string) (string, error) {
	if defaultValue != "" {
		o.c.Printf("%s [%s]: ", question, defaultValue)
	} else {
		o.c.Printf("%s: ", question)
	}
	line, err := o.c.ReadLineErr()
	if err != nil {
		return "", fmt.Errorf("reading answer: %w", err)
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		return defaultValue, nil
	}
	return answer, nil
}
