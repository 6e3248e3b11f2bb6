package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-pdu/internal/accessory"
	"github.com/nerrad567/gray-logic-pdu/internal/unifi"
)

var flagJSON bool

var outletsCmd = &cobra.Command{
	Use:   "outlets",
	Short: "Inspect and operate PDU outlets through the controller",
}

var outletsListCmd = &cobra.Command{
	Use:   "list [mac...]",
	Short: "List the outlets of the configured (or given) PDUs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		repo, err := newRepository(cfg, log)
		if err != nil {
			return err
		}

		specs := deviceSpecs(cfg.PDUs)
		if len(args) > 0 {
			specs = specs[:0]
			for _, mac := range args {
				specs = append(specs, accessory.DeviceSpec{MAC: mac})
			}
		}

		var rows []outletRow
		for _, spec := range specs {
			ctx, cancel := withTimeout(cmd, cfg.RequestTimeout())
			device, err := repo.FetchDevice(ctx, spec.MAC)
			cancel()
			if err != nil {
				return fmt.Errorf("fetching %s: %w", spec.MAC, err)
			}
			label := spec.Label
			if label == "" {
				label = device.Name
			}
			for _, o := range unifi.FilterOutlets(unifi.SortedOutlets(device), spec.OutletFilter) {
				rows = append(rows, newOutletRow(spec.MAC, label, o))
			}
		}

		if flagJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}
		return printOutlets(cmd.OutOrStdout(), rows)
	},
}

var outletsCycleCmd = &cobra.Command{
	Use:   "cycle <mac> <index>",
	Short: "Power-cycle one outlet",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mac := strings.TrimSpace(args[0])
		index, err := parseIndex(args[1])
		if err != nil {
			return err
		}

		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		repo, err := newRepository(cfg, log)
		if err != nil {
			return err
		}

		ctx, cancel := withTimeout(cmd, cfg.RequestTimeout())
		defer cancel()
		if err := repo.PowerCycle(ctx, mac, index); err != nil {
			return fmt.Errorf("cycling %s outlet %d: %w", mac, index, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cycle requested for %s outlet %d (%s)\n",
			mac, index, accessory.IdentityFor(mac, index))
		return nil
	},
}

func init() {
	outletsListCmd.Flags().BoolVar(&flagJSON, "json", false, "Print outlets as JSON")
	outletsCmd.AddCommand(outletsListCmd, outletsCycleCmd)
	rootCmd.AddCommand(outletsCmd)
}

// outletRow is one line of `outlets list`.
type outletRow struct {
	ID      string           `json:"id"`
	MAC     string           `json:"mac"`
	Device  string           `json:"device"`
	Index   int              `json:"index"`
	Name    string           `json:"name"`
	On      bool             `json:"on"`
	Metered bool             `json:"metered"`
	Reading *unifi.Telemetry `json:"telemetry,omitempty"`
}

func newOutletRow(mac, label string, o unifi.Outlet) outletRow {
	row := outletRow{
		ID:      accessory.IdentityFor(mac, o.Index).String(),
		MAC:     strings.ToLower(mac),
		Device:  label,
		Index:   o.Index,
		Name:    o.Name,
		On:      o.RelayState,
		Metered: unifi.SupportsMetering(o),
	}
	if row.Metered {
		t := unifi.TelemetryOf(o)
		row.Reading = &t
	}
	return row
}

func printOutlets(w io.Writer, rows []outletRow) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tINDEX\tNAME\tSTATE\tPOWER\tID")
	for _, r := range rows {
		state := "off"
		if r.On {
			state = "on"
		}
		power := "-"
		if r.Reading != nil {
			power = strconv.FormatFloat(r.Reading.Power, 'f', 1, 64) + " W"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n", r.Device, r.Index, r.Name, state, power, r.ID)
	}
	return tw.Flush()
}

// parseIndex validates a 1-based outlet index argument.
func parseIndex(s string) (int, error) {
	index, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || index < 1 {
		return 0, fmt.Errorf("invalid outlet index %q: must be a positive integer", s)
	}
	return index, nil
}
