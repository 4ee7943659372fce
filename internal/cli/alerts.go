package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mandate/internal/audit"
	"github.com/ppiankov/mandate/internal/client"
	"github.com/ppiankov/mandate/internal/monitor"
)

var (
	alertsJSON   bool
	alertsRemote string
)

func init() {
	alertsCmd.Flags().BoolVar(&alertsJSON, "json", false, "Print alerts as JSON")
	alertsCmd.Flags().StringVar(&alertsRemote, "remote", "", "Address of a mandate server to use instead of the local store")
	rootCmd.AddCommand(alertsCmd)
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show expiry, threshold and pending-control alerts",
	Long:  "Runs one monitor scan against the local store, or fetches the server's latest scan with --remote.\nAlerts are ordered most critical first. Nothing is written.",
	RunE:  runAlerts,
}

func runAlerts(cmd *cobra.Command, args []string) error {
	var alerts []monitor.Alert
	if alertsRemote != "" {
		c, err := client.New(alertsRemote)
		if err != nil {
			return err
		}
		defer c.Close()
		alerts, err = c.Alerts(cmd.Context())
		if err != nil {
			return err
		}
	} else {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		alerts, err = e.monitor().Scan(cmd.Context())
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if alertsJSON {
		s, err := audit.FormatJSON(alerts)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
		return nil
	}
	if len(alerts) == 0 {
		fmt.Fprintln(out, "No alerts.")
		return nil
	}
	for _, a := range alerts {
		fmt.Fprintf(out, "%-8s %-18s %s  %s\n", a.Level, a.Kind, a.DelegationID, a.Message)
	}
	return nil
}
