package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mandate/internal/authority"
	"github.com/ppiankov/mandate/internal/monitor"
)

func init() {
	rootCmd.AddCommand(expireCmd)
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Expire every delegation whose validity window has ended",
	RunE:  runExpire,
}

func runExpire(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	receipts, err := e.svc.ExpireDue(cmd.Context())
	for _, r := range receipts {
		fmt.Fprintf(cmd.OutOrStdout(), "expired %s (seq %d, head %s)\n", r.DelegationID, r.Seq, r.HeadHash)
	}
	if err != nil {
		return err
	}
	if len(receipts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to expire")
	}
	return nil
}

// sweepExpiries runs ExpireDue on the monitor interval until ctx is cancelled.
func sweepExpiries(ctx context.Context, svc *authority.Service, mon *monitor.Monitor, logger *slog.Logger) error {
	ticker := time.NewTicker(mon.Config().Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			receipts, err := svc.ExpireDue(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Error("expiry sweep failed", "error", err)
			}
			if len(receipts) > 0 {
				logger.Info("expired delegations", "count", len(receipts))
			}
		}
	}
}
