package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mandate/internal/authority"
	"github.com/ppiankov/mandate/internal/client"
	"github.com/ppiankov/mandate/internal/rpc"
)

var (
	transitionActor  string
	transitionReason string
	transitionRemote string
)

func init() {
	for _, cmd := range []*cobra.Command{suspendCmd, reactivateCmd, revokeCmd} {
		cmd.Flags().StringVar(&transitionActor, "actor", "", "Identity performing the change (required)")
		cmd.Flags().StringVar(&transitionReason, "reason", "", "Reason recorded in the ledger")
		cmd.Flags().StringVar(&transitionRemote, "remote", "", "Address of a mandate server to use instead of the local store")
		_ = cmd.MarkFlagRequired("actor")
		rootCmd.AddCommand(cmd)
	}
}

var suspendCmd = &cobra.Command{
	Use:   "suspend <delegation>",
	Short: "Suspend an active delegation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, args[0], rpc.TransitionSuspend)
	},
}

var reactivateCmd = &cobra.Command{
	Use:   "reactivate <delegation>",
	Short: "Reactivate a suspended delegation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, args[0], rpc.TransitionReactivate)
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <delegation>",
	Short: "Revoke a delegation permanently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, args[0], rpc.TransitionRevoke)
	},
}

func runTransition(cmd *cobra.Command, delegationID, action string) error {
	var receipt authority.Receipt
	if transitionRemote != "" {
		c, err := client.New(transitionRemote)
		if err != nil {
			return err
		}
		defer c.Close()
		receipt, err = c.Transition(cmd.Context(), delegationID, action, transitionActor, transitionReason)
		if err != nil {
			return err
		}
	} else {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		ctx := cmd.Context()
		switch action {
		case rpc.TransitionSuspend:
			receipt, err = e.svc.Suspend(ctx, delegationID, transitionActor, transitionReason)
		case rpc.TransitionReactivate:
			receipt, err = e.svc.Reactivate(ctx, delegationID, transitionActor, transitionReason)
		default:
			receipt, err = e.svc.Revoke(ctx, delegationID, transitionActor, transitionReason)
		}
		if err != nil {
			return err
		}
	}
	printReceipt(cmd, action, receipt)
	return nil
}

func printReceipt(cmd *cobra.Command, what string, r authority.Receipt) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s  seq=%d  head=%s\n", what, r.DelegationID, r.Seq, r.HeadHash)
}
