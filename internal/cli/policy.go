package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mandate/internal/client"
)

var (
	policyActor  string
	policyRemote string
)

func init() {
	policyRemoveCmd.Flags().StringVar(&policyActor, "actor", "", "Identity removing the policy (required)")
	policyRemoveCmd.Flags().StringVar(&policyRemote, "remote", "", "Address of a mandate server to use instead of the local store")
	_ = policyRemoveCmd.MarkFlagRequired("actor")
	policyCmd.AddCommand(policyRemoveCmd)
	policyCmd.AddCommand(policyListCmd)
	rootCmd.AddCommand(policyCmd)
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and remove delegation policies",
}

var policyRemoveCmd = &cobra.Command{
	Use:   "remove <delegation> <policy>",
	Short: "Detach a policy from a delegation",
	Args:  cobra.ExactArgs(2),
	RunE:  runPolicyRemove,
}

var policyListCmd = &cobra.Command{
	Use:   "list <delegation>",
	Short: "List the policies attached to a delegation",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyList,
}

func runPolicyRemove(cmd *cobra.Command, args []string) error {
	if policyRemote != "" {
		c, err := client.New(policyRemote)
		if err != nil {
			return err
		}
		defer c.Close()
		r, err := c.RemovePolicy(cmd.Context(), args[0], args[1], policyActor)
		if err != nil {
			return err
		}
		printReceipt(cmd, "policy removed from", r)
		return nil
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	r, err := e.svc.RemovePolicy(cmd.Context(), args[0], args[1], policyActor)
	if err != nil {
		return err
	}
	printReceipt(cmd, "policy removed from", r)
	return nil
}

func runPolicyList(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	snap, err := e.store.Snapshot(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACTION\tMAX\tCONTROLS")
	for _, p := range snap.Policies {
		limit := "-"
		if p.MaxAmount > 0 {
			limit = fmt.Sprintf("%d %s", p.MaxAmount, p.Currency)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", p.ID, p.Action, limit, p.Controls.Required())
	}
	return w.Flush()
}
