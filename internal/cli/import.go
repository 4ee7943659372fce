package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mandate/internal/policy"
)

func init() {
	rootCmd.AddCommand(importCmd)
}

var importCmd = &cobra.Command{
	Use:   "import <bundle>",
	Short: "Create the delegations and policies described in a bundle",
	Long:  "Validates the whole bundle first, then creates each delegation and attaches its policies.\nEach policy is signed by the delegation's grantor.",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	bundle, err := policy.LoadBundle(args[0])
	if err != nil {
		return err
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	for _, bd := range bundle.Delegations {
		founding, err := bd.Delegation()
		if err != nil {
			return err
		}
		d, err := e.svc.CreateDelegation(ctx, founding)
		if err != nil {
			return fmt.Errorf("create delegation %s -> %s: %w", bd.Grantor, bd.Delegate, err)
		}
		fmt.Fprintf(out, "delegation %s  %s -> %s  %s\n", d.ID, d.GrantorID, d.DelegateID, d.GenesisHash)
		for _, bp := range bd.Policies {
			p, r, err := e.svc.AddPolicy(ctx, d.ID, bp.Policy(), d.GrantorID)
			if err != nil {
				return fmt.Errorf("add %s policy to %s: %w", bp.Action, d.ID, err)
			}
			fmt.Fprintf(out, "  policy %s  %s  (seq %d)\n", p.ID, p.Action, r.Seq)
		}
	}
	return nil
}
