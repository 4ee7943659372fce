package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mandate/internal/audit"
)

var auditSummaryJSON bool

func init() {
	auditSummaryCmd.Flags().BoolVar(&auditSummaryJSON, "json", false, "Print the summary as JSON")
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditSummaryCmd)
	auditCmd.AddCommand(auditTimelineCmd)
	rootCmd.AddCommand(auditCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check and inspect exported ledgers offline",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Verify the hash chain in an export file",
	Long:  "Replays the chain from the founding record in the file alone.\nExits 0 if intact, 4 if broken or unreadable.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditVerify,
}

var auditSummaryCmd = &cobra.Command{
	Use:   "summary <file>",
	Short: "Summarize the events in an export file",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditSummary,
}

var auditTimelineCmd = &cobra.Command{
	Use:   "timeline <file>",
	Short: "Print the events in an export file in chain order",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditTimeline,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	result := audit.VerifyFile(args[0])
	out := cmd.OutOrStdout()
	if !result.Valid {
		if result.ErrorSeq > 0 {
			fmt.Fprintf(out, "BROKEN at seq %d: %s\n", result.ErrorSeq, result.Error)
		} else {
			fmt.Fprintf(out, "BROKEN: %s\n", result.Error)
		}
		return &exitError{code: exitIntegrity, msg: result.Error}
	}
	fmt.Fprintf(out, "OK  %s  %d events  head=%s\n", result.DelegationID, result.Events, result.HeadHash)
	return nil
}

func runAuditSummary(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	x, _, err := audit.ReadExport(f)
	if err != nil {
		return err
	}

	s := audit.Summarize(x)
	if auditSummaryJSON {
		out, err := audit.FormatJSON(s)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), audit.FormatSummary(s))
	return nil
}

func runAuditTimeline(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	x, _, err := audit.ReadExport(f)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), audit.FormatTimeline(x))
	return nil
}
