package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mandate/internal/client"
	"github.com/ppiankov/mandate/internal/model"
)

// requestFlags holds the action context given on the command line.
type requestFlags struct {
	delegation string
	action     string
	amount     int64
	currency   string
	bureau     string
	project    string
	supplier   string
	category   string
	docRef     string
	docType    string
	requester  string
	at         string
	remote     string
	jsonOutput bool
}

var (
	authorizeFlags requestFlags
	evaluateFlags  requestFlags
)

func init() {
	addRequestFlags(authorizeCmd, &authorizeFlags)
	addRequestFlags(evaluateCmd, &evaluateFlags)
	rootCmd.AddCommand(authorizeCmd)
	rootCmd.AddCommand(evaluateCmd)
}

func addRequestFlags(cmd *cobra.Command, f *requestFlags) {
	cmd.Flags().StringVar(&f.delegation, "delegation", "", "Delegation id")
	cmd.Flags().StringVar(&f.action, "action", "", "Action kind (sign, pay, approve-purchase)")
	cmd.Flags().Int64Var(&f.amount, "amount", 0, "Amount in minor units")
	cmd.Flags().StringVar(&f.currency, "currency", "", "ISO currency code")
	cmd.Flags().StringVar(&f.bureau, "bureau", "", "Bureau the action is taken for")
	cmd.Flags().StringVar(&f.project, "project", "", "Project")
	cmd.Flags().StringVar(&f.supplier, "supplier", "", "Supplier")
	cmd.Flags().StringVar(&f.category, "category", "", "Spending category")
	cmd.Flags().StringVar(&f.docRef, "doc-ref", "", "Reference of the document acted on")
	cmd.Flags().StringVar(&f.docType, "doc-type", "", "Type of the document acted on")
	cmd.Flags().StringVar(&f.requester, "requester", "", "Identity of the requester")
	cmd.Flags().StringVar(&f.at, "at", "", "Request time, RFC 3339 (default now)")
	cmd.Flags().StringVar(&f.remote, "remote", "", "Address of a mandate server to use instead of the local store")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "Print the result as JSON")
}

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Evaluate a request and record the decision",
	Long:  "Evaluates the request against the delegation and records the verdict in its ledger.\nExits 0 if AUTHORIZED, 2 if DENIED, 3 if PENDING_CONTROL, 1 on error (nothing recorded).",
	RunE:  runAuthorize,
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Dry-run a request without recording anything",
	Long:  "Same evaluation as authorize against the current state, but nothing is written.",
	RunE:  runEvaluate,
}

func (f *requestFlags) context() (model.ActionContext, error) {
	at := time.Now().UTC()
	if f.at != "" {
		t, err := time.Parse(time.RFC3339, f.at)
		if err != nil {
			return model.ActionContext{}, fmt.Errorf("%w: --at: %v", model.ErrValidation, err)
		}
		at = t.UTC()
	}
	return model.ActionContext{
		DelegationID: f.delegation,
		Action:       model.ActionKind(f.action),
		Amount:       f.amount,
		Currency:     strings.ToUpper(f.currency),
		Bureau:       f.bureau,
		Project:      f.project,
		Supplier:     f.supplier,
		Category:     f.category,
		DocumentRef:  f.docRef,
		DocumentType: f.docType,
		RequesterID:  f.requester,
		Timestamp:    at,
	}, nil
}

func runAuthorize(cmd *cobra.Command, args []string) error {
	f := &authorizeFlags
	actx, err := f.context()
	if err != nil {
		return err
	}

	var result any
	var eval model.Evaluation
	if f.remote != "" {
		c, err := client.New(f.remote)
		if err != nil {
			return err
		}
		defer c.Close()
		dec, err := c.Authorize(cmd.Context(), actx)
		if err != nil {
			return err
		}
		result, eval = dec, dec.Evaluation
	} else {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		dec, err := e.svc.Authorize(cmd.Context(), actx)
		if err != nil {
			return err
		}
		result, eval = dec, dec.Evaluation
	}

	if err := printEvaluation(cmd.OutOrStdout(), eval, result, f.jsonOutput); err != nil {
		return err
	}
	return verdictExit(eval)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	f := &evaluateFlags
	actx, err := f.context()
	if err != nil {
		return err
	}

	var eval model.Evaluation
	if f.remote != "" {
		c, err := client.New(f.remote)
		if err != nil {
			return err
		}
		defer c.Close()
		eval, err = c.Evaluate(cmd.Context(), actx)
		if err != nil {
			return err
		}
	} else {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		eval, err = e.svc.Evaluate(cmd.Context(), actx)
		if err != nil {
			return err
		}
	}

	if err := printEvaluation(cmd.OutOrStdout(), eval, eval, f.jsonOutput); err != nil {
		return err
	}
	return verdictExit(eval)
}

func printEvaluation(w io.Writer, eval model.Evaluation, full any, asJSON bool) error {
	if asJSON {
		out, err := json.MarshalIndent(full, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(out))
		return nil
	}
	fmt.Fprintf(w, "%s  %s  risk=%s", eval.Result, eval.Code, eval.RiskLevel)
	if eval.PolicyID != "" {
		fmt.Fprintf(w, "  policy=%s", eval.PolicyID)
	}
	fmt.Fprintln(w)
	for _, r := range eval.Reasons {
		fmt.Fprintf(w, "  - %s\n", r)
	}
	for _, c := range eval.Controls {
		fmt.Fprintf(w, "  control: %s\n", c)
	}
	for _, r := range eval.Recommendations {
		fmt.Fprintf(w, "  recommend: %s\n", r)
	}
	return nil
}

func verdictExit(eval model.Evaluation) error {
	switch eval.Result {
	case model.Authorized:
		return nil
	case model.PendingControl:
		return &exitError{code: exitPending, msg: string(eval.Result)}
	default:
		return &exitError{code: exitDenied, msg: string(eval.Result)}
	}
}
