package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "mandate",
	Short:         "Delegated spending and signing authority with a tamper-evident ledger",
	Long:          "Grants scoped, time-bounded authority to act on behalf of a grantor, evaluates every request\nagainst its policies and ceilings, and records every decision in a hash-chained ledger.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.mandate/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at the configured level instead of warnings only")
}

// Exit codes beyond 0 (authorized / ok) and 1 (error).
const (
	exitDenied    = 2
	exitPending   = 3
	exitIntegrity = 4
)

// exitError ends the process with code after its message has been printed.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
