package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mandate/internal/config"
	"github.com/ppiankov/mandate/internal/policy"
)

var (
	initForce       bool
	initConfigForce bool
)

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing bundle file")
	initConfigCmd.Flags().BoolVar(&initConfigForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(initConfigCmd)
}

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a delegation bundle template",
	Long:  "Creates a YAML bundle (default ./mandate.yaml) describing one delegation and its policies.\nEdit it, then load it with: mandate import <path>",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInit,
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Generate default config.yaml with comments",
	Long:  "Creates ~/.mandate/config.yaml (or --config) with default storage, monitor and server settings.",
	RunE:  runInitConfig,
}

func runInit(cmd *cobra.Command, args []string) error {
	path := "mandate.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if err := writeNew(path, policy.DefaultBundleYAML(), initForce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	return nil
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if err := writeNew(path, config.DefaultConfigYAML(), initConfigForce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	return nil
}

// writeNew writes content to path, refusing to replace an existing file unless force.
func writeNew(path, content string, force bool) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("cannot create directory: %w", err)
		}
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
