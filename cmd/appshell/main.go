// oreon/appshell · watchthelight <wtl>

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

var (
	configPath string
	headless   bool
)

// exitCodeError carries a non-zero shell exit code out of cobra.
type exitCodeError int

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exited with code %d", int(e))
}

var rootCmd = &cobra.Command{
	Use:           "appshell",
	Short:         "Desktop application shell",
	Long:          "Runs the application shell: splash and main window, tray icon, single-instance lock and self-update.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShell(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default "+defaultConfigHint()+")")
	rootCmd.Flags().BoolVar(&headless, "headless", false, "run without a tray icon or desktop notifications")

	rootCmd.AddCommand(ctlCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var code exitCodeError
		if errors.As(err, &code) {
			os.Exit(int(code))
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
