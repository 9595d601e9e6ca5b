// Package commands implements the CLI surface of the analysis
// workstation. The CLI is a thin shell over the public package API;
// reporting and UI live with external collaborators.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/triage/internal/logger"
	"github.com/marmos91/triage/pkg/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"

	cfgFile string
	cfg     *config.Config
)

// rootCmd represents the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "Triage - local malware analysis workstation",
	Long: `Triage is a local, multi-stage malware analysis workstation: static
executable dissection with signature verification, a code reasoning
pipeline, isolated dynamic execution, and packet reconstruction, driven
by a persisted job queue.

Use "triage [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logger.SetLevel(cfg.Logging.Level)
		logger.SetFormat(cfg.Logging.Format)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/triage/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(captureCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("triage %s (%s)\n", Version, Commit)
	},
}
