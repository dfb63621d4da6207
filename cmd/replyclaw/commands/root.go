// Package commands implements the replyclaw CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/responder"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "replyclaw",
		Short: "ReplyClaw - WhatsApp Web auto-responder",
		Long: `ReplyClaw drives a WhatsApp Web session in a real browser,
detects new conversations and answers them with a configured template,
with session backup/restore and duplicate-reply protection.

Examples:
  replyclaw serve
  replyclaw serve --config ./config.yaml
  replyclaw backups list
  replyclaw templates list`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newBackupsCmd(),
		newTemplatesCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// resolveConfig loads the config named by --config, or searches standard
// locations, or falls back to defaults.
func resolveConfig(cmd *cobra.Command) (*responder.Config, string, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = responder.FindConfigFile()
	}
	if path == "" {
		return responder.DefaultConfig(), "", nil
	}
	cfg, err := responder.LoadConfigFromFile(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}
