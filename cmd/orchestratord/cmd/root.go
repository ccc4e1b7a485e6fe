package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version   string
	buildTime string
	gitCommit string

	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "orchestratord",
	Short: "Per-user LoRA adapter composition and inference server",
	Long: `orchestratord serves per-user LoRA-adapted inference over a shared
base model, composing each user's adapter on demand and caching the
result behind a bounded, idle-evicting cache.

Configuration is read from environment variables, optionally overlaid
with a YAML file passed via --config.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to an optional YAML config overlay")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// SetVersion records build-time version info for the version command.
func SetVersion(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("orchestratord version %s\n", version)
		fmt.Printf("build time: %s\n", buildTime)
		fmt.Printf("git commit: %s\n", gitCommit)
	},
}
