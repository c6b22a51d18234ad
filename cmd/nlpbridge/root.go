package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nlpbridge",
	Short: "nlpbridge connects chat platforms to an NLP processor",
	Long: `nlpbridge is a lightweight bridge that connects chat platforms
(Telegram, Discord, Feishu, DingTalk) to an NLP processor. Every inbound
text message is sent to the processor and its answer is replied to the
chat the message came from.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

// defaultConfigLocations are searched in order when no --config is given
func defaultConfigLocations() []string {
	return []string{
		"config.yaml",
		filepath.Join(os.Getenv("HOME"), ".config/nlpbridge/config.yaml"),
		"/etc/nlpbridge/config.yaml",
	}
}

// findConfigFile returns the first existing default config file, or ""
func findConfigFile() string {
	for _, loc := range defaultConfigLocations() {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}
