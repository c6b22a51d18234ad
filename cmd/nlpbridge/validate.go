package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/keepmind9/nlpbridge/internal/core"
	"github.com/keepmind9/nlpbridge/pkg/constants"
	"github.com/spf13/cobra"
)

var (
	validateConfigFile string
	validateJSON       bool
)

// ValidationResult represents the validation result
type ValidationResult struct {
	Valid      bool     `json:"valid"`
	Config     string   `json:"config"`
	AppName    string   `json:"app_name,omitempty"`
	Processor  string   `json:"processor,omitempty"`
	Connectors []string `json:"connectors,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate nlpbridge configuration file",
	Long: `Validate the nlpbridge configuration file without starting the service.

This command checks:
  - YAML syntax
  - Environment variable references
  - NLP processor settings
  - Connector credentials

Exit codes:
  0 - Configuration is valid
  1 - Configuration has errors`,
	Run: func(cmd *cobra.Command, args []string) {
		configFile := validateConfigFile
		if configFile == "" {
			configFile = findConfigFile()
		}

		if configFile == "" {
			fmt.Println("❌ No configuration file found")
			fmt.Println("\nSpecify a config file with --config or ensure one exists at:")
			for _, loc := range defaultConfigLocations() {
				fmt.Printf("  - %s\n", loc)
			}
			os.Exit(1)
		}

		result := validateFile(configFile)
		outputValidationResult(os.Stdout, result, validateJSON)

		if !result.Valid {
			os.Exit(1)
		}
	},
}

// validateFile loads a config file and collects errors and warnings
func validateFile(configFile string) ValidationResult {
	cfg, err := core.LoadConfig(configFile)
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Config: configFile,
			Errors: []string{err.Error()},
		}
	}

	return ValidationResult{
		Valid:      true,
		Config:     configFile,
		AppName:    cfg.AppName,
		Processor:  cfg.NLP.Processor,
		Connectors: cfg.EnabledConnectors(),
		Warnings:   validateConfigDetails(cfg),
	}
}

// validateConfigDetails reports settings that load fine but are likely mistakes
func validateConfigDetails(cfg *core.Config) []string {
	var warnings []string

	if cfg.NLP.Processor == constants.ProcessorNone {
		warnings = append(warnings, "NLP processor is 'none' - inbound messages will be dropped")
	}

	for _, name := range cfg.EnabledConnectors() {
		connector := cfg.Connectors[name]
		switch name {
		case constants.TelegramConnectorName:
			if connector.Token == "" && os.Getenv(constants.TelegramTokenEnv) == "" {
				warnings = append(warnings, fmt.Sprintf("Connector '%s' has no token and %s is not set", name, constants.TelegramTokenEnv))
			}
		case constants.DiscordConnectorName:
			if connector.Token == "" && os.Getenv(constants.DiscordTokenEnv) == "" {
				warnings = append(warnings, fmt.Sprintf("Connector '%s' has no token and %s is not set", name, constants.DiscordTokenEnv))
			}
		}
		if connector.Log != nil && !*connector.Log {
			warnings = append(warnings, fmt.Sprintf("Logging is disabled for connector '%s' - its errors will not be reported", name))
		}
	}

	return warnings
}

func outputValidationResult(w io.Writer, result ValidationResult, jsonFormat bool) {
	if jsonFormat {
		output, err := json.Marshal(result)
		if err != nil {
			fmt.Fprintf(w, "{\"error\": \"failed to marshal json: %v\"}\n", err)
			return
		}
		fmt.Fprintln(w, string(output))
		return
	}

	if result.Valid {
		fmt.Fprintln(w, "✓ Configuration is valid")
		fmt.Fprintf(w, "  - Config: %s\n", result.Config)
		fmt.Fprintf(w, "  - App name: %s\n", result.AppName)
		fmt.Fprintf(w, "  - NLP processor: %s\n", result.Processor)
		fmt.Fprintf(w, "  - Connectors enabled: %d %v\n", len(result.Connectors), result.Connectors)
		if len(result.Warnings) > 0 {
			fmt.Fprintln(w, "\n⚠️  Warnings:")
			for _, warning := range result.Warnings {
				fmt.Fprintf(w, "  - %s\n", warning)
			}
		}
		return
	}

	fmt.Fprintln(w, "❌ Configuration validation failed:")
	if len(result.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, errMsg := range result.Errors {
			fmt.Fprintf(w, "  - %s\n", errMsg)
		}
	}
}

func init() {
	validateCmd.Flags().StringVarP(&validateConfigFile, "config", "c", "", "Configuration file path")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output in JSON format")
}
