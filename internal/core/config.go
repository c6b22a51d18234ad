// Package core provides the host container and configuration management for nlpbridge.
//
// The host container is what connectors plug into. It owns:
//
//   - the configuration Registry connectors register their defaults into
//   - the logger and the optional NLP Processor handed to every connector
//   - the connector lifecycle (register defaults, initialize, close, exit)
//
// # Configuration
//
// Configuration is loaded from a YAML file with the following sections:
//
//   - app_name: application name sent with every NLP request
//   - nlp: processor selection (echo, openai, none)
//   - connectors: per-platform connector settings
//   - logging: log configuration
//
// # Example Configuration
//
//	app_name: "support-bot"
//	nlp:
//	  processor: "openai"
//	  openai:
//	    api_key: "${OPENAI_API_KEY}"
//	connectors:
//	  telegram:
//	    enabled: true
//	    token: "${TELEGRAM_TOKEN}"
package core

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/keepmind9/nlpbridge/pkg/constants"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLogLevel = "info"
)

var knownConnectors = map[string]struct{}{
	constants.TelegramConnectorName: {},
	constants.DiscordConnectorName:  {},
	constants.FeishuConnectorName:   {},
	constants.DingTalkConnectorName: {},
}

// DefaultConfig returns the configuration used when no config file is given:
// a Telegram connector answering through the echo processor.
func DefaultConfig() *Config {
	config := &Config{
		Connectors: map[string]ConnectorConfig{
			constants.TelegramConnectorName: {Enabled: true},
		},
	}
	// Defaults cannot fail validation
	_ = validateConfig(config)
	return config
}

// LoadConfig loads configuration from file and expands environment variables
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData, err := expandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// envRefPattern matches ${VAR_NAME}. Bare $NAME and $1 are left as written.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR_NAME} patterns with environment variable values
func expandEnv(input string) (string, error) {
	var missingVars []string

	result := envRefPattern.ReplaceAllStringFunc(input, func(ref string) string {
		key := envRefPattern.FindStringSubmatch(ref)[1]
		if val := os.Getenv(key); val != "" {
			return val
		}
		missingVars = append(missingVars, key)
		return ""
	})

	if len(missingVars) > 0 {
		return "", fmt.Errorf("missing required environment variables: %s",
			strings.Join(missingVars, ", "))
	}

	return result, nil
}

// validateConfig fills in defaults and performs basic validation on the configuration
func validateConfig(config *Config) error {
	if config.AppName == "" {
		config.AppName = constants.DefaultAppName
	}

	if config.Logging.Level == "" {
		config.Logging.Level = DefaultLogLevel
	}
	if config.Logging.MaxSize == 0 {
		config.Logging.MaxSize = constants.DefaultLogMaxSize
	}
	if config.Logging.MaxBackups == 0 {
		config.Logging.MaxBackups = constants.DefaultLogMaxBackups
	}
	if config.Logging.MaxAge == 0 {
		config.Logging.MaxAge = constants.DefaultLogMaxAge
	}
	if config.Logging.EnableStdout == nil {
		enabled := true
		config.Logging.EnableStdout = &enabled
	}

	switch config.NLP.Processor {
	case "":
		config.NLP.Processor = constants.ProcessorEcho
	case constants.ProcessorEcho, constants.ProcessorNone:
	case constants.ProcessorOpenAI:
		if config.NLP.OpenAI.Model == "" {
			config.NLP.OpenAI.Model = constants.DefaultOpenAIModel
		}
		if config.NLP.OpenAI.HistorySize == 0 {
			config.NLP.OpenAI.HistorySize = constants.DefaultOpenAIHistorySize
		}
		if config.NLP.OpenAI.HistorySize < 0 {
			return fmt.Errorf("nlp.openai.history_size must not be negative (got %d)", config.NLP.OpenAI.HistorySize)
		}
		if config.NLP.OpenAI.APIKey == "" {
			config.NLP.OpenAI.APIKey = os.Getenv(constants.OpenAIAPIKeyEnv)
		}
		if config.NLP.OpenAI.APIKey == "" {
			return fmt.Errorf("nlp.openai.api_key is required (or set %s)", constants.OpenAIAPIKeyEnv)
		}
	default:
		return fmt.Errorf("unknown nlp processor '%s'", config.NLP.Processor)
	}

	if len(config.Connectors) == 0 {
		return fmt.Errorf("at least one connector must be configured")
	}

	enabled := 0
	for name, connector := range config.Connectors {
		if _, ok := knownConnectors[name]; !ok {
			return fmt.Errorf("unknown connector '%s'", name)
		}
		if !connector.Enabled {
			continue
		}
		enabled++

		switch name {
		case constants.FeishuConnectorName:
			if connector.AppID == "" || connector.AppSecret == "" {
				return fmt.Errorf("connector %s requires app_id and app_secret", name)
			}
		case constants.DingTalkConnectorName:
			if connector.ClientID == "" || connector.ClientSecret == "" {
				return fmt.Errorf("connector %s requires client_id and client_secret", name)
			}
		}
	}

	if enabled == 0 {
		return fmt.Errorf("at least one connector must be enabled")
	}

	return nil
}

// GetConnectorConfig retrieves configuration for a specific connector
func (c *Config) GetConnectorConfig(name string) (ConnectorConfig, error) {
	connector, exists := c.Connectors[name]
	if !exists {
		return ConnectorConfig{}, fmt.Errorf("connector %s not found in configuration", name)
	}

	if !connector.Enabled {
		return ConnectorConfig{}, fmt.Errorf("connector %s is disabled", name)
	}

	return connector, nil
}

// EnabledConnectors returns the names of the enabled connectors in a stable order
func (c *Config) EnabledConnectors() []string {
	var names []string
	for _, name := range []string{
		constants.TelegramConnectorName,
		constants.DiscordConnectorName,
		constants.FeishuConnectorName,
		constants.DingTalkConnectorName,
	} {
		if connector, ok := c.Connectors[name]; ok && connector.Enabled {
			names = append(names, name)
		}
	}
	return names
}
