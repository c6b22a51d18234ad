package core

// Config represents the complete nlpbridge configuration structure
type Config struct {
	AppName    string                     `yaml:"app_name"`
	NLP        NLPConfig                  `yaml:"nlp"`
	Connectors map[string]ConnectorConfig `yaml:"connectors"`
	Logging    LoggingConfig              `yaml:"logging"`
}

// NLPConfig selects and configures the NLP processor
type NLPConfig struct {
	Processor string       `yaml:"processor"` // echo, openai, none
	OpenAI    OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig configures the openai processor
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
	HistorySize  int    `yaml:"history_size"` // Turns kept in the conversation context (default: 10)
}

// ConnectorConfig represents the configuration of one connector
type ConnectorConfig struct {
	Enabled bool `yaml:"enabled"`

	// Log and ChannelID override the connector defaults when set
	Log       *bool  `yaml:"log"`
	ChannelID string `yaml:"channel_id"`

	Token             string `yaml:"token"`              // Telegram, Discord
	AppID             string `yaml:"app_id"`             // Feishu
	AppSecret         string `yaml:"app_secret"`         // Feishu
	EncryptKey        string `yaml:"encrypt_key"`        // Feishu: event encryption key (optional)
	VerificationToken string `yaml:"verification_token"` // Feishu: verification token (optional)
	ClientID          string `yaml:"client_id"`          // DingTalk
	ClientSecret      string `yaml:"client_secret"`      // DingTalk
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`         // debug, info, warn, error
	File         string `yaml:"file"`          // Log file path
	MaxSize      int    `yaml:"max_size"`      // Single file max size in MB (default: 100)
	MaxBackups   int    `yaml:"max_backups"`   // Number of backups to keep (default: 5)
	MaxAge       int    `yaml:"max_age"`       // Maximum days to retain (default: 30)
	Compress     bool   `yaml:"compress"`      // Whether to compress old logs
	EnableStdout *bool  `yaml:"enable_stdout"` // Also output to stdout (default: true)
}

// ConnectorSettings is the per-connector configuration kept in the Registry
type ConnectorSettings struct {
	Log       bool
	ChannelID string
}

// Settings returns the registry settings this connector config overrides.
// ok is false when neither log nor channel_id was set.
func (c ConnectorConfig) Settings(name string) (settings ConnectorSettings, ok bool) {
	if c.Log == nil && c.ChannelID == "" {
		return ConnectorSettings{}, false
	}

	settings = ConnectorSettings{Log: true, ChannelID: c.ChannelID}
	if c.Log != nil {
		settings.Log = *c.Log
	}
	if settings.ChannelID == "" {
		settings.ChannelID = name
	}
	return settings, true
}
