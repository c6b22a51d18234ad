package constants

import "time"

// Connector names. Each is also the default channel id and the
// configuration registry key of its connector.
const (
	TelegramConnectorName = "telegram"
	DiscordConnectorName  = "discord"
	FeishuConnectorName   = "feishu"
	DingTalkConnectorName = "dingtalk"
)

// Environment variables consulted when a token is not set in the config file
const (
	// TelegramTokenEnv holds the Telegram bot access token
	TelegramTokenEnv = "TELEGRAM_TOKEN"
	// DiscordTokenEnv holds the Discord bot token
	DiscordTokenEnv = "DISCORD_TOKEN"
	// OpenAIAPIKeyEnv holds the API key for the openai processor
	OpenAIAPIKeyEnv = "OPENAI_API_KEY"
)

// NLP processor kinds
const (
	ProcessorEcho   = "echo"
	ProcessorOpenAI = "openai"
	ProcessorNone   = "none"
)

// Timeouts
const (
	// DefaultPollTimeout is the timeout for Telegram long polling
	DefaultPollTimeout = 60 * time.Second
	// DefaultShutdownTimeout bounds how long serve waits for connectors to close
	DefaultShutdownTimeout = 5 * time.Second
	// DefaultStartupGrace is how long websocket connectors wait for an early
	// connection failure before reporting a successful start
	DefaultStartupGrace = 2 * time.Second
)

// Token masking
const (
	// MinSecretLengthForMasking is the minimum secret length to show a prefix and suffix
	MinSecretLengthForMasking = 10
	// SecretMaskPrefixLength is the length of prefix to show before masking
	SecretMaskPrefixLength = 4
	// SecretMaskSuffixLength is the length of suffix to show after masking
	SecretMaskSuffixLength = 4
)

// Logging defaults
const (
	// DefaultLogMaxSize is the default maximum log file size in MB
	DefaultLogMaxSize = 100
	// DefaultLogMaxBackups is the default number of rotated log files to keep
	DefaultLogMaxBackups = 5
	// DefaultLogMaxAge is the default maximum number of days to retain old logs
	DefaultLogMaxAge = 30
)

// OpenAI processor defaults
const (
	DefaultOpenAIModel       = "gpt-4o-mini"
	DefaultOpenAIHistorySize = 10
)

// DefaultAppName is used when the config file does not name the application
const DefaultAppName = "default"
