// Package connector provides connector adapters that bridge chat platforms to the
// host NLP container.
//
// Every connector follows the same lifecycle, driven by core.Container:
//
//  1. RegisterDefaults() registers the connector's settings without overwriting
//     what the host already registered
//  2. Initialize(ctx) connects to the platform and starts receiving messages
//  3. each inbound text message is sent to the NLP processor once and the
//     processor's answer is replied to the chat the message came from
//  4. Close() stops receiving; Exit() terminates the process
//
// # Supported Platforms
//
//   - Telegram: long polling (go-telegram-bot-api)
//   - Discord: gateway WebSocket (discordgo)
//   - Feishu/Lark: WebSocket long connection (oapi-sdk-go)
//   - DingTalk: stream mode (dingtalk-stream-sdk-go)
//
// # Thread Safety
//
// Inbound messages are handled concurrently. All messages on one connector
// share a single core.ConversationContext, which is safe for concurrent use but
// imposes no ordering between chats.
package connector

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/keepmind9/nlpbridge/internal/core"
	"github.com/keepmind9/nlpbridge/pkg/constants"
	"github.com/sirupsen/logrus"
)

// exitProcess is swapped out by tests
var exitProcess = os.Exit

// Host is what a connector takes from the host container. It is read once,
// when the connector is constructed.
type Host interface {
	Name() string
	Registry() *core.Registry
	Logger() logrus.FieldLogger
	NLP() core.Processor
}

// base holds what every connector shares: settings lookup, gated logging,
// the NLP processor and the conversation context
type base struct {
	name     string
	title    string
	appName  string
	registry *core.Registry
	logger   *logrus.Entry
	nlp      core.Processor

	ctxMu   sync.RWMutex
	convCtx *core.ConversationContext
}

func newBase(name, title string, host Host) *base {
	return &base{
		name:     name,
		title:    title,
		appName:  host.Name(),
		registry: host.Registry(),
		logger:   host.Logger().WithField("connector", name),
		nlp:      host.NLP(),
	}
}

// Name returns the connector's registry key
func (b *base) Name() string {
	return b.name
}

// RegisterDefaults registers logging on and the connector name as channel id,
// keeping any registration already present
func (b *base) RegisterDefaults() {
	b.registry.RegisterConfiguration(b.name, core.ConnectorSettings{
		Log:       true,
		ChannelID: b.name,
	}, false)
}

// Settings returns the connector's registered settings
func (b *base) Settings() core.ConnectorSettings {
	settings, _ := b.registry.Configuration(b.name)
	return settings
}

// Context returns the conversation context shared by all inbound messages
func (b *base) Context() *core.ConversationContext {
	b.ctxMu.RLock()
	defer b.ctxMu.RUnlock()
	return b.convCtx
}

// Exit terminates the process
func (b *base) Exit() {
	exitProcess(0)
}

// resetContext starts a new, empty conversation context
func (b *base) resetContext() {
	b.ctxMu.Lock()
	b.convCtx = core.NewConversationContext()
	b.ctxMu.Unlock()
}

func (b *base) channelID() string {
	if id := b.Settings().ChannelID; id != "" {
		return id
	}
	return b.name
}

// log forwards to the host logger when logging is enabled for this connector
func (b *base) log(level logrus.Level, msg string) {
	b.logWithFields(level, nil, msg)
}

func (b *base) logWithFields(level logrus.Level, fields logrus.Fields, msg string) {
	if !b.Settings().Log {
		return
	}
	b.logger.WithFields(fields).Log(level, msg)
}

// onError is the catch-all for platform errors. Nothing is retried.
func (b *base) onError(err error, updateType string) {
	b.log(logrus.ErrorLevel, fmt.Sprintf("Ooops, %s encountered an error for %s: %v", b.title, updateType, err))
}

// hear sends one line to the NLP processor. ok is false when no processor is
// configured, in which case the message is dropped.
func (b *base) hear(ctx context.Context, line string) (result *core.Result, ok bool, err error) {
	if b.nlp == nil {
		b.log(logrus.ErrorLevel, "There is no nlp configured")
		return nil, false, nil
	}

	convCtx := b.Context()
	if convCtx == nil {
		// Messages handed in before Initialize still get a context
		b.ctxMu.Lock()
		if b.convCtx == nil {
			b.convCtx = core.NewConversationContext()
		}
		convCtx = b.convCtx
		b.ctxMu.Unlock()
	}

	requestID := uuid.NewString()
	b.logWithFields(logrus.DebugLevel, logrus.Fields{
		"request_id":  requestID,
		"content_len": len(line),
	}, "processing-inbound-message")

	result, err = b.nlp.Process(ctx, core.Request{
		Message: line,
		Channel: b.channelID(),
		App:     b.appName,
	}, "", convCtx)
	if err != nil {
		return nil, true, fmt.Errorf("nlp process (request %s): %w", requestID, err)
	}

	b.logWithFields(logrus.DebugLevel, logrus.Fields{
		"request_id": requestID,
		"answer_len": len(answerOf(result)),
	}, "nlp-answer-received")
	return result, true, nil
}

// answerOf returns the answer text, empty for a nil result
func answerOf(result *core.Result) string {
	if result == nil {
		return ""
	}
	return result.Answer
}

// maskSecret masks sensitive information for logging
func maskSecret(s string) string {
	if len(s) <= constants.MinSecretLengthForMasking {
		return "***"
	}
	return s[:constants.SecretMaskPrefixLength] + "***" + s[len(s)-constants.SecretMaskSuffixLength:]
}
