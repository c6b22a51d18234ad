package connector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/keepmind9/nlpbridge/internal/core"
	"github.com/keepmind9/nlpbridge/pkg/constants"
	"github.com/sirupsen/logrus"
)

var (
	errConnectorClosed  = errors.New("connector closed")
	errConnectorRunning = errors.New("connector already initialized")
)

// The SDK logger is package-wide, so it is installed once and forwards to
// the most recently initialized Telegram connector that is still running
var (
	sdkLogger     = &telegramSDKLogger{}
	sdkLoggerOnce sync.Once
)

// telegramAPI is the part of tgbotapi.BotAPI the connector uses
type telegramAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	StopReceivingUpdates()
}

// TelegramConnector bridges a Telegram bot to the NLP processor using long polling
type TelegramConnector struct {
	*base
	token  string
	newAPI func(token string) (telegramAPI, error)

	mu     sync.Mutex
	api    telegramAPI
	cancel context.CancelFunc
	closed bool
}

// NewTelegramConnector creates a Telegram connector. An empty token is read
// from TELEGRAM_TOKEN when the connector initializes.
func NewTelegramConnector(host Host, token string) *TelegramConnector {
	return &TelegramConnector{
		base:   newBase(constants.TelegramConnectorName, "Telegram", host),
		token:  token,
		newAPI: newTelegramBotAPI,
	}
}

func newTelegramBotAPI(token string) (telegramAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return bot, nil
}

// Initialize creates a fresh conversation context, authorizes the bot and
// starts long polling. Startup errors are returned; nothing is retried.
func (t *TelegramConnector) Initialize(ctx context.Context) error {
	t.mu.Lock()
	running := t.api != nil
	t.mu.Unlock()
	if running {
		return fmt.Errorf("telegram: %w", errConnectorRunning)
	}

	t.resetContext()

	token := t.token
	if token == "" {
		// The SDK rejects an empty token
		token = os.Getenv(constants.TelegramTokenEnv)
	}

	t.logWithFields(logrus.DebugLevel, logrus.Fields{
		"token": maskSecret(token),
	}, "starting-telegram-bot-with-long-polling")

	api, err := t.newAPI(token)
	if err != nil {
		return fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}

	// Polling errors from the SDK go to the catch-all
	sdkLoggerOnce.Do(func() {
		_ = tgbotapi.SetLogger(sdkLogger)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(constants.DefaultPollTimeout.Seconds())

	loopCtx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		api.StopReceivingUpdates()
		return fmt.Errorf("telegram: %w", errConnectorClosed)
	}
	if t.api != nil {
		t.mu.Unlock()
		cancel()
		api.StopReceivingUpdates()
		return fmt.Errorf("telegram: %w", errConnectorRunning)
	}
	t.api = api
	t.cancel = cancel
	t.mu.Unlock()

	sdkLogger.attach(t)
	go t.receive(loopCtx, api.GetUpdatesChan(u))

	t.log(logrus.InfoLevel, "Telegram initialized.")
	return nil
}

// receive dispatches every text message to its own goroutine, so a slow
// processor call never blocks polling
func (t *TelegramConnector) receive(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			t.log(logrus.DebugLevel, "telegram-long-polling-stopped")
			return
		case update, ok := <-updates:
			if !ok {
				t.log(logrus.DebugLevel, "telegram-updates-channel-closed")
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			// Close stops polling but never aborts a processor call already running
			go t.dispatch(context.WithoutCancel(ctx), update.Message)
		}
	}
}

func (t *TelegramConnector) dispatch(ctx context.Context, msg *tgbotapi.Message) {
	defer func() {
		if r := recover(); r != nil {
			t.onError(fmt.Errorf("panic: %v", r), "message")
		}
	}()

	if err := t.HandleInboundMessage(ctx, msg); err != nil {
		t.onError(err, "message")
	}
}

// HandleInboundMessage sends the message text to the NLP processor and
// replies with its answer. Without a processor the message is dropped.
func (t *TelegramConnector) HandleInboundMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg == nil {
		return nil
	}

	fields := logrus.Fields{"message_id": msg.MessageID}
	if msg.Chat != nil {
		fields["chat_id"] = msg.Chat.ID
		fields["chat_type"] = msg.Chat.Type
	}
	if msg.From != nil {
		fields["user_id"] = msg.From.ID
	}
	t.logWithFields(logrus.DebugLevel, fields, "received-telegram-message")

	result, ok, err := t.hear(ctx, msg.Text)
	if err != nil || !ok {
		return err
	}
	return t.Reply(result, msg)
}

// Reply sends result.Answer to the chat msg came from. The answer is sent as is.
func (t *TelegramConnector) Reply(result *core.Result, msg *tgbotapi.Message) error {
	t.mu.Lock()
	api := t.api
	t.mu.Unlock()

	if api == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	if msg == nil || msg.Chat == nil {
		return fmt.Errorf("telegram message has no chat")
	}

	if _, err := api.Send(tgbotapi.NewMessage(msg.Chat.ID, answerOf(result))); err != nil {
		return fmt.Errorf("failed to send message to chat %d: %w", msg.Chat.ID, err)
	}

	t.logWithFields(logrus.DebugLevel, logrus.Fields{"chat_id": msg.Chat.ID}, "message-sent-to-telegram")
	return nil
}

// Close stops long polling. It is safe before Initialize and on repeated calls;
// messages already being processed are not waited for.
func (t *TelegramConnector) Close() error {
	t.mu.Lock()
	api, cancel := t.api, t.cancel
	t.api, t.cancel = nil, nil
	t.closed = true
	t.mu.Unlock()

	sdkLogger.detach(t)
	if cancel != nil {
		cancel()
	}
	if api != nil {
		api.StopReceivingUpdates()
		t.log(logrus.InfoLevel, "Telegram stopped.")
	}
	return nil
}

// telegramSDKLogger routes the SDK's own log lines, which are polling
// failures, to a connector's catch-all. With several Telegram connectors in
// one process the lines cannot be told apart and go to the one attached last.
type telegramSDKLogger struct {
	mu        sync.RWMutex
	connector *TelegramConnector
}

func (l *telegramSDKLogger) attach(c *TelegramConnector) {
	l.mu.Lock()
	l.connector = c
	l.mu.Unlock()
}

// detach drops c, leaving a newer attachment in place
func (l *telegramSDKLogger) detach(c *TelegramConnector) {
	l.mu.Lock()
	if l.connector == c {
		l.connector = nil
	}
	l.mu.Unlock()
}

func (l *telegramSDKLogger) report(err error) {
	l.mu.RLock()
	c := l.connector
	l.mu.RUnlock()
	if c != nil {
		c.onError(err, "getUpdates")
	}
}

func (l *telegramSDKLogger) Println(v ...interface{}) {
	l.report(errors.New(fmt.Sprint(v...)))
}

func (l *telegramSDKLogger) Printf(format string, v ...interface{}) {
	l.report(fmt.Errorf(format, v...))
}
