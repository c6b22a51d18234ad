package connector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/keepmind9/nlpbridge/internal/core"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTelegramAPI is an in-memory stand-in for tgbotapi.BotAPI
type fakeTelegramAPI struct {
	mu        sync.Mutex
	sent      []tgbotapi.MessageConfig
	sendErr   error
	stopCalls int
	updates   chan tgbotapi.Update
}

func newFakeTelegramAPI() *fakeTelegramAPI {
	return &fakeTelegramAPI{updates: make(chan tgbotapi.Update, 10)}
}

func (f *fakeTelegramAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeTelegramAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeTelegramAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	if f.stopCalls == 1 {
		close(f.updates)
	}
}

func (f *fakeTelegramAPI) sentMessages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

func (f *fakeTelegramAPI) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

// recordingProcessor answers with a fixed text and remembers its calls
type recordingProcessor struct {
	mu       sync.Mutex
	answer   string
	err      error
	requests []core.Request
	locales  []string
	contexts []*core.ConversationContext
}

func (p *recordingProcessor) Process(ctx context.Context, req core.Request, locale string, convCtx *core.ConversationContext) (*core.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	p.locales = append(p.locales, locale)
	p.contexts = append(p.contexts, convCtx)
	if p.err != nil {
		return nil, p.err
	}
	return &core.Result{Answer: p.answer}, nil
}

func (p *recordingProcessor) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// blockingProcessor holds every call until release is closed and remembers
// the context each call saw
type blockingProcessor struct {
	mu      sync.Mutex
	started chan struct{}
	release chan struct{}
	ctxs    []context.Context
}

func newBlockingProcessor() *blockingProcessor {
	return &blockingProcessor{started: make(chan struct{}, 10), release: make(chan struct{})}
}

func (p *blockingProcessor) Process(ctx context.Context, req core.Request, locale string, convCtx *core.ConversationContext) (*core.Result, error) {
	p.mu.Lock()
	p.ctxs = append(p.ctxs, ctx)
	p.mu.Unlock()
	p.started <- struct{}{}
	select {
	case <-p.release:
		return &core.Result{Answer: req.Message}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *blockingProcessor) contextErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ctxs) == 0 {
		return errors.New("no call")
	}
	return p.ctxs[0].Err()
}

// waitStarted fails the test unless a processor call begins within a second
func (p *blockingProcessor) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-p.started:
	case <-time.After(time.Second):
		t.Fatal("processor was not called")
	}
}

func newTelegramTestConnector(t *testing.T, nlp core.Processor) (*TelegramConnector, *fakeTelegramAPI, *test.Hook, *core.Container) {
	t.Helper()
	log, hook := test.NewNullLogger()
	host := core.NewContainer("test-app", log, nlp)
	api := newFakeTelegramAPI()

	c := NewTelegramConnector(host, "123456:test-token")
	c.newAPI = func(token string) (telegramAPI, error) { return api, nil }
	return c, api, hook, host
}

func textMessage(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 99, UserName: "alice"},
		Chat:      &tgbotapi.Chat{ID: chatID, Type: "private"},
		Text:      text,
	}
}

func errorEntries(hook *test.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel {
			out = append(out, entry)
		}
	}
	return out
}

func TestTelegramConnector_RegisterDefaults(t *testing.T) {
	c, _, _, host := newTelegramTestConnector(t, nil)

	c.RegisterDefaults()

	got, ok := host.Registry().Configuration("telegram")
	require.True(t, ok)
	assert.Equal(t, core.ConnectorSettings{Log: true, ChannelID: "telegram"}, got)
}

func TestTelegramConnector_RegisterDefaults_DoesNotOverwrite(t *testing.T) {
	c, _, _, host := newTelegramTestConnector(t, nil)
	host.Registry().RegisterConfiguration("telegram", core.ConnectorSettings{Log: false, ChannelID: "tg-support"}, true)

	c.RegisterDefaults()
	c.RegisterDefaults()

	assert.Equal(t, core.ConnectorSettings{Log: false, ChannelID: "tg-support"}, c.Settings())
}

func TestTelegramConnector_HandleInboundMessage_RepliesOnce(t *testing.T) {
	nlp := &recordingProcessor{answer: "hi there"}
	c, api, _, _ := newTelegramTestConnector(t, nlp)
	c.RegisterDefaults()
	require.NoError(t, c.Initialize(context.Background()))
	defer c.Close()

	msg := textMessage(42, "hello")
	require.NoError(t, c.HandleInboundMessage(context.Background(), msg))

	sent := api.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(42), sent[0].ChatID)
	assert.Equal(t, "hi there", sent[0].Text)

	require.Equal(t, 1, nlp.calls())
	assert.Equal(t, core.Request{Message: "hello", Channel: "telegram", App: "test-app"}, nlp.requests[0])
	assert.Empty(t, nlp.locales[0])
}

func TestTelegramConnector_HandleInboundMessage_UsesRegisteredChannelID(t *testing.T) {
	nlp := &recordingProcessor{answer: "ok"}
	c, _, _, host := newTelegramTestConnector(t, nlp)
	host.Registry().RegisterConfiguration("telegram", core.ConnectorSettings{Log: true, ChannelID: "tg-support"}, false)
	c.RegisterDefaults()
	require.NoError(t, c.Initialize(context.Background()))
	defer c.Close()

	require.NoError(t, c.HandleInboundMessage(context.Background(), textMessage(1, "hello")))

	assert.Equal(t, "tg-support", nlp.requests[0].Channel)
}

func TestTelegramConnector_HandleInboundMessage_NoNLP(t *testing.T) {
	c, api, hook, _ := newTelegramTestConnector(t, nil)
	c.RegisterDefaults()
	require.NoError(t, c.Initialize(context.Background()))
	defer c.Close()
	hook.Reset()

	err := c.HandleInboundMessage(context.Background(), textMessage(42, "hello"))

	assert.NoError(t, err)
	assert.Empty(t, api.sentMessages())
	entries := errorEntries(hook)
	require.Len(t, entries, 1)
	assert.Equal(t, "There is no nlp configured", entries[0].Message)
}

func TestTelegramConnector_LoggingDisabled(t *testing.T) {
	c, api, hook, host := newTelegramTestConnector(t, nil)
	host.Registry().RegisterConfiguration("telegram", core.ConnectorSettings{Log: false, ChannelID: "telegram"}, false)
	c.RegisterDefaults()

	require.NoError(t, c.Initialize(context.Background()))
	require.NoError(t, c.HandleInboundMessage(context.Background(), textMessage(42, "hello")))
	c.onError(errors.New("boom"), "message")
	for _, level := range []logrus.Level{logrus.DebugLevel, logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel} {
		c.log(level, "should not appear")
	}
	require.NoError(t, c.Close())

	assert.Empty(t, hook.AllEntries())
	assert.Empty(t, api.sentMessages())
}

func TestTelegramConnector_ConversationContextIsShared(t *testing.T) {
	nlp := &recordingProcessor{answer: "ok"}
	c, _, _, _ := newTelegramTestConnector(t, nlp)
	c.RegisterDefaults()
	require.NoError(t, c.Initialize(context.Background()))
	defer c.Close()

	require.NoError(t, c.HandleInboundMessage(context.Background(), textMessage(1, "first")))
	require.NoError(t, c.HandleInboundMessage(context.Background(), textMessage(2, "second")))

	require.Len(t, nlp.contexts, 2)
	require.NotNil(t, nlp.contexts[0])
	assert.Same(t, nlp.contexts[0], nlp.contexts[1])
	assert.Same(t, c.Context(), nlp.contexts[0])
}

func TestTelegramConnector_Initialize_CreatesFreshContext(t *testing.T) {
	c, _, _, _ := newTelegramTestConnector(t, nil)
	assert.Nil(t, c.Context())

	require.NoError(t, c.Initialize(context.Background()))
	defer c.Close()

	require.NotNil(t, c.Context())
	assert.Equal(t, 0, c.Context().Len())
}

func TestTelegramConnector_Initialize_LogsStartup(t *testing.T) {
	c, _, hook, _ := newTelegramTestConnector(t, nil)
	c.RegisterDefaults()

	require.NoError(t, c.Initialize(context.Background()))
	defer c.Close()

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "Telegram initialized.", entry.Message)
	assert.Equal(t, "telegram", entry.Data["connector"])
}

func TestTelegramConnector_Initialize_ReturnsStartupError(t *testing.T) {
	c, _, _, _ := newTelegramTestConnector(t, nil)
	c.newAPI = func(token string) (telegramAPI, error) {
		return nil, errors.New("Not Found")
	}

	err := c.Initialize(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize Telegram bot")
	assert.Contains(t, err.Error(), "Not Found")
	assert.NoError(t, c.Close())
}

func TestTelegramConnector_Initialize_TokenFromEnvironment(t *testing.T) {
	log, _ := test.NewNullLogger()
	host := core.NewContainer("test-app", log, nil)
	c := NewTelegramConnector(host, "")
	var gotToken string
	c.newAPI = func(token string) (telegramAPI, error) {
		gotToken = token
		return newFakeTelegramAPI(), nil
	}
	t.Setenv("TELEGRAM_TOKEN", "987654:env-token")

	require.NoError(t, c.Initialize(context.Background()))
	defer c.Close()

	assert.Equal(t, "987654:env-token", gotToken)
}

func TestTelegramConnector_Initialize_EmptyTokenPassedToSDK(t *testing.T) {
	log, _ := test.NewNullLogger()
	host := core.NewContainer("test-app", log, nil)
	c := NewTelegramConnector(host, "")
	gotToken := "unset"
	c.newAPI = func(token string) (telegramAPI, error) {
		gotToken = token
		return nil, errors.New("Unauthorized")
	}
	t.Setenv("TELEGRAM_TOKEN", "")

	err := c.Initialize(context.Background())

	assert.Error(t, err)
	assert.Equal(t, "", gotToken)
}

func TestTelegramConnector_Close(t *testing.T) {
	t.Run("before initialize", func(t *testing.T) {
		c, api, _, _ := newTelegramTestConnector(t, nil)

		assert.NoError(t, c.Close())
		assert.Equal(t, 0, api.stops())
	})

	t.Run("stops the client exactly once", func(t *testing.T) {
		c, api, _, _ := newTelegramTestConnector(t, nil)
		require.NoError(t, c.Initialize(context.Background()))

		assert.NoError(t, c.Close())
		assert.NoError(t, c.Close())
		assert.Equal(t, 1, api.stops())
	})

	t.Run("initialize after close is refused", func(t *testing.T) {
		c, api, _, _ := newTelegramTestConnector(t, nil)
		require.NoError(t, c.Close())

		err := c.Initialize(context.Background())

		assert.ErrorIs(t, err, errConnectorClosed)
		assert.Equal(t, 1, api.stops())
		assert.NoError(t, c.Close())
		assert.Equal(t, 1, api.stops())
	})
}

func TestTelegramConnector_Reply(t *testing.T) {
	t.Run("not initialized", func(t *testing.T) {
		c, _, _, _ := newTelegramTestConnector(t, nil)

		err := c.Reply(&core.Result{Answer: "hi"}, textMessage(1, "hello"))

		assert.ErrorContains(t, err, "not initialized")
	})

	t.Run("empty answer is forwarded as is", func(t *testing.T) {
		c, api, _, _ := newTelegramTestConnector(t, nil)
		require.NoError(t, c.Initialize(context.Background()))
		defer c.Close()

		require.NoError(t, c.Reply(&core.Result{}, textMessage(5, "hello")))
		require.NoError(t, c.Reply(nil, textMessage(5, "hello")))

		sent := api.sentMessages()
		require.Len(t, sent, 2)
		assert.Equal(t, "", sent[0].Text)
		assert.Equal(t, "", sent[1].Text)
	})

	t.Run("message without chat", func(t *testing.T) {
		c, _, _, _ := newTelegramTestConnector(t, nil)
		require.NoError(t, c.Initialize(context.Background()))
		defer c.Close()

		err := c.Reply(&core.Result{Answer: "hi"}, &tgbotapi.Message{Text: "hello"})

		assert.ErrorContains(t, err, "no chat")
	})

	t.Run("send failure", func(t *testing.T) {
		c, api, _, _ := newTelegramTestConnector(t, nil)
		api.sendErr = errors.New("Forbidden: bot was blocked by the user")
		require.NoError(t, c.Initialize(context.Background()))
		defer c.Close()

		err := c.Reply(&core.Result{Answer: "hi"}, textMessage(5, "hello"))

		assert.ErrorContains(t, err, "failed to send message to chat 5")
	})
}

func TestTelegramConnector_ProcessorErrorGoesToCatchAll(t *testing.T) {
	nlp := &recordingProcessor{err: errors.New("model unavailable")}
	c, api, hook, _ := newTelegramTestConnector(t, nlp)
	c.RegisterDefaults()
	require.NoError(t, c.Initialize(context.Background()))
	defer c.Close()
	hook.Reset()

	c.dispatch(context.Background(), textMessage(42, "hello"))

	assert.Empty(t, api.sentMessages())
	entries := errorEntries(hook)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "Ooops, Telegram encountered an error for message")
	assert.Contains(t, entries[0].Message, "model unavailable")
}

func TestTelegramConnector_PanicGoesToCatchAll(t *testing.T) {
	nlp := core.ProcessorFunc(func(ctx context.Context, req core.Request, locale string, convCtx *core.ConversationContext) (*core.Result, error) {
		panic("processor bug")
	})
	c, _, hook, _ := newTelegramTestConnector(t, nlp)
	c.RegisterDefaults()
	require.NoError(t, c.Initialize(context.Background()))
	defer c.Close()
	hook.Reset()

	assert.NotPanics(t, func() {
		c.dispatch(context.Background(), textMessage(42, "hello"))
	})

	entries := errorEntries(hook)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "processor bug")
}

func TestTelegramConnector_ReceiveLoop(t *testing.T) {
	nlp := &recordingProcessor{answer: "hi there"}
	c, api, _, _ := newTelegramTestConnector(t, nlp)
	c.RegisterDefaults()
	require.NoError(t, c.Initialize(context.Background()))
	defer c.Close()

	api.updates <- tgbotapi.Update{UpdateID: 1, Message: textMessage(42, "hello")}
	// Non-text and non-message updates are ignored
	api.updates <- tgbotapi.Update{UpdateID: 2, Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}}}
	api.updates <- tgbotapi.Update{UpdateID: 3, CallbackQuery: &tgbotapi.CallbackQuery{ID: "cb"}}

	assert.Eventually(t, func() bool {
		return len(api.sentMessages()) == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, nlp.calls())
	assert.Equal(t, "hi there", api.sentMessages()[0].Text)
}

func TestTelegramConnector_SlowProcessorDoesNotBlockPolling(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []string
	nlp := core.ProcessorFunc(func(ctx context.Context, req core.Request, locale string, convCtx *core.ConversationContext) (*core.Result, error) {
		mu.Lock()
		seen = append(seen, req.Message)
		mu.Unlock()
		if req.Message == "slow" {
			<-release
		}
		return &core.Result{Answer: req.Message}, nil
	})
	c, api, _, _ := newTelegramTestConnector(t, nlp)
	c.RegisterDefaults()
	require.NoError(t, c.Initialize(context.Background()))
	defer c.Close()
	defer close(release)

	api.updates <- tgbotapi.Update{UpdateID: 1, Message: textMessage(1, "slow")}
	api.updates <- tgbotapi.Update{UpdateID: 2, Message: textMessage(2, "fast")}

	assert.Eventually(t, func() bool {
		sent := api.sentMessages()
		return len(sent) == 1 && sent[0].Text == "fast"
	}, time.Second, 10*time.Millisecond)
}

func TestTelegramConnector_CloseDoesNotAbortInFlightCall(t *testing.T) {
	nlp := newBlockingProcessor()
	c, api, hook, _ := newTelegramTestConnector(t, nlp)
	c.RegisterDefaults()
	require.NoError(t, c.Initialize(context.Background()))

	api.updates <- tgbotapi.Update{UpdateID: 1, Message: textMessage(42, "hello")}
	nlp.waitStarted(t)

	require.NoError(t, c.Close())
	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, nlp.contextErr())

	close(nlp.release)
	time.Sleep(20 * time.Millisecond)
	for _, entry := range errorEntries(hook) {
		assert.NotContains(t, entry.Message, context.Canceled.Error())
	}
}

func TestTelegramConnector_Initialize_WhileRunning(t *testing.T) {
	c, api, _, _ := newTelegramTestConnector(t, nil)
	newAPICalls := 0
	c.newAPI = func(token string) (telegramAPI, error) {
		newAPICalls++
		return api, nil
	}
	require.NoError(t, c.Initialize(context.Background()))

	err := c.Initialize(context.Background())

	assert.ErrorIs(t, err, errConnectorRunning)
	assert.Equal(t, 1, newAPICalls)
	assert.Equal(t, 0, api.stops())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, api.stops())
}

func TestTelegramSDKLogger_FollowsConnectorLifecycle(t *testing.T) {
	first, _, firstHook, _ := newTelegramTestConnector(t, nil)
	first.RegisterDefaults()
	second, _, secondHook, _ := newTelegramTestConnector(t, nil)
	second.RegisterDefaults()
	defer sdkLogger.attach(nil)

	require.NoError(t, first.Initialize(context.Background()))
	require.NoError(t, second.Initialize(context.Background()))
	firstHook.Reset()
	secondHook.Reset()

	// Closing the older connector leaves the newer one attached
	require.NoError(t, first.Close())
	sdkLogger.Println("Failed to get updates, retrying in 3 seconds...")
	assert.Empty(t, errorEntries(firstHook))
	assert.Len(t, errorEntries(secondHook), 1)

	require.NoError(t, second.Close())
	secondHook.Reset()
	sdkLogger.Println("Failed to get updates, retrying in 3 seconds...")
	assert.Empty(t, errorEntries(firstHook))
	assert.Empty(t, errorEntries(secondHook))
}

func TestTelegramSDKLogger_RoutesToCatchAll(t *testing.T) {
	c, _, hook, _ := newTelegramTestConnector(t, nil)
	c.RegisterDefaults()
	l := &telegramSDKLogger{connector: c}

	l.Println("Failed to get updates, retrying in 3 seconds...")
	l.Printf("request failed: %s", "timeout")

	entries := errorEntries(hook)
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0].Message, "Ooops, Telegram encountered an error for getUpdates")
	assert.Contains(t, entries[1].Message, "timeout")
}

func TestTelegramConnector_Exit(t *testing.T) {
	c, _, _, _ := newTelegramTestConnector(t, nil)
	code := -1
	original := exitProcess
	exitProcess = func(c int) { code = c }
	defer func() { exitProcess = original }()

	c.Exit()

	assert.Equal(t, 0, code)
}

func TestNewTelegramConnector(t *testing.T) {
	log, _ := test.NewNullLogger()
	host := core.NewContainer("test-app", log, nil)

	c := NewTelegramConnector(host, "test-token-123")

	assert.Equal(t, "telegram", c.Name())
	assert.Equal(t, "test-token-123", c.token)
	assert.Equal(t, "test-app", c.appName)
	assert.NotNil(t, c.newAPI)
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		expected string
	}{
		{"normal secret", "cli_1234567890abcdef", "cli_***cdef"},
		{"short secret", "1234567890", "***"},
		{"very short secret", "1234", "***"},
		{"empty secret", "", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, maskSecret(tt.secret))
		})
	}
}
