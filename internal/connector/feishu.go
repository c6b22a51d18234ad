package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/keepmind9/nlpbridge/internal/core"
	"github.com/keepmind9/nlpbridge/pkg/constants"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/larksuite/oapi-sdk-go/v3/ws"
	"github.com/sirupsen/logrus"
)

// feishuMessenger is the part of the Lark IM message API the connector uses
type feishuMessenger interface {
	Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error)
}

// feishuStream is a long connection that blocks in Start until it fails
type feishuStream interface {
	Start(ctx context.Context) error
}

// FeishuCredentials are the app credentials of a Feishu (Lark) bot
type FeishuCredentials struct {
	AppID             string
	AppSecret         string
	EncryptKey        string // Optional, for encrypted events
	VerificationToken string // Optional, for event verification
}

// FeishuConnector bridges a Feishu (Lark) bot to the NLP processor using a
// WebSocket long connection
type FeishuConnector struct {
	*base
	creds        FeishuCredentials
	startupGrace time.Duration
	newStream    func(creds FeishuCredentials, handler *dispatcher.EventDispatcher) feishuStream
	newMessenger func(creds FeishuCredentials) feishuMessenger

	mu        sync.Mutex
	messenger feishuMessenger
	cancel    context.CancelFunc
	closed    bool
}

// NewFeishuConnector creates a Feishu connector
func NewFeishuConnector(host Host, creds FeishuCredentials) *FeishuConnector {
	return &FeishuConnector{
		base:         newBase(constants.FeishuConnectorName, "Feishu", host),
		creds:        creds,
		startupGrace: constants.DefaultStartupGrace,
		newStream:    newFeishuWSClient,
		newMessenger: newFeishuMessenger,
	}
}

func newFeishuWSClient(creds FeishuCredentials, handler *dispatcher.EventDispatcher) feishuStream {
	return ws.NewClient(creds.AppID, creds.AppSecret,
		ws.WithEventHandler(handler),
		ws.WithLogLevel(larkcore.LogLevelInfo),
		ws.WithAutoReconnect(true),
	)
}

func newFeishuMessenger(creds FeishuCredentials) feishuMessenger {
	return lark.NewClient(creds.AppID, creds.AppSecret).Im.Message
}

// Initialize creates a fresh conversation context and starts the long
// connection. A connection failure within the startup grace period is returned.
func (f *FeishuConnector) Initialize(ctx context.Context) error {
	f.resetContext()

	f.logWithFields(logrus.DebugLevel, logrus.Fields{
		"app_id": maskSecret(f.creds.AppID),
	}, "starting-feishu-bot-with-websocket-long-connection")

	d := dispatcher.NewEventDispatcher(f.creds.VerificationToken, f.creds.EncryptKey)
	loopCtx, cancel := context.WithCancel(ctx)
	// Close stops the connection but never aborts a processor call already running
	handlerCtx := context.WithoutCancel(loopCtx)
	d.OnP2MessageReceiveV1(func(_ context.Context, event *larkim.P2MessageReceiveV1) error {
		// The SDK waits on the handler; process in the background so the
		// event is acknowledged in time
		go f.dispatch(handlerCtx, event)
		return nil
	})

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		cancel()
		return fmt.Errorf("feishu: %w", errConnectorClosed)
	}
	if f.cancel != nil {
		f.mu.Unlock()
		cancel()
		return fmt.Errorf("feishu: %w", errConnectorRunning)
	}
	f.messenger = f.newMessenger(f.creds)
	f.cancel = cancel
	f.mu.Unlock()

	stream := f.newStream(f.creds, d)
	errCh := make(chan error, 1)
	go func() {
		errCh <- stream.Start(loopCtx)
	}()

	abort := func() {
		f.mu.Lock()
		f.messenger, f.cancel = nil, nil
		f.mu.Unlock()
		cancel()
	}

	select {
	case err := <-errCh:
		abort()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err == nil {
			err = fmt.Errorf("connection closed during startup")
		}
		return fmt.Errorf("failed to start feishu websocket: %w", err)
	case <-time.After(f.startupGrace):
	case <-ctx.Done():
		abort()
		return ctx.Err()
	}

	go func() {
		if err := <-errCh; err != nil && loopCtx.Err() == nil {
			f.onError(err, "websocket")
		}
	}()

	f.log(logrus.InfoLevel, "Feishu initialized.")
	return nil
}

func (f *FeishuConnector) dispatch(ctx context.Context, event *larkim.P2MessageReceiveV1) {
	defer func() {
		if r := recover(); r != nil {
			f.onError(fmt.Errorf("panic: %v", r), "im.message.receive_v1")
		}
	}()

	if err := f.HandleInboundMessage(ctx, event); err != nil {
		f.onError(err, "im.message.receive_v1")
	}
}

// HandleInboundMessage sends the text of a received message to the NLP
// processor and replies to the source chat. Non-text messages are ignored.
func (f *FeishuConnector) HandleInboundMessage(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return nil
	}
	msg := event.Event.Message

	messageType := stringValue(msg.MessageType)
	if messageType != larkim.MsgTypeText {
		f.logWithFields(logrus.DebugLevel, logrus.Fields{
			"message_type": messageType,
		}, "skipping-non-text-feishu-message")
		return nil
	}

	chatID := stringValue(msg.ChatId)
	text := extractTextContent(stringValue(msg.Content))

	fields := logrus.Fields{
		"chat_id":    chatID,
		"chat_type":  stringValue(msg.ChatType),
		"message_id": stringValue(msg.MessageId),
	}
	if sender := event.Event.Sender; sender != nil && sender.SenderId != nil {
		fields["user_id"] = stringValue(sender.SenderId.UserId)
	}
	f.logWithFields(logrus.DebugLevel, fields, "received-feishu-message")

	if text == "" {
		return nil
	}

	result, ok, err := f.hear(ctx, text)
	if err != nil || !ok {
		return err
	}
	return f.Reply(ctx, result, chatID)
}

// Reply sends result.Answer as a text message to a Feishu chat
func (f *FeishuConnector) Reply(ctx context.Context, result *core.Result, chatID string) error {
	f.mu.Lock()
	messenger := f.messenger
	f.mu.Unlock()

	if messenger == nil {
		return fmt.Errorf("feishu client not initialized")
	}
	if chatID == "" {
		return fmt.Errorf("chat ID is required for Feishu")
	}

	content, err := json.Marshal(map[string]string{"text": answerOf(result)})
	if err != nil {
		return fmt.Errorf("failed to encode feishu message: %w", err)
	}

	body := larkim.NewCreateMessageReqBodyBuilder().
		ReceiveId(chatID).
		MsgType(larkim.MsgTypeText).
		Content(string(content)).
		Build()

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(body).
		Build()

	resp, err := messenger.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to send message to chat %s: %w", chatID, err)
	}
	if !resp.Success() {
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	f.logWithFields(logrus.DebugLevel, logrus.Fields{"chat_id": chatID}, "message-sent-to-feishu")
	return nil
}

// Close cancels the long connection. It is safe before Initialize and on
// repeated calls.
func (f *FeishuConnector) Close() error {
	f.mu.Lock()
	cancel := f.cancel
	f.messenger, f.cancel = nil, nil
	f.closed = true
	f.mu.Unlock()

	if cancel != nil {
		cancel()
		f.log(logrus.InfoLevel, "Feishu stopped.")
	}
	return nil
}

// extractTextContent extracts the text of a Feishu text message, whose
// content is JSON like {"text":"actual message"}. Content that is not
// such JSON is returned unchanged.
func extractTextContent(content string) string {
	var payload struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return content
	}
	if payload.Text == nil {
		return ""
	}
	return *payload.Text
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
