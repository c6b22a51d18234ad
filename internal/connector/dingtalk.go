package connector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/keepmind9/nlpbridge/internal/core"
	"github.com/keepmind9/nlpbridge/pkg/constants"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/chatbot"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/client"
	"github.com/sirupsen/logrus"
)

// dingTalkStream is the part of client.StreamClient the connector uses
type dingTalkStream interface {
	Start(ctx context.Context) error
	Close()
}

// DingTalkConnector bridges a DingTalk robot to the NLP processor in stream mode
type DingTalkConnector struct {
	*base
	clientID     string
	clientSecret string
	startupGrace time.Duration
	newStream    func(clientID, clientSecret string, handler chatbot.IChatBotMessageHandler) dingTalkStream
	replyText    func(ctx context.Context, sessionWebhook string, content []byte) error

	mu     sync.Mutex
	stream dingTalkStream
	cancel context.CancelFunc
	closed bool
}

// NewDingTalkConnector creates a DingTalk connector
func NewDingTalkConnector(host Host, clientID, clientSecret string) *DingTalkConnector {
	return &DingTalkConnector{
		base:         newBase(constants.DingTalkConnectorName, "DingTalk", host),
		clientID:     clientID,
		clientSecret: clientSecret,
		startupGrace: constants.DefaultStartupGrace,
		newStream:    newDingTalkStreamClient,
		replyText:    chatbot.NewChatbotReplier().SimpleReplyText,
	}
}

func newDingTalkStreamClient(clientID, clientSecret string, handler chatbot.IChatBotMessageHandler) dingTalkStream {
	credential := client.NewAppCredentialConfig(clientID, clientSecret)
	streamClient := client.NewStreamClient(client.WithAppCredential(credential))
	streamClient.RegisterChatBotCallbackRouter(handler)
	return streamClient
}

// Initialize creates a fresh conversation context and opens the stream
// connection. A connection failure within the startup grace period is returned.
func (d *DingTalkConnector) Initialize(ctx context.Context) error {
	d.resetContext()

	d.logWithFields(logrus.DebugLevel, logrus.Fields{
		"client_id": maskSecret(d.clientID),
	}, "starting-dingtalk-bot-with-stream-mode")

	loopCtx, cancel := context.WithCancel(ctx)
	// Close stops the stream but never aborts a processor call already running
	handlerCtx := context.WithoutCancel(loopCtx)
	stream := d.newStream(d.clientID, d.clientSecret, func(_ context.Context, data *chatbot.BotCallbackDataModel) ([]byte, error) {
		go d.dispatch(handlerCtx, data)
		return []byte(""), nil
	})

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		cancel()
		return fmt.Errorf("dingtalk: %w", errConnectorClosed)
	}
	if d.stream != nil {
		d.mu.Unlock()
		cancel()
		return fmt.Errorf("dingtalk: %w", errConnectorRunning)
	}
	d.stream = stream
	d.cancel = cancel
	d.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- stream.Start(loopCtx)
	}()

	// abort releases the stream unless Close already took it
	abort := func() {
		d.mu.Lock()
		owned := d.stream == stream
		if owned {
			d.stream, d.cancel = nil, nil
		}
		d.mu.Unlock()
		cancel()
		if owned {
			stream.Close()
		}
	}

	select {
	case err := <-errCh:
		if ctxErr := ctx.Err(); ctxErr != nil {
			abort()
			return ctxErr
		}
		if err != nil {
			abort()
			return fmt.Errorf("failed to start dingtalk stream: %w", err)
		}
	case <-time.After(d.startupGrace):
		go func() {
			if err := <-errCh; err != nil && loopCtx.Err() == nil {
				d.onError(err, "stream")
			}
		}()
	case <-ctx.Done():
		abort()
		return ctx.Err()
	}

	d.log(logrus.InfoLevel, "DingTalk initialized.")
	return nil
}

func (d *DingTalkConnector) dispatch(ctx context.Context, data *chatbot.BotCallbackDataModel) {
	defer func() {
		if r := recover(); r != nil {
			d.onError(fmt.Errorf("panic: %v", r), "chatbot")
		}
	}()

	if err := d.HandleInboundMessage(ctx, data); err != nil {
		d.onError(err, "chatbot")
	}
}

// HandleInboundMessage sends the text of a robot callback to the NLP
// processor and replies through the callback's session webhook
func (d *DingTalkConnector) HandleInboundMessage(ctx context.Context, data *chatbot.BotCallbackDataModel) error {
	if data == nil {
		return nil
	}
	if data.Msgtype != "text" {
		d.logWithFields(logrus.DebugLevel, logrus.Fields{
			"msg_type": data.Msgtype,
		}, "skipping-non-text-dingtalk-message")
		return nil
	}

	d.logWithFields(logrus.DebugLevel, logrus.Fields{
		"conversation_id":   data.ConversationId,
		"conversation_type": data.ConversationType,
		"sender_staff_id":   data.SenderStaffId,
		"msg_id":            data.MsgId,
	}, "received-dingtalk-message")

	// Group messages carry a leading space after the @mention
	text := strings.TrimSpace(data.Text.Content)
	if text == "" {
		return nil
	}

	result, ok, err := d.hear(ctx, text)
	if err != nil || !ok {
		return err
	}
	return d.Reply(ctx, result, data.SessionWebhook)
}

// Reply sends result.Answer through a session webhook
func (d *DingTalkConnector) Reply(ctx context.Context, result *core.Result, sessionWebhook string) error {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()

	if stream == nil {
		return fmt.Errorf("dingtalk stream not initialized")
	}
	if sessionWebhook == "" {
		return fmt.Errorf("session webhook is required for DingTalk")
	}

	if err := d.replyText(ctx, sessionWebhook, []byte(answerOf(result))); err != nil {
		return fmt.Errorf("failed to reply through session webhook: %w", err)
	}

	d.log(logrus.DebugLevel, "message-sent-to-dingtalk")
	return nil
}

// Close closes the stream connection. It is safe before Initialize and on
// repeated calls.
func (d *DingTalkConnector) Close() error {
	d.mu.Lock()
	stream, cancel := d.stream, d.cancel
	d.stream, d.cancel = nil, nil
	d.closed = true
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		stream.Close()
		d.log(logrus.InfoLevel, "DingTalk stopped.")
	}
	return nil
}
