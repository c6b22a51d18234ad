package connector

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/keepmind9/nlpbridge/internal/core"
	"github.com/keepmind9/nlpbridge/pkg/constants"
	"github.com/sirupsen/logrus"
)

// DiscordSession is the part of discordgo.Session the connector uses,
// so tests can swap in a fake
type DiscordSession interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordConnector bridges a Discord bot to the NLP processor over the gateway
type DiscordConnector struct {
	*base
	token      string
	newSession func(token string) (DiscordSession, error)

	mu      sync.Mutex
	session DiscordSession
	cancel  context.CancelFunc
	closed  bool
}

// NewDiscordConnector creates a Discord connector. An empty token is read
// from DISCORD_TOKEN when the connector initializes.
func NewDiscordConnector(host Host, token string) *DiscordConnector {
	return &DiscordConnector{
		base:       newBase(constants.DiscordConnectorName, "Discord", host),
		token:      token,
		newSession: newDiscordSession,
	}
}

func newDiscordSession(token string) (DiscordSession, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	// Message text is only delivered with the message content intent
	session.Identify.Intents |= discordgo.IntentMessageContent
	return session, nil
}

// Initialize creates a fresh conversation context and opens the gateway session
func (d *DiscordConnector) Initialize(ctx context.Context) error {
	d.resetContext()

	token := d.token
	if token == "" {
		token = os.Getenv(constants.DiscordTokenEnv)
	}

	d.logWithFields(logrus.DebugLevel, logrus.Fields{
		"token": maskSecret(token),
	}, "starting-discord-bot")

	session, err := d.newSession(token)
	if err != nil {
		return fmt.Errorf("failed to create discord session: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		cancel()
		return fmt.Errorf("discord: %w", errConnectorClosed)
	}
	if d.session != nil {
		d.mu.Unlock()
		cancel()
		return fmt.Errorf("discord: %w", errConnectorRunning)
	}
	d.session = session
	d.cancel = cancel
	d.mu.Unlock()

	// Close drops the gateway but never aborts a processor call already running
	handlerCtx := context.WithoutCancel(loopCtx)
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		go d.dispatch(handlerCtx, m)
	})

	if err := session.Open(); err != nil {
		d.mu.Lock()
		d.session, d.cancel = nil, nil
		d.mu.Unlock()
		cancel()
		return fmt.Errorf("failed to open discord connection: %w", err)
	}

	d.log(logrus.InfoLevel, "Discord initialized.")
	return nil
}

func (d *DiscordConnector) dispatch(ctx context.Context, m *discordgo.MessageCreate) {
	defer func() {
		if r := recover(); r != nil {
			d.onError(fmt.Errorf("panic: %v", r), "messageCreate")
		}
	}()

	if err := d.HandleInboundMessage(ctx, m); err != nil {
		d.onError(err, "messageCreate")
	}
}

// HandleInboundMessage sends the message text to the NLP processor and
// replies on the source channel. Messages from bots, including this one,
// are ignored.
func (d *DiscordConnector) HandleInboundMessage(ctx context.Context, m *discordgo.MessageCreate) error {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot || m.Content == "" {
		return nil
	}

	d.logWithFields(logrus.DebugLevel, logrus.Fields{
		"user_id":    m.Author.ID,
		"channel":    m.ChannelID,
		"message_id": m.ID,
	}, "received-discord-message")

	result, ok, err := d.hear(ctx, m.Content)
	if err != nil || !ok {
		return err
	}
	return d.Reply(result, m.ChannelID)
}

// Reply sends result.Answer to a Discord channel
func (d *DiscordConnector) Reply(result *core.Result, channelID string) error {
	d.mu.Lock()
	session := d.session
	d.mu.Unlock()

	if session == nil {
		return fmt.Errorf("discord session not initialized")
	}
	if channelID == "" {
		return fmt.Errorf("channel ID is required for Discord")
	}

	if _, err := session.ChannelMessageSend(channelID, answerOf(result)); err != nil {
		return fmt.Errorf("failed to send message to channel %s: %w", channelID, err)
	}

	d.logWithFields(logrus.DebugLevel, logrus.Fields{"channel": channelID}, "message-sent-to-discord")
	return nil
}

// Close closes the gateway session. It is safe before Initialize and on
// repeated calls.
func (d *DiscordConnector) Close() error {
	d.mu.Lock()
	session, cancel := d.session, d.cancel
	d.session, d.cancel = nil, nil
	d.closed = true
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if session == nil {
		return nil
	}
	if err := session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}

	d.log(logrus.InfoLevel, "Discord stopped.")
	return nil
}
