package nlp

import (
	"context"
	"errors"
	"fmt"

	"github.com/keepmind9/nlpbridge/internal/core"
	"github.com/keepmind9/nlpbridge/internal/logger"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"
)

// HistoryKey is the conversation context key holding the chat history
const HistoryKey = "history"

// Turn is one user message and the answer given to it
type Turn struct {
	User      string
	Assistant string
}

// completer is the part of the openai client the processor uses
type completer interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIProcessor answers messages with an OpenAI chat completion. The
// conversation history lives in the connector's conversation context, so
// every chat on one connector shares it.
type OpenAIProcessor struct {
	completions  completer
	model        string
	systemPrompt string
	historySize  int
}

// NewOpenAIProcessor creates an OpenAI-backed processor from config
func NewOpenAIProcessor(config core.OpenAIConfig) *OpenAIProcessor {
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	client := openai.NewClient(opts...)

	return &OpenAIProcessor{
		completions:  &client.Chat.Completions,
		model:        config.Model,
		systemPrompt: config.SystemPrompt,
		historySize:  config.HistorySize,
	}
}

// Process implements core.Processor
func (p *OpenAIProcessor) Process(ctx context.Context, req core.Request, locale string, convCtx *core.ConversationContext) (*core.Result, error) {
	if convCtx == nil {
		convCtx = core.NewConversationContext()
	}

	history := loadHistory(convCtx)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2*len(history)+2)
	if p.systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(p.systemPrompt))
	}
	for _, turn := range history {
		messages = append(messages, openai.UserMessage(turn.User), openai.AssistantMessage(turn.Assistant))
	}
	messages = append(messages, openai.UserMessage(req.Message))

	completion, err := p.completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("openai chat completion returned no choices")
	}
	answer := completion.Choices[0].Message.Content

	convCtx.Update(HistoryKey, func(old interface{}, ok bool) interface{} {
		var turns []Turn
		if ok {
			turns, _ = old.([]Turn)
		}
		turns = append(turns, Turn{User: req.Message, Assistant: answer})
		if p.historySize > 0 && len(turns) > p.historySize {
			turns = turns[len(turns)-p.historySize:]
		}
		return turns
	})

	logger.WithFields(logrus.Fields{
		"channel":    req.Channel,
		"app":        req.App,
		"model":      p.model,
		"history":    len(history),
		"answer_len": len(answer),
	}).Debug("openai-completion-received")

	return &core.Result{
		Locale:    locale,
		Utterance: req.Message,
		Score:     1,
		Answer:    answer,
	}, nil
}

// loadHistory copies the stored turns so a concurrent update cannot change them underneath
func loadHistory(convCtx *core.ConversationContext) []Turn {
	v, ok := convCtx.Get(HistoryKey)
	if !ok {
		return nil
	}
	turns, _ := v.([]Turn)
	return append([]Turn(nil), turns...)
}
