// Package nlp provides the NLP processors the host container can hand to connectors.
package nlp

import (
	"context"

	"github.com/keepmind9/nlpbridge/internal/core"
)

// LastMessageKey is the conversation context key the echo processor writes
const LastMessageKey = "lastMessage"

// EchoProcessor answers every message with the message itself
type EchoProcessor struct{}

// NewEchoProcessor creates an echo processor
func NewEchoProcessor() *EchoProcessor {
	return &EchoProcessor{}
}

// Process implements core.Processor
func (p *EchoProcessor) Process(ctx context.Context, req core.Request, locale string, convCtx *core.ConversationContext) (*core.Result, error) {
	if convCtx != nil {
		convCtx.Set(LastMessageKey, req.Message)
	}
	return &core.Result{
		Locale:    locale,
		Utterance: req.Message,
		Intent:    "None",
		Score:     1,
		Answer:    req.Message,
	}, nil
}
