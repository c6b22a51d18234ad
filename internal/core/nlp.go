package core

import (
	"context"
	"sync"
)

// Request is what a connector sends to the NLP processor for one inbound message
type Request struct {
	Message string
	Channel string // Connector channel id, e.g. "telegram"
	App     string // Host application name
}

// Result is the processor's answer. Connectors only read Answer.
type Result struct {
	Locale    string
	Utterance string
	Intent    string
	Score     float64
	Answer    string
}

// Processor is the host NLP processor contract.
// An empty locale lets the processor pick one.
type Processor interface {
	Process(ctx context.Context, req Request, locale string, convCtx *ConversationContext) (*Result, error)
}

// ProcessorFunc allows a plain function to be used as a Processor
type ProcessorFunc func(ctx context.Context, req Request, locale string, convCtx *ConversationContext) (*Result, error)

// Process implements Processor
func (f ProcessorFunc) Process(ctx context.Context, req Request, locale string, convCtx *ConversationContext) (*Result, error) {
	return f(ctx, req, locale, convCtx)
}

// ConversationContext carries processor state across the messages of one
// connector instance. It is shared by every chat the connector serves.
type ConversationContext struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewConversationContext creates an empty conversation context
func NewConversationContext() *ConversationContext {
	return &ConversationContext{values: make(map[string]interface{})}
}

// Get returns the value stored under key
func (c *ConversationContext) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores value under key
func (c *ConversationContext) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Update replaces the value under key with fn(old) while holding the lock
func (c *ConversationContext) Update(key string, fn func(old interface{}, ok bool) interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.values[key]
	c.values[key] = fn(old, ok)
}

// Delete removes key
func (c *ConversationContext) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
}

// Len returns the number of stored keys
func (c *ConversationContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// Snapshot returns a shallow copy of the stored values
func (c *ConversationContext) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{}, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}
