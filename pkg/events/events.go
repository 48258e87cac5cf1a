// Package events is a small in-process publish/subscribe bus. Handlers run synchronously in
// registration order; a handler that needs to do slow work starts its own goroutine.
package events

import (
	"sync"

	"ResQFlow/pkg/logger"

	"go.uber.org/zap"
)

const (
	SOSCreated         = "sos.created"
	SOSStatusChanged   = "sos.status_changed"
	SuggestionIngested = "suggestion.ingested"
	SuggestionReviewed = "suggestion.reviewed"
	MissingCritical    = "missing.critical"
	StockChanged       = "stock.changed"
)

type Handler func(sender any, payload any)

type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

func (b *Bus) Connect(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Emit delivers payload to every handler of topic. A panicking handler is logged and skipped.
func (b *Bus) Emit(topic string, sender any, payload any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	for _, h := range hs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("event handler panic", zap.String("topic", topic), zap.Any("recover", r))
				}
			}()
			h(sender, payload)
		}()
	}
}
