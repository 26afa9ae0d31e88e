package consumer

import (
	"context"
	"log/slog"
	"sort"
)

// Router dispatches messages by topic. Its Topics are what the consumer
// client should subscribe to.
type Router struct {
	handlers map[string]Handler
	fallback Handler
	logger   *slog.Logger
}

// NewRouter creates a router. fallback handles topics with no registration;
// without one such messages are logged and committed.
func NewRouter(logger *slog.Logger, fallback Handler) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handlers: make(map[string]Handler),
		fallback: fallback,
		logger:   logger,
	}
}

// Register sets the handler for topic, replacing any earlier one.
func (r *Router) Register(topic string, handler Handler) {
	r.handlers[topic] = handler
}

// Topics returns the registered topics in sorted order.
func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func (r *Router) Handle(ctx context.Context, msg *Message) error {
	if handler, ok := r.handlers[msg.Topic]; ok {
		return handler.Handle(ctx, msg)
	}
	if r.fallback != nil {
		return r.fallback.Handle(ctx, msg)
	}
	r.logger.WarnContext(ctx, "no handler for topic, committing without processing",
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)
	return nil
}
