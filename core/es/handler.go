package es

import "context"

// EventFunc handles one delivered envelope. Delivery is at-least-once, so
// implementations must be idempotent.
type EventFunc func(ctx context.Context, tenant string, env Envelope) error

// EventHandler is a stream consumer. Name is its cursor key within a
// thread. A non-empty Stream restricts delivery to one aggregate type; the
// cursor still moves past envelopes the handler does not subscribe to.
type EventHandler interface {
	Name() string
	Stream() string
	Events() map[string]EventFunc
}

type (
	handlerOptions struct{ stream string }
	HandlerOption  interface{ applyToHandler(*handlerOptions) }
	streamOption   valueOption[string]
)

func (o streamOption) applyToHandler(opts *handlerOptions) { opts.stream = o.v }

// WithStream restricts a handler to envelopes of one aggregate type.
func WithStream(aggType string) HandlerOption { return streamOption{v: aggType} }

type funcHandler struct {
	name   string
	stream string
	events map[string]EventFunc
}

// NewHandler builds an EventHandler from a name and an event table.
func NewHandler(name string, events map[string]EventFunc, opts ...HandlerOption) EventHandler {
	options := handlerOptions{}
	for _, opt := range opts {
		opt.applyToHandler(&options)
	}
	return &funcHandler{name: name, stream: options.stream, events: events}
}

func (h *funcHandler) Name() string                 { return h.name }
func (h *funcHandler) Stream() string               { return h.stream }
func (h *funcHandler) Events() map[string]EventFunc { return h.events }

// lookup returns the function for env, or nil if h does not subscribe.
func lookup(h EventHandler, env Envelope) EventFunc {
	if s := h.Stream(); s != "" && s != env.AggregateType {
		return nil
	}
	return h.Events()[env.Name]
}
