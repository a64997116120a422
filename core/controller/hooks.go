package controller

import (
	"context"
	"errors"

	"github.com/fatmatto/rest-toolkit/core"
)

// ErrNilHandler is returned by RegisterHook for a nil handler.
var ErrNilHandler = errors.New("registerHook(eventName, handler): handler must be a function")

// Envelope is the response shape handed to the transport layer.
type Envelope struct {
	Status bool        `json:"status"`
	Data   interface{} `json:"data"`
}

// Request is the mutable per-request context threaded through a hook chain.
// Pre hooks typically adjust Query or Body, post hooks adjust Result.
type Request struct {
	// Operation is the operation this request is for.
	Operation core.Operation
	// ID is the resource id for the by-id operations, empty otherwise.
	ID string
	// Query is the raw query of the request.
	Query RawQuery
	// Body is the decoded request body, if any.
	Body interface{}
	// Result is the operation outcome that the finalize step wraps into the
	// response envelope.
	Result interface{}

	response *Envelope
}

// Respond sets a terminal response, ending the hook chain early. Later
// stages, including the operation body and the finalize step, do not run.
func (r *Request) Respond(envelope Envelope) {
	r.response = &envelope
}

// Response returns the terminal response set by a hook, or nil.
func (r *Request) Response() *Envelope {
	return r.response
}

// Hook is a lifecycle callback bound to a named event. Returning an error
// aborts the request; calling Request.Respond short-circuits it.
type Hook func(ctx context.Context, r *Request) error

// RegisterHook appends a handler to the named event. Handlers run in
// registration order and cannot be removed.
//
// Registration is configuration-time only: the registry is read without
// locking while requests are served.
func (c *Controller) RegisterHook(eventName string, handler Hook) error {
	if handler == nil {
		return ErrNilHandler
	}
	c.hooks[eventName] = append(c.hooks[eventName], handler)
	return nil
}

// Hooks returns the handlers registered for an event, in order.
func (c *Controller) Hooks(eventName string) []Hook {
	return c.hooks[eventName]
}

// Run executes the hook chain for an operation around the given body:
// wildcard-pre, specific-pre, body, specific-post, wildcard-post,
// pre-finalize, then the finalize step producing {status:true, data:result}.
// Any stage may short-circuit via Request.Respond.
func (c *Controller) Run(ctx context.Context, op core.Operation, r *Request, body Hook) (Envelope, error) {
	stages := [][]Hook{
		c.Hooks(core.EventPreWildcard),
		c.Hooks(core.PreEvent(op)),
		{body},
		c.Hooks(core.PostEvent(op)),
		c.Hooks(core.EventPostWildcard),
		c.Hooks(core.EventPreFinalize),
	}
	for _, stage := range stages {
		for _, hook := range stage {
			if err := hook(ctx, r); err != nil {
				return Envelope{}, err
			}
			if r.response != nil {
				return *r.response, nil
			}
		}
	}
	return Envelope{Status: true, Data: r.Result}, nil
}
