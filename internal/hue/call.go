package hue

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
)

// Callback receives the result of an enqueued call on a transport worker.
// Exactly one of resp and err is non-nil. resp.Body is closed by the transport
// once the callback returns.
type Callback func(call *Call, resp *http.Response, err error)

// Call is a single cancellable bridge request.
type Call struct {
	id    uuid.UUID
	label string
	tag   any
	req   *http.Request

	ctx    context.Context
	cancel context.CancelFunc

	canceled atomic.Bool
	enqueued atomic.Bool

	transport *Transport
	callback  Callback
}

func newCall(t *Transport, label string, tag any, req *http.Request) *Call {
	ctx, cancel := context.WithCancel(context.Background())
	return &Call{
		id:        uuid.New(),
		label:     label,
		tag:       tag,
		req:       req.WithContext(ctx),
		ctx:       ctx,
		cancel:    cancel,
		transport: t,
	}
}

// ID returns the unique call id.
func (c *Call) ID() uuid.UUID { return c.id }

// Label returns the request kind this call was built for.
func (c *Call) Label() string { return c.label }

// Tag returns the owner tag used for targeted cancellation.
func (c *Call) Tag() any { return c.tag }

// Request returns the underlying request. Callers must not modify it.
func (c *Call) Request() *http.Request { return c.req }

// Enqueue schedules the call and returns immediately. Calling it twice panics.
func (c *Call) Enqueue(cb Callback) {
	if !c.enqueued.CompareAndSwap(false, true) {
		panic("hue: call already enqueued")
	}
	c.callback = cb
	c.transport.enqueue(c)
}

// Cancel stops the call. Safe to call more than once, including after the call
// has completed, in which case it has no effect on the delivered result.
func (c *Call) Cancel() {
	if c.canceled.CompareAndSwap(false, true) {
		c.cancel()
	}
}

// IsCanceled reports whether Cancel was called.
func (c *Call) IsCanceled() bool {
	return c.canceled.Load()
}

func (c *Call) String() string {
	return c.label + ":" + c.id.String()
}
