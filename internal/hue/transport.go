package hue

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultWorkers is the number of concurrently running calls.
const DefaultWorkers = 4

// Transport is the shared request queue. Calls wait in FIFO order and are
// executed by a fixed pool of workers. Every enqueued call gets exactly one
// callback, including calls that were cancelled before they ran.
type Transport struct {
	client  *http.Client
	limiter *rate.Limiter

	mu      sync.Mutex
	cond    *sync.Cond
	queued  []*Call
	running map[*Call]struct{}
	closed  bool

	wg sync.WaitGroup
}

// NewTransport starts a transport with the given worker count. A positive
// rateLimitRPS paces requests to the bridge; zero disables pacing.
func NewTransport(client *http.Client, workers int, rateLimitRPS float64) *Transport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}

	t := &Transport{
		client:  client,
		running: make(map[*Call]struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	if rateLimitRPS > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(rateLimitRPS), max(1, int(rateLimitRPS)))
	}

	for i := 0; i < workers; i++ {
		t.wg.Add(1)
		go t.worker(i)
	}

	log.Debug().Int("workers", workers).Float64("rate_limit_rps", rateLimitRPS).Msg("Bridge transport started")
	return t
}

func (t *Transport) enqueue(c *Call) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		// Callbacks never run on the caller's goroutine.
		go t.finish(c, nil, ErrClosed)
		return
	}
	t.queued = append(t.queued, c)
	t.mu.Unlock()
	t.cond.Signal()
}

func (t *Transport) worker(id int) {
	defer t.wg.Done()

	for {
		t.mu.Lock()
		for len(t.queued) == 0 && !t.closed {
			t.cond.Wait()
		}
		if len(t.queued) == 0 {
			t.mu.Unlock()
			return
		}
		c := t.queued[0]
		t.queued[0] = nil
		t.queued = t.queued[1:]
		t.running[c] = struct{}{}
		t.mu.Unlock()

		t.execute(id, c)

		t.mu.Lock()
		delete(t.running, c)
		t.mu.Unlock()
	}
}

func (t *Transport) execute(worker int, c *Call) {
	start := time.Now()
	resp, err := t.do(c)

	evt := log.Debug().
		Str("request_id", c.id.String()).
		Str("kind", c.label).
		Int("worker", worker).
		Dur("took", time.Since(start))
	if resp != nil {
		evt = evt.Int("status", resp.StatusCode)
	}
	if err != nil {
		evt = evt.Str("outcome", Classify(err))
	}
	evt.Msg("Bridge call finished")

	t.finish(c, resp, err)
}

func (t *Transport) do(c *Call) (*http.Response, error) {
	if c.IsCanceled() {
		return nil, ErrCanceled
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(c.ctx); err != nil {
			if c.IsCanceled() {
				return nil, ErrCanceled
			}
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}
	resp, err := t.client.Do(c.Request())
	if err != nil {
		if c.IsCanceled() {
			return nil, ErrCanceled
		}
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return resp, nil
}

// finish runs the callback, then releases the response and the call context.
func (t *Transport) finish(c *Call, resp *http.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("request_id", c.id.String()).
				Str("kind", c.label).
				Msg("Bridge call callback panicked")
		}
	}()
	defer c.cancel()
	if resp != nil {
		defer resp.Body.Close()
	}

	if c.callback != nil {
		c.callback(c, resp, err)
	}
}

// QueuedCalls returns the calls waiting for a worker.
func (t *Transport) QueuedCalls() []*Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Call, len(t.queued))
	copy(out, t.queued)
	return out
}

// RunningCalls returns the calls currently executing.
func (t *Transport) RunningCalls() []*Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Call, 0, len(t.running))
	for c := range t.running {
		out = append(out, c)
	}
	return out
}

// CancelTagged cancels every queued or running call whose tag is tag and
// returns how many it cancelled. Calls with other tags are untouched.
func (t *Transport) CancelTagged(tag any) int {
	n := 0
	for _, c := range t.QueuedCalls() {
		if c.Tag() == tag && !c.IsCanceled() {
			c.Cancel()
			n++
		}
	}
	for _, c := range t.RunningCalls() {
		if c.Tag() == tag && !c.IsCanceled() {
			c.Cancel()
			n++
		}
	}
	return n
}

// Close stops accepting calls, cancels everything outstanding and waits for
// the workers to drain. It returns an error if ctx expires first. Closing
// twice is a no-op.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	pending := make([]*Call, 0, len(t.queued)+len(t.running))
	pending = append(pending, t.queued...)
	for c := range t.running {
		pending = append(pending, c)
	}
	t.mu.Unlock()
	t.cond.Broadcast()

	for _, c := range pending {
		c.Cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	defer t.client.CloseIdleConnections()
	select {
	case <-done:
		log.Debug().Int("cancelled", len(pending)).Msg("Bridge transport workers stopped")
		return nil
	case <-ctx.Done():
		log.Warn().Msg("Bridge transport shutdown timed out")
		return fmt.Errorf("bridge transport shutdown: %w", ctx.Err())
	}
}
