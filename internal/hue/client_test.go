package hue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/lightcontrol/internal/light"
)

const testTimeout = 2 * time.Second

type seenRequest struct {
	method string
	path   string
	body   string
}

// fakeBridge records requests. When block is set, handlers wait for release
// or for the client to go away.
type fakeBridge struct {
	srv *httptest.Server

	mu       sync.Mutex
	requests []seenRequest
	status   int
	block    bool

	arrived     chan string
	release     chan struct{}
	releaseOnce sync.Once
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	b := &fakeBridge{
		status:  http.StatusOK,
		arrived: make(chan string, 16),
		release: make(chan struct{}),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBridge) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	b.mu.Lock()
	block := b.block
	status := b.status
	b.mu.Unlock()

	b.arrived <- string(body)
	if block {
		select {
		case <-b.release:
		case <-r.Context().Done():
			return
		}
	}

	b.mu.Lock()
	b.requests = append(b.requests, seenRequest{method: r.Method, path: r.URL.Path, body: string(body)})
	b.mu.Unlock()

	w.WriteHeader(status)
	fmt.Fprint(w, `{"action":{"on":true,"bri":254}}`)
}

// releaseAll unblocks every waiting and future handler.
func (b *fakeBridge) releaseAll() {
	b.releaseOnce.Do(func() { close(b.release) })
}

func (b *fakeBridge) setBlock(block bool) {
	b.mu.Lock()
	b.block = block
	b.mu.Unlock()
}

func (b *fakeBridge) setStatus(code int) {
	b.mu.Lock()
	b.status = code
	b.mu.Unlock()
}

func (b *fakeBridge) recorded() []seenRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]seenRequest(nil), b.requests...)
}

func (b *fakeBridge) address() string {
	return strings.TrimPrefix(b.srv.URL, "http://")
}

func (b *fakeBridge) waitArrived(t *testing.T) string {
	t.Helper()
	select {
	case body := <-b.arrived:
		return body
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for request at bridge")
		return ""
	}
}

type result struct {
	call   *Call
	status int
	err    error
}

func collect(ch chan<- result) Callback {
	return func(call *Call, resp *http.Response, err error) {
		r := result{call: call, err: err}
		if resp != nil {
			r.status = resp.StatusCode
			if err := CheckStatus(resp); err != nil {
				r.err = err
			}
		}
		ch <- r
	}
}

func waitResult(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for callback")
		return result{}
	}
}

func newTestClient(t *testing.T, b *fakeBridge, workers int) (*Client, *Transport) {
	t.Helper()
	tr := NewTransport(&http.Client{Timeout: testTimeout}, workers, 0)
	t.Cleanup(func() {
		b.releaseAll()
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		tr.Close(ctx)
	})
	c, err := NewClient(tr, "http", b.address(), "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, tr
}

func TestNewClient_URLs(t *testing.T) {
	c, err := NewClient(nil, "", "192.168.1.10", "abc")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if got, want := c.statusURL, "http://192.168.1.10/api/abc/groups/1"; got != want {
		t.Errorf("status url = %q, want %q", got, want)
	}
	if got, want := c.actionURL, "http://192.168.1.10/api/abc/groups/1/action"; got != want {
		t.Errorf("action url = %q, want %q", got, want)
	}
}

func TestNewClient_RequiresAddress(t *testing.T) {
	if _, err := NewClient(nil, "http", "", "abc"); err == nil {
		t.Error("NewClient with empty address should fail")
	}
}

func TestClient_RequestShapes(t *testing.T) {
	b := newFakeBridge(t)
	c, _ := newTestClient(t, b, 1)
	owner := &struct{ name string }{"owner"}

	tests := []struct {
		name   string
		call   *Call
		method string
		path   string
		body   string
		label  string
	}{
		{"status", c.NewStatusCall(owner), http.MethodGet, "/api/secret/groups/1", "", LabelStatus},
		{"power_on", c.NewPowerCall(owner, true), http.MethodPut, "/api/secret/groups/1/action", `{"on":true}`, LabelPower},
		{"power_off", c.NewPowerCall(owner, false), http.MethodPut, "/api/secret/groups/1/action", `{"on":false}`, LabelPower},
		{"brightness", c.NewBrightnessCall(owner, 127), http.MethodPut, "/api/secret/groups/1/action", `{"bri":127}`, LabelBrightness},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.call.Tag() != owner {
				t.Errorf("Tag() = %v, want owner", tt.call.Tag())
			}
			if tt.call.Label() != tt.label {
				t.Errorf("Label() = %q, want %q", tt.call.Label(), tt.label)
			}

			ch := make(chan result, 1)
			tt.call.Enqueue(collect(ch))
			b.waitArrived(t)
			r := waitResult(t, ch)
			if r.err != nil {
				t.Fatalf("callback error: %v", r.err)
			}

			reqs := b.recorded()
			last := reqs[len(reqs)-1]
			if last.method != tt.method || last.path != tt.path || last.body != tt.body {
				t.Errorf("bridge saw %+v, want %s %s %q", last, tt.method, tt.path, tt.body)
			}
		})
	}
}

func TestCall_UniqueIDs(t *testing.T) {
	c, err := NewClient(nil, "http", "bridge", "abc")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	a, b := c.NewStatusCall(nil), c.NewStatusCall(nil)
	if a.ID() == b.ID() {
		t.Error("calls share an id")
	}
}

func TestCall_EnqueueTwicePanics(t *testing.T) {
	b := newFakeBridge(t)
	c, _ := newTestClient(t, b, 1)

	ch := make(chan result, 1)
	call := c.NewStatusCall(nil)
	call.Enqueue(collect(ch))

	defer func() {
		if recover() == nil {
			t.Error("second Enqueue should panic")
		}
	}()
	call.Enqueue(collect(ch))
}

func TestTransport_NonSuccessIsProtocolFailure(t *testing.T) {
	b := newFakeBridge(t)
	b.setStatus(http.StatusInternalServerError)
	c, _ := newTestClient(t, b, 1)

	ch := make(chan result, 1)
	c.NewStatusCall(nil).Enqueue(collect(ch))
	r := waitResult(t, ch)

	if r.status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", r.status)
	}
	if !errors.Is(r.err, ErrProtocol) {
		t.Errorf("err = %v, want ErrProtocol", r.err)
	}
	var se *StatusError
	if !errors.As(r.err, &se) || se.Code != http.StatusInternalServerError {
		t.Errorf("err = %v, want *StatusError with code 500", r.err)
	}
}

func TestTransport_UnreachableIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	tr := NewTransport(&http.Client{Timeout: testTimeout}, 1, 0)
	defer tr.Close(context.Background())
	c, err := NewClient(tr, "http", addr, "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ch := make(chan result, 1)
	c.NewStatusCall(nil).Enqueue(collect(ch))
	r := waitResult(t, ch)
	if !errors.Is(r.err, ErrTransport) {
		t.Errorf("err = %v, want ErrTransport", r.err)
	}
}

func TestTransport_CancelQueuedNeverReachesBridge(t *testing.T) {
	b := newFakeBridge(t)
	b.setBlock(true)
	c, _ := newTestClient(t, b, 1)

	first := make(chan result, 1)
	c.NewPowerCall(nil, true).Enqueue(collect(first))
	b.waitArrived(t)

	second := make(chan result, 1)
	queued := c.NewPowerCall(nil, false)
	queued.Enqueue(collect(second))
	queued.Cancel()

	b.release <- struct{}{}
	if r := waitResult(t, first); r.err != nil {
		t.Fatalf("first call error: %v", r.err)
	}
	r := waitResult(t, second)
	if !errors.Is(r.err, ErrCanceled) {
		t.Errorf("queued call err = %v, want ErrCanceled", r.err)
	}
	for _, req := range b.recorded() {
		if req.body == `{"on":false}` {
			t.Error("cancelled call reached the bridge")
		}
	}
}

func TestTransport_CancelRunning(t *testing.T) {
	b := newFakeBridge(t)
	b.setBlock(true)
	c, tr := newTestClient(t, b, 1)

	ch := make(chan result, 1)
	call := c.NewBrightnessCall(nil, 10)
	call.Enqueue(collect(ch))
	b.waitArrived(t)

	if running := tr.RunningCalls(); len(running) != 1 || running[0] != call {
		t.Fatalf("RunningCalls() = %v, want [%v]", running, call)
	}
	call.Cancel()

	r := waitResult(t, ch)
	if !errors.Is(r.err, ErrCanceled) {
		t.Errorf("err = %v, want ErrCanceled", r.err)
	}
	if !call.IsCanceled() {
		t.Error("IsCanceled() = false after Cancel")
	}
}

func TestTransport_CancelAfterCompletionIsNoop(t *testing.T) {
	b := newFakeBridge(t)
	c, _ := newTestClient(t, b, 1)

	ch := make(chan result, 1)
	call := c.NewStatusCall(nil)
	call.Enqueue(collect(ch))
	r := waitResult(t, ch)
	if r.err != nil {
		t.Fatalf("callback error: %v", r.err)
	}

	call.Cancel()
	call.Cancel()
	select {
	case extra := <-ch:
		t.Errorf("unexpected second callback: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransport_CancelTaggedIsTargeted(t *testing.T) {
	b := newFakeBridge(t)
	b.setBlock(true)
	c, tr := newTestClient(t, b, 1)

	ownerA := &struct{ name string }{"a"}
	ownerB := &struct{ name string }{"b"}

	chA := make(chan result, 2)
	chB := make(chan result, 1)

	runningA := c.NewStatusCall(ownerA)
	runningA.Enqueue(collect(chA))
	b.waitArrived(t)

	queuedA := c.NewPowerCall(ownerA, true)
	queuedA.Enqueue(collect(chA))
	queuedB := c.NewPowerCall(ownerB, false)
	queuedB.Enqueue(collect(chB))

	if got := len(tr.QueuedCalls()); got != 2 {
		t.Fatalf("QueuedCalls() has %d calls, want 2", got)
	}

	if n := c.CancelAll(ownerA); n != 2 {
		t.Errorf("CancelAll(ownerA) = %d, want 2", n)
	}
	if !runningA.IsCanceled() || !queuedA.IsCanceled() {
		t.Error("ownerA calls not cancelled")
	}
	if queuedB.IsCanceled() {
		t.Error("ownerB call was cancelled")
	}

	for i := 0; i < 2; i++ {
		if r := waitResult(t, chA); !errors.Is(r.err, ErrCanceled) {
			t.Errorf("ownerA callback err = %v, want ErrCanceled", r.err)
		}
	}

	// the cancelled handler may still be parked, so release everyone
	b.waitArrived(t)
	b.releaseAll()
	if r := waitResult(t, chB); r.err != nil {
		t.Errorf("ownerB call err = %v, want success", r.err)
	}
}

func TestTransport_EnqueueAfterClose(t *testing.T) {
	tr := NewTransport(nil, 1, 0)
	tr.Close(context.Background())

	c, err := NewClient(tr, "http", "bridge.invalid", "abc")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ch := make(chan result, 1)
	c.NewStatusCall(nil).Enqueue(collect(ch))
	if r := waitResult(t, ch); !errors.Is(r.err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", r.err)
	}
}

func TestTransport_RateLimited(t *testing.T) {
	b := newFakeBridge(t)
	tr := NewTransport(&http.Client{Timeout: testTimeout}, 2, 100)
	t.Cleanup(func() { tr.Close(context.Background()) })
	c, err := NewClient(tr, "http", b.address(), "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ch := make(chan result, 3)
	for i := 0; i < 3; i++ {
		c.NewStatusCall(nil).Enqueue(collect(ch))
	}
	for i := 0; i < 3; i++ {
		if r := waitResult(t, ch); r.err != nil {
			t.Errorf("call %d err = %v", i, r.err)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, OutcomeCompleted},
		{"canceled", ErrCanceled, OutcomeCanceled},
		{"closed", ErrClosed, OutcomeClosed},
		{"protocol", &StatusError{Code: 404}, OutcomeProtocol},
		{"transport", fmt.Errorf("%w: %w", ErrTransport, io.ErrUnexpectedEOF), OutcomeTransport},
		{"decode", fmt.Errorf("%w: missing action data", light.ErrDecode), OutcomeDecode},
		{"other", errors.New("boom"), OutcomeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
