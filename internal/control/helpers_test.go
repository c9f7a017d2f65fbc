package control

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/lightcontrol/internal/eventbus"
	"github.com/dokzlo13/lightcontrol/internal/hue"
	"github.com/dokzlo13/lightcontrol/internal/light"
)

const testTimeout = 2 * time.Second

// fakeBridge serves the v1 group endpoints. GET and PUT can be blocked
// independently; blocked handlers wait for releaseAll or client cancellation.
type fakeBridge struct {
	srv *httptest.Server

	mu         sync.Mutex
	statusCode int
	statusBody string
	blockGet   bool
	blockPut   bool
	puts       []string

	arrived     chan string
	release     chan struct{}
	releaseOnce sync.Once
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	b := &fakeBridge{
		statusCode: http.StatusOK,
		statusBody: `{"action":{"on":true,"bri":254}}`,
		arrived:    make(chan string, 64),
		release:    make(chan struct{}),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBridge) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	b.mu.Lock()
	block := (r.Method == http.MethodGet && b.blockGet) || (r.Method == http.MethodPut && b.blockPut)
	code, status := b.statusCode, b.statusBody
	b.mu.Unlock()

	b.arrived <- r.Method + " " + string(body)
	if block {
		select {
		case <-b.release:
		case <-r.Context().Done():
			return
		}
	}

	if r.Method == http.MethodPut {
		b.mu.Lock()
		b.puts = append(b.puts, string(body))
		b.mu.Unlock()
		w.Write([]byte(`[{"success":{}}]`))
		return
	}
	w.WriteHeader(code)
	io.WriteString(w, status)
}

func (b *fakeBridge) set(fn func(b *fakeBridge)) {
	b.mu.Lock()
	fn(b)
	b.mu.Unlock()
}

func (b *fakeBridge) putBodies() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.puts...)
}

func (b *fakeBridge) releaseAll() {
	b.releaseOnce.Do(func() { close(b.release) })
}

func (b *fakeBridge) waitArrived(t *testing.T) string {
	t.Helper()
	select {
	case req := <-b.arrived:
		return req
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for request at bridge")
		return ""
	}
}

type harness struct {
	bridge    *fakeBridge
	transport *hue.Transport
	client    *hue.Client
	bus       *eventbus.Bus
	svc       *Service

	commands   chan eventbus.Event
	reconciles chan eventbus.Event
}

func newHarness(t *testing.T, b *fakeBridge) *harness {
	t.Helper()
	h := &harness{
		bridge:     b,
		transport:  hue.NewTransport(&http.Client{Timeout: testTimeout}, 4, 0),
		bus:        eventbus.New(),
		commands:   make(chan eventbus.Event, 256),
		reconciles: make(chan eventbus.Event, 256),
	}
	client, err := hue.NewClient(h.transport, "http", strings.TrimPrefix(b.srv.URL, "http://"), "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	h.client = client
	h.bus.Subscribe(eventbus.EventTypeCommand, func(e eventbus.Event) { h.commands <- e })
	h.bus.Subscribe(eventbus.EventTypeReconcile, func(e eventbus.Event) { h.reconciles <- e })
	h.svc = NewService(client, Options{Bus: h.bus})

	t.Cleanup(func() {
		b.releaseAll()
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		h.transport.Close(ctx)
		h.bus.Close(ctx)
	})
	return h
}

// waitEvent reads from ch until match returns true.
func waitEvent(t *testing.T, ch <-chan eventbus.Event, match func(eventbus.Event) bool) eventbus.Event {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case e := <-ch:
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return eventbus.Event{}
		}
	}
}

func forRequest(call *hue.Call) func(eventbus.Event) bool {
	id := call.ID().String()
	return func(e eventbus.Event) bool { return e.Data["request_id"] == id }
}

type recorder struct {
	ch chan light.Snapshot
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan light.Snapshot, 64)}
}

func (r *recorder) OnNext(s light.Snapshot) { r.ch <- s }

func (r *recorder) next(t *testing.T) light.Snapshot {
	t.Helper()
	select {
	case s := <-r.ch:
		return s
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for snapshot")
		return light.Snapshot{}
	}
}

func (r *recorder) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case s := <-r.ch:
		t.Errorf("unexpected snapshot: on=%t brightness=%v", s.On(), s.Brightness())
	case <-time.After(wait):
	}
}

func (s *slot) current() *hue.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call
}

func (h *Hub) Len() int {
	return len(*h.subs.Load())
}

func (s *Subscription) currentCall() *hue.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call
}

// waitRunning polls until call is executing on the transport.
func waitRunning(t *testing.T, tr *hue.Transport, call *hue.Call) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		for _, c := range tr.RunningCalls() {
			if c == call {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("call %v never started running", call)
}
