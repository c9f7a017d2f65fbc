// Package surface exposes the control service to a host over HTTP: control
// enumeration, a server-sent event stream per subscriber, an action endpoint
// and the recorded outcome history.
package surface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightcontrol/internal/control"
	"github.com/dokzlo13/lightcontrol/internal/hue"
	"github.com/dokzlo13/lightcontrol/internal/ledger"
	"github.com/dokzlo13/lightcontrol/internal/light"
)

// streamBuffer is the per-connection snapshot backlog. When it is full the
// oldest snapshot is dropped.
const streamBuffer = 16

// maxActionBody bounds POSTed action payloads.
const maxActionBody = 4 << 10

// History page sizes.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Controls is the host surface of a control service.
type Controls interface {
	Descriptor() light.Descriptor
	Enumerate() []light.Snapshot
	PublisherFor(ids []string) control.Publisher
	ApplyAction(id string, action control.Action) control.Response
}

// History is the read side of the outcome ledger.
type History interface {
	GetByKind(kind string, limit int) ([]*ledger.Entry, error)
	GetByType(eventType ledger.EventType, limit int) ([]*ledger.Entry, error)
}

// Server serves Controls over HTTP.
type Server struct {
	addr       string
	controls   Controls
	history    History
	refresh    time.Duration
	httpServer *http.Server
}

// NewServer creates a new surface server. history may be nil, which disables
// the history endpoint. refresh is the interval between demand signals on
// open streams; zero requests only on connect.
func NewServer(host string, port int, controls Controls, history History, refresh time.Duration) *Server {
	return &Server{
		addr:     fmt.Sprintf("%s:%d", host, port),
		controls: controls,
		history:  history,
		refresh:  refresh,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /controls", s.handleEnumerate)
	mux.HandleFunc("GET /controls/{id}/stream", s.handleStream)
	mux.HandleFunc("POST /controls/{id}/actions", s.handleAction)
	mux.HandleFunc("GET /controls/{id}/history", s.handleHistory)
	return mux
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	log.Info().Str("addr", s.addr).Msg("Starting control surface server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Control surface server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleEnumerate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controls.Enumerate())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id != s.controls.Descriptor().ID {
		writeError(w, http.StatusNotFound, "unknown control "+id)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	snaps := make(chan light.Snapshot, streamBuffer)
	observer := control.ObserverFunc(func(snap light.Snapshot) {
		for {
			select {
			case snaps <- snap:
				return
			default:
			}
			// Drop the oldest so the newest always gets through
			select {
			case <-snaps:
			default:
			}
		}
	})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.controls.PublisherFor([]string{id}).Subscribe(observer)
	defer sub.Cancel()

	logger := log.With().Str("subscriber", sub.ID().String()).Str("remote", r.RemoteAddr).Logger()
	logger.Debug().Msg("Stream opened")
	defer logger.Debug().Msg("Stream closed")

	var tick <-chan time.Time
	if s.refresh > 0 {
		ticker := time.NewTicker(s.refresh)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-tick:
			sub.Request(1)
		case snap := <-snaps:
			data, err := json.Marshal(snap)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to encode snapshot")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// actionRequest is the POST body: {"type":"boolean","value":true} or
// {"type":"float","value":42}.
type actionRequest struct {
	Type  control.ActionType `json:"type"`
	Value json.RawMessage    `json:"value"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id != s.controls.Descriptor().ID {
		writeError(w, http.StatusNotFound, "unknown control "+id)
		return
	}

	var req actionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxActionBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid action body")
		return
	}

	action, err := parseAction(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := s.controls.ApplyAction(id, action)
	log.Debug().Str("control", id).Str("action", string(action.Type())).Msg("Action applied")
	writeJSON(w, http.StatusOK, map[string]any{"response": int(resp)})
}

// handleHistory lists recorded outcomes, filtered by ?kind= (status, power,
// brightness) or ?type= (ledger event type), newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id != s.controls.Descriptor().ID {
		writeError(w, http.StatusNotFound, "unknown control "+id)
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}

	q := r.URL.Query()
	limit := defaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be 1..%d", maxHistoryLimit))
			return
		}
		limit = n
	}

	kind, eventType := q.Get("kind"), ledger.EventType(q.Get("type"))

	var entries []*ledger.Entry
	var err error
	switch {
	case kind != "" && eventType != "":
		writeError(w, http.StatusBadRequest, "use either kind or type")
		return
	case kind != "":
		switch kind {
		case hue.LabelStatus, hue.LabelPower, hue.LabelBrightness:
		default:
			writeError(w, http.StatusBadRequest, "unknown kind "+kind)
			return
		}
		entries, err = s.history.GetByKind(kind, limit)
	case eventType != "":
		if !ledger.ValidEventType(eventType) {
			writeError(w, http.StatusBadRequest, "unknown type "+string(eventType))
			return
		}
		entries, err = s.history.GetByType(eventType, limit)
	default:
		writeError(w, http.StatusBadRequest, "kind or type is required")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to read history")
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseAction(req actionRequest) (control.Action, error) {
	if len(req.Value) == 0 {
		return nil, errors.New("action value is required")
	}
	switch req.Type {
	case control.ActionBoolean:
		var v bool
		if err := json.Unmarshal(req.Value, &v); err != nil {
			return nil, errors.New("boolean action needs a true/false value")
		}
		return control.BooleanAction{NewState: v}, nil
	case control.ActionFloat:
		var v float64
		if err := json.Unmarshal(req.Value, &v); err != nil {
			return nil, errors.New("float action needs a numeric value")
		}
		return control.FloatAction{NewValue: v}, nil
	default:
		return nil, fmt.Errorf("unsupported action type %q", req.Type)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
