// Package ledger keeps an append-only history of bridge call outcomes:
// every power and brightness command and every subscriber status fetch.
// It is observational only and never feeds back into control state.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightcontrol/internal/eventbus"
	"github.com/dokzlo13/lightcontrol/internal/hue"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventCommandApplied    EventType = "command_applied"
	EventCommandSuperseded EventType = "command_superseded"
	EventCommandFailed     EventType = "command_failed"
	EventStatusReconciled  EventType = "status_reconciled"
	EventStatusCanceled    EventType = "status_canceled"
	EventStatusFailed      EventType = "status_failed"
)

// ValidEventType reports whether t is one of the recorded event types.
func ValidEventType(t EventType) bool {
	switch t {
	case EventCommandApplied, EventCommandSuperseded, EventCommandFailed,
		EventStatusReconciled, EventStatusCanceled, EventStatusFailed:
		return true
	}
	return false
}

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64          `json:"id"`
	EventType EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	Outcome   string         `json:"outcome"`
	RequestID string         `json:"request_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Ledger provides append-only outcome logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append records entry. A second entry for the same request id is ignored.
func (l *Ledger) Append(entry Entry) error {
	if entry.RequestID == "" {
		return fmt.Errorf("ledger entry %s has no request id", entry.EventType)
	}

	var payloadJSON []byte
	if len(entry.Payload) > 0 {
		var err error
		payloadJSON, err = json.Marshal(entry.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}

	_, err := l.db.Exec(`
		INSERT OR IGNORE INTO event_ledger (event_type, timestamp, kind, outcome, payload, request_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(entry.EventType), ts.UTC().Unix(), entry.Kind, entry.Outcome, string(payloadJSON), entry.RequestID)
	return err
}

// GetByType returns entries filtered by event type, newest first
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, kind, outcome, payload, request_id
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByKind returns entries for one call kind (status, power, brightness), newest first
func (l *Ledger) GetByKind(kind string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, kind, outcome, payload, request_id
		FROM event_ledger
		WHERE kind = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Attach records command and reconcile outcomes published on bus.
func (l *Ledger) Attach(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeCommand, l.record)
	bus.Subscribe(eventbus.EventTypeReconcile, l.record)
}

// RunCleanup deletes expired entries every interval until ctx is done.
func (l *Ledger) RunCleanup(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Ledger cleanup failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("deleted", n).Msg("Ledger cleanup")
			}
		}
	}
}

func (l *Ledger) record(event eventbus.Event) {
	entry, ok := entryFromEvent(event)
	if !ok {
		log.Warn().Str("type", string(event.Type)).Msg("Ledger ignored malformed event")
		return
	}
	if err := l.Append(entry); err != nil {
		log.Error().Err(err).Str("request_id", entry.RequestID).Msg("Failed to append ledger entry")
	}
}

// entryFromEvent maps a bus event to a ledger entry.
func entryFromEvent(event eventbus.Event) (Entry, bool) {
	requestID, _ := event.Data["request_id"].(string)
	kind, _ := event.Data["kind"].(string)
	outcome, _ := event.Data["outcome"].(string)
	if requestID == "" || outcome == "" {
		return Entry{}, false
	}

	payload := make(map[string]any)
	for k, v := range event.Data {
		switch k {
		case "request_id", "kind", "outcome":
		default:
			payload[k] = v
		}
	}

	entry := Entry{
		Kind:      kind,
		Outcome:   outcome,
		RequestID: requestID,
		Payload:   payload,
	}

	switch event.Type {
	case eventbus.EventTypeCommand:
		switch outcome {
		case hue.OutcomeCompleted:
			entry.EventType = EventCommandApplied
		case hue.OutcomeCanceled:
			entry.EventType = EventCommandSuperseded
		default:
			entry.EventType = EventCommandFailed
		}
	case eventbus.EventTypeReconcile:
		switch outcome {
		case hue.OutcomeCompleted:
			entry.EventType = EventStatusReconciled
		case hue.OutcomeCanceled:
			entry.EventType = EventStatusCanceled
		default:
			entry.EventType = EventStatusFailed
		}
	default:
		return Entry{}, false
	}
	return entry, true
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &entry.Kind, &entry.Outcome, &payloadStr, &entry.RequestID,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
