// Package ledger records an append-only history of wake cycles for auditing.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventCycleStarted   EventType = "cycle_started"
	EventClockResolved  EventType = "clock_resolved"
	EventClockUnset     EventType = "clock_unset"
	EventNetworkFailed  EventType = "network_failed"
	EventFetchCompleted EventType = "fetch_completed"
	EventFetchFailed    EventType = "fetch_failed"
	EventFrameCommitted EventType = "frame_committed"
	EventSleepScheduled EventType = "sleep_scheduled"
	EventSleepFallback  EventType = "sleep_fallback"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64
	CycleID   string
	EventType EventType
	Timestamp time.Time
	Device    string
	Payload   map[string]any
}

// Ledger provides append-only cycle logging
type Ledger struct {
	db     *sql.DB
	device string
	now    func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB, device string) *Ledger {
	return &Ledger{db: db, device: device, now: time.Now}
}

// NewCycleID returns a fresh identifier grouping one cycle's events
func NewCycleID() string {
	return uuid.NewString()
}

// Append adds a new event to the ledger
func (l *Ledger) Append(cycleID string, eventType EventType, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(
		`INSERT INTO cycle_ledger (cycle_id, event_type, timestamp, device, payload) VALUES (?, ?, ?, ?, ?)`,
		cycleID, string(eventType), l.now().UTC().Unix(), l.device, string(payloadJSON),
	)
	return err
}

// GetByCycle returns a cycle's events in the order they were appended
func (l *Ledger) GetByCycle(cycleID string) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, cycle_id, event_type, timestamp, device, payload
		FROM cycle_ledger
		WHERE cycle_id = ?
		ORDER BY id ASC
	`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByType returns entries filtered by event type, newest first
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, cycle_id, event_type, timestamp, device, payload
		FROM cycle_ledger
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

// GetByTimeRange returns entries within a time range, newest first
func (l *Ledger) GetByTimeRange(start, end time.Time, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, cycle_id, event_type, timestamp, device, payload
		FROM cycle_ledger
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, start.Unix(), end.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).Unix()
	result, err := l.db.Exec(`DELETE FROM cycle_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, device sql.NullString
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.CycleID, &entry.EventType, &timestamp, &device, &payloadStr); err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		if device.Valid {
			entry.Device = device.String
		}

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
