package audit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// EventType classifies an audit record.
type EventType string

const (
	EventKillSwitch      EventType = "kill_switch"
	EventKillSwitchReset EventType = "kill_switch_reset"
	EventStaleData       EventType = "stale_data"
	EventRateLimitWait   EventType = "rate_limit_wait"
	EventErrorRecorded   EventType = "error_recorded"
	EventPositionOpened  EventType = "position_opened"
	EventPositionClosed  EventType = "position_closed"
	EventEmergencyClose  EventType = "emergency_close"
	EventRiskRejected    EventType = "risk_rejected"
	EventDailyReset      EventType = "daily_reset"
)

// Severity of an audit record.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one append-only audit record.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"event_type"`
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Source    string                 `json:"source,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(eventType EventType, severity Severity, message string) Event {
	return Event{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Severity:  severity,
		Message:   message,
	}
}

// WithSource sets the component or trigger that produced the event.
func (e Event) WithSource(source string) Event {
	e.Source = source
	return e
}

// WithField attaches a structured field.
func (e Event) WithField(key string, value interface{}) Event {
	fields := make(map[string]interface{}, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}

// Sink persists audit events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// Memory keeps events in process. Used by paper trading and tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfType returns the recorded events matching eventType.
func (m *Memory) OfType(eventType EventType) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
