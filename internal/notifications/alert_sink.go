package notifications

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/audit"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/logger"
)

// Config selects which audit events reach the operator.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	// MinSeverity is the lowest severity forwarded.
	MinSeverity string `yaml:"min_severity" default:"warning" validate:"oneof=info warning critical"`
	// TradeAlerts also forwards position opened and closed events.
	TradeAlerts bool `yaml:"trade_alerts"`
	QueueSize   int  `yaml:"queue_size" default:"64" validate:"gte=1"`
}

var severityRank = map[audit.Severity]int{
	audit.SeverityInfo:     0,
	audit.SeverityWarning:  1,
	audit.SeverityCritical: 2,
}

// AlertSink is an audit.Sink that forwards selected events to a Notifier
// from a background goroutine. When the queue is full the alert is dropped
// and logged so audit recording never waits on the network.
type AlertSink struct {
	notifier    Notifier
	minRank     int
	tradeAlerts bool
	log         *logger.Logger

	mu     sync.Mutex
	closed bool
	queue  chan audit.Event
	done   chan struct{}
}

var _ audit.Sink = (*AlertSink)(nil)

func NewAlertSink(n Notifier, cfg Config, log *logger.Logger) *AlertSink {
	if log == nil {
		log = logger.Nop()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	minRank, ok := severityRank[audit.Severity(cfg.MinSeverity)]
	if !ok {
		minRank = severityRank[audit.SeverityWarning]
	}

	s := &AlertSink{
		notifier:    n,
		minRank:     minRank,
		tradeAlerts: cfg.TradeAlerts,
		log:         log,
		queue:       make(chan audit.Event, size),
		done:        make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AlertSink) wants(e audit.Event) bool {
	if severityRank[e.Severity] >= s.minRank {
		return true
	}
	return s.tradeAlerts && (e.Type == audit.EventPositionOpened || e.Type == audit.EventPositionClosed)
}

func (s *AlertSink) Record(ctx context.Context, e audit.Event) error {
	if !s.wants(e) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	select {
	case s.queue <- e:
	default:
		s.log.Warning("alert queue full, dropping %s alert", e.Type)
	}
	return nil
}

func (s *AlertSink) run() {
	defer close(s.done)
	for e := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := s.notifier.SendAlert(ctx, string(e.Severity), FormatEvent(e)); err != nil {
			s.log.LogError("failed to send alert", err)
		}
		cancel()
	}
}

// Close stops accepting alerts and waits until the queued ones are sent.
func (s *AlertSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
}

// FormatEvent renders an event as a short Markdown message.
func FormatEvent(e audit.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*", strings.ToUpper(strings.ReplaceAll(string(e.Type), "_", " ")))
	if e.Source != "" {
		fmt.Fprintf(&b, " (%s)", e.Source)
	}
	fmt.Fprintf(&b, "\n%s", e.Message)

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n`%s`: %v", k, e.Fields[k])
	}
	if !e.Timestamp.IsZero() {
		fmt.Fprintf(&b, "\n_%s_", e.Timestamp.UTC().Format(time.RFC3339))
	}
	return b.String()
}
