package safety

import (
	"context"
	"fmt"
	"sync"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/audit"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/logger"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/monitoring"
)

// Kill switch trigger sources.
const (
	SourceManual    = "manual"
	SourceStaleData = "stale_data"
	SourceErrorRate = "error_rate"
	SourceSystem    = "system"
)

// KillSwitch is a one-way latch backed by a durable marker.
//
// The first trigger wins: while latched, later triggers keep the first reason
// and source. Once a marker has been seen the latch holds in memory even if the
// marker disappears; only Reset(confirm=true) clears it. A reset done by
// another process (the killswitch CLI) takes effect here after a restart.
type KillSwitch struct {
	store MarkerStore
	clock Clock
	sink  audit.Sink
	log   *logger.Logger

	mu      sync.Mutex
	latched *Marker
}

// NewKillSwitch wraps store. A nil sink or logger discards output.
func NewKillSwitch(store MarkerStore, clock Clock, sink audit.Sink, log *logger.Logger) *KillSwitch {
	if clock == nil {
		clock = SystemClock
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &KillSwitch{store: store, clock: clock, sink: sink, log: log.Component("kill_switch")}
}

func describeMarker(m *Marker) string {
	return fmt.Sprintf("[%s] %s", m.Source, m.Reason)
}

// Check reports the latch. Until it is latched the marker is read on every
// call so that an externally created marker halts trading. An unreadable
// marker counts as active but does not latch.
func (k *KillSwitch) Check(ctx context.Context) (bool, string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.latched == nil {
		marker, err := k.store.Load(ctx)
		if err != nil {
			k.log.LogError("kill marker unreadable, treating as active", err)
			monitoring.SetKillSwitchActive(true)
			return true, fmt.Sprintf("kill marker unreadable: %v", err)
		}
		if marker == nil {
			monitoring.SetKillSwitchActive(false)
			return false, ""
		}
		k.latched = marker
		k.log.Warning("kill marker found: %s", describeMarker(marker))
	}

	monitoring.SetKillSwitchActive(true)
	return true, describeMarker(k.latched)
}

// Status returns the active marker, or nil. A latch whose marker was removed
// without a reset is still reported.
func (k *KillSwitch) Status(ctx context.Context) (*Marker, error) {
	marker, err := k.store.Load(ctx)
	if err != nil || marker != nil {
		return marker, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.latched == nil {
		return nil, nil
	}
	m := *k.latched
	return &m, nil
}

// Trigger latches the switch. Calling it while active keeps the first reason.
// The latch holds in this process even when the marker cannot be persisted;
// the store error is returned.
func (k *KillSwitch) Trigger(ctx context.Context, reason, source string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if source == "" {
		source = SourceManual
	}
	monitoring.SetKillSwitchActive(true)

	if k.latched != nil {
		k.log.Warning("kill switch already active, keeping first reason (ignored %q from %s)", reason, source)
		return nil
	}

	marker := Marker{TriggeredAt: k.clock.Now(), Reason: reason, Source: source}
	created, err := k.store.Create(ctx, marker)
	if !created && err == nil {
		// Another process or an operator wrote the marker first.
		existing, loadErr := k.store.Load(ctx)
		if loadErr != nil || existing == nil {
			existing = &marker
		}
		k.latched = existing
		k.log.Warning("kill switch already active, keeping first reason (ignored %q from %s)", reason, source)
		return nil
	}

	k.latched = &marker
	k.log.Error("KILL SWITCH ACTIVATED [%s]: %s", source, reason)
	event := audit.NewEvent(audit.EventKillSwitch, audit.SeverityCritical, reason).WithSource(source)
	event.Timestamp = marker.TriggeredAt.UTC()
	if err != nil {
		event = event.WithField("marker_error", err.Error())
	}
	if auditErr := k.sink.Record(ctx, event); auditErr != nil {
		k.log.LogError("failed to audit kill switch trigger", auditErr)
	}

	if err != nil {
		return fmt.Errorf("kill switch trigger: %w", err)
	}
	return nil
}

// Reset clears the latch and removes the marker. Without confirm it does nothing.
func (k *KillSwitch) Reset(ctx context.Context, confirm bool) (bool, error) {
	if !confirm {
		k.log.Warning("kill switch reset requires confirm=true")
		return false, nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.store.Remove(ctx); err != nil {
		return false, fmt.Errorf("kill switch reset: %w", err)
	}
	k.latched = nil
	monitoring.SetKillSwitchActive(false)

	k.log.Info("kill switch reset")
	event := audit.NewEvent(audit.EventKillSwitchReset, audit.SeverityInfo, "kill switch manually reset").WithSource(SourceManual)
	event.Timestamp = k.clock.Now().UTC()
	if err := k.sink.Record(ctx, event); err != nil {
		k.log.LogError("failed to audit kill switch reset", err)
	}
	return true, nil
}
