package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	sql  []string
	args [][]any
	err  error
}

func (f *fakeExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = append(f.sql, sql)
	f.args = append(f.args, args)
	return pgconn.CommandTag{}, f.err
}

type failingSink struct{}

func (failingSink) Record(context.Context, Event) error { return errors.New("disk full") }

func TestFileSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "events.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Record(ctx, NewEvent(EventKillSwitch, SeverityCritical, "halted").WithSource("manual")))
	require.NoError(t, sink.Record(ctx, NewEvent(EventStaleData, SeverityWarning, "stale").WithField("age_s", 45)))
	require.NoError(t, sink.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}

	require.Len(t, events, 2)
	assert.Equal(t, EventKillSwitch, events[0].Type)
	assert.Equal(t, "manual", events[0].Source)
	assert.Equal(t, float64(45), events[1].Fields["age_s"])

	assert.Error(t, sink.Record(ctx, NewEvent(EventStaleData, SeverityInfo, "after close")))
}

func TestPostgresSink_InsertsEvent(t *testing.T) {
	db := &fakeExec{}
	sink := &PostgresSink{db: db}

	require.NoError(t, sink.Migrate(context.Background()))
	event := NewEvent(EventErrorRecorded, SeverityWarning, "timeout").WithSource("exchange").WithField("endpoint", "klines")
	require.NoError(t, sink.Record(context.Background(), event))

	require.Len(t, db.sql, 2)
	assert.Contains(t, db.sql[0], "CREATE TABLE IF NOT EXISTS system_events")
	assert.Contains(t, db.sql[1], "INSERT INTO system_events")

	args := db.args[1]
	require.Len(t, args, 6)
	assert.Equal(t, "error_recorded", args[1])
	assert.Equal(t, "warning", args[2])
	assert.JSONEq(t, `{"endpoint":"klines"}`, string(args[5].([]byte)))
}

func TestPostgresSink_WrapsExecError(t *testing.T) {
	sink := &PostgresSink{db: &fakeExec{err: errors.New("connection refused")}}

	err := sink.Record(context.Background(), NewEvent(EventKillSwitch, SeverityCritical, "x"))
	assert.ErrorContains(t, err, "connection refused")
}

// TestMultiSink_DeliversToAllSinks keeps writing after one sink fails
func TestMultiSink_DeliversToAllSinks(t *testing.T) {
	mem := NewMemory()
	multi := MultiSink{failingSink{}, mem}

	err := multi.Record(context.Background(), NewEvent(EventRateLimitWait, SeverityInfo, "wait"))
	assert.ErrorContains(t, err, "disk full")
	assert.Len(t, mem.OfType(EventRateLimitWait), 1)
}

func TestEvent_WithFieldDoesNotAlias(t *testing.T) {
	base := NewEvent(EventPositionClosed, SeverityInfo, "closed").WithField("symbol", "BTCUSDT")
	derived := base.WithField("pnl", 10.0)

	assert.Len(t, base.Fields, 1)
	assert.Len(t, derived.Fields, 2)
}
