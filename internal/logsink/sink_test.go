package logsink

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemscap/quantpulse/internal/broker"
	"github.com/gemscap/quantpulse/internal/model"
)

func newTestService(t *testing.T) (*Service, *broker.FakeBroker) {
	t.Helper()
	fb := broker.NewFakeBroker()
	svc, err := New(Config{LogDir: t.TempDir(), MaxSizeMB: 10, BackupCount: 3}, fb, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { svc.closeAll() })
	return svc, fb
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(b)
}

func TestProcessMessageWritesStructuredEntryToAllLog(t *testing.T) {
	svc, _ := newTestService(t)
	entry := model.LogEntry{TimestampMS: 1700000000000, Service: "gateway", Level: "INFO", Operation: "connect", Message: "connected"}
	payload, err := json.Marshal(entry)
	require.NoError(t, err)

	svc.processMessage(string(payload))

	content := readFile(t, filepath.Join(filepath.Dir(svc.all.path), "all.log"))
	assert.Contains(t, content, "[gateway]")
	assert.Contains(t, content, "op=connect")
	assert.Contains(t, content, `msg="connected"`)
}

func TestProcessMessageFallsBackToPlainTextOnInvalidJSON(t *testing.T) {
	svc, _ := newTestService(t)
	svc.processMessage("not json at all")

	content := readFile(t, filepath.Join(filepath.Dir(svc.all.path), "all.log"))
	assert.Contains(t, content, "not json at all")
}

func TestProcessMessageRoutesErrorLevelToErrorsLog(t *testing.T) {
	svc, _ := newTestService(t)
	entry := model.LogEntry{TimestampMS: 1700000000000, Service: "gateway", Level: "ERROR", Operation: "error", Message: "boom"}
	payload, _ := json.Marshal(entry)

	svc.processMessage(string(payload))

	content := readFile(t, filepath.Join(filepath.Dir(svc.all.path), "errors.log"))
	assert.Contains(t, content, "boom")
}

func TestProcessMessageRoutesAccessOperationToAccessLog(t *testing.T) {
	svc, _ := newTestService(t)
	entry := model.LogEntry{TimestampMS: 1700000000000, Service: "quant_engine", Level: "INFO", Operation: "ts_read", Key: "BTCUSDT"}
	payload, _ := json.Marshal(entry)

	svc.processMessage(string(payload))

	content := readFile(t, filepath.Join(filepath.Dir(svc.all.path), "access.log"))
	assert.Contains(t, content, "op=ts_read")
	assert.Contains(t, content, "key=BTCUSDT")
}

func TestProcessMessageNonAccessOperationSkipsAccessLog(t *testing.T) {
	svc, _ := newTestService(t)
	entry := model.LogEntry{TimestampMS: 1700000000000, Service: "gateway", Level: "INFO", Operation: "connect"}
	payload, _ := json.Marshal(entry)

	svc.processMessage(string(payload))

	content := readFile(t, filepath.Join(filepath.Dir(svc.all.path), "access.log"))
	assert.Empty(t, content)
}

func TestShouldLogAlwaysLogsConnect(t *testing.T) {
	svc, _ := newTestService(t)
	entry := model.LogEntry{Service: "gateway", Operation: "connect"}

	for i := 0; i < 5; i++ {
		count, ok := svc.shouldLog(entry)
		assert.True(t, ok)
		assert.Equal(t, 0, count)
	}
}

func TestShouldLogThrottlesStreamWriteAndAggregatesCount(t *testing.T) {
	svc, _ := newTestService(t)
	entry := model.LogEntry{Service: "gateway", Operation: "stream_write"}

	count, ok := svc.shouldLog(entry)
	assert.True(t, ok, "first call in the window should log")
	assert.Equal(t, 1, count)

	suppressed := 0
	for i := 0; i < 10; i++ {
		_, ok := svc.shouldLog(entry)
		if !ok {
			suppressed++
		}
	}
	assert.Equal(t, 10, suppressed, "calls within the same second should be suppressed")

	time.Sleep(1100 * time.Millisecond)
	count, ok = svc.shouldLog(entry)
	assert.True(t, ok, "call after the window elapses should log again")
	assert.Equal(t, 11, count, "suppressed calls plus this one should be folded into the aggregated count")
}

func TestShouldLogTracksLimitersPerServiceAndOperationIndependently(t *testing.T) {
	svc, _ := newTestService(t)
	a := model.LogEntry{Service: "gateway", Operation: "stream_write"}
	b := model.LogEntry{Service: "archivist", Operation: "stream_write"}

	_, okA := svc.shouldLog(a)
	_, okB := svc.shouldLog(b)
	assert.True(t, okA)
	assert.True(t, okB, "a different service should not be throttled by gateway's limiter")
}

func TestFormatLineOmitsEmptyOptionalFields(t *testing.T) {
	entry := model.LogEntry{TimestampMS: 1700000000000, Service: "gateway", Level: "INFO", Operation: "heartbeat"}
	line := formatLine(entry, 0)

	assert.Contains(t, line, "[gateway]")
	assert.Contains(t, line, "[INFO]")
	assert.Contains(t, line, "op=heartbeat")
	assert.NotContains(t, line, "key=")
	assert.NotContains(t, line, "msg=")
	assert.NotContains(t, line, "dur=")
	assert.NotContains(t, line, "count=")
}

func TestFormatLineIncludesAllFieldsWhenPresent(t *testing.T) {
	dur := int64(42)
	entry := model.LogEntry{
		TimestampMS: 1700000000000,
		Service:     "archivist",
		Level:       "INFO",
		Operation:   "stream_write",
		Key:         "BTCUSDT",
		Message:     "archived batch",
		DurationMS:  &dur,
	}
	line := formatLine(entry, 7)

	assert.Contains(t, line, "key=BTCUSDT")
	assert.Contains(t, line, `msg="archived batch"`)
	assert.Contains(t, line, "dur=42ms")
	assert.Contains(t, line, "count=7")
}

func TestFormatLineDefaultsMissingLevelToInfo(t *testing.T) {
	entry := model.LogEntry{TimestampMS: 1700000000000, Service: "gateway", Operation: "connect"}
	line := formatLine(entry, 0)
	assert.Contains(t, line, "[INFO]")
}

func TestRunConsumesPublishedEntriesUntilContextCancelled(t *testing.T) {
	svc, fb := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	entry := model.LogEntry{TimestampMS: 1700000000000, Service: "gateway", Level: "INFO", Operation: "connect"}
	payload, err := json.Marshal(entry)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return fb.Publish(ctx, broker.ChannelLogs, string(payload)) == nil
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		content := readFile(t, filepath.Join(filepath.Dir(svc.all.path), "all.log"))
		return len(content) > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}
