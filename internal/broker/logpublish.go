package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gemscap/quantpulse/internal/model"
)

// PublishLog JSON-encodes a LogEntry and publishes it to ChannelLogs, the
// shared transport every service uses to feed the Alert/Log Sink.
func PublishLog(ctx context.Context, client Client, entry model.LogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}
	return client.Publish(ctx, ChannelLogs, string(payload))
}
