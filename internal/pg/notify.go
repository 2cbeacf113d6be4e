package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/dbwork/internal/engine"
)

// DefaultChannel is the NOTIFY channel used when none is configured.
const DefaultChannel = "dbwork_events"

// notification is the JSON payload carried by NOTIFY.
type notification struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Notifier publishes committed events with pg_notify and relays them back
// into an in-process Hub.
type Notifier struct {
	pool    *pgxpool.Pool
	channel string
	logger  *slog.Logger
}

var _ engine.Broadcaster = (*Notifier)(nil)

// NewNotifier publishes on channel, or DefaultChannel when empty.
func NewNotifier(pool *pgxpool.Pool, channel string, logger *slog.Logger) *Notifier {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{pool: pool, channel: channel, logger: logger}
}

// Channel returns the NOTIFY channel name.
func (n *Notifier) Channel() string {
	return n.channel
}

// Broadcast implements engine.Broadcaster.
func (n *Notifier) Broadcast(ctx context.Context, event string, data any) error {
	payload, err := encodeNotification(event, data)
	if err != nil {
		return err
	}
	if _, err := n.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, n.channel, payload); err != nil {
		return mapError("notify", err)
	}
	return nil
}

// Relay LISTENs on the channel and rebroadcasts every notification into hub
// until ctx ends.
func (n *Notifier) Relay(ctx context.Context, hub *engine.Hub) error {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{n.channel}.Sanitize()); err != nil {
		return mapError("listen", err)
	}
	n.logger.Debug("relay listening", "channel", n.channel)

	for {
		msg, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("relay: %w", err)
		}
		event, data, err := decodeNotification(msg.Payload)
		if err != nil {
			n.logger.Warn("dropping notification", "channel", msg.Channel, "error", err)
			continue
		}
		if err := hub.Broadcast(ctx, event, data); err != nil {
			return err
		}
	}
}

func encodeNotification(event string, data any) (string, error) {
	b, err := json.Marshal(notification{Event: event, Data: data})
	if err != nil {
		return "", fmt.Errorf("encode notification %q: %w", event, err)
	}
	return string(b), nil
}

func decodeNotification(payload string) (string, any, error) {
	var msg notification
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return "", nil, fmt.Errorf("decode notification: %w", err)
	}
	if msg.Event == "" {
		return "", nil, fmt.Errorf("decode notification: missing event")
	}
	return msg.Event, msg.Data, nil
}
