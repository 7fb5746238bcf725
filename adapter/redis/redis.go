// Package redis publishes session events on a Redis pub/sub channel and
// keeps a hash of live sessions beside it.
//
// Pub/sub only reaches subscribers that were listening when an event was
// sent. The hash <channel>:sessions maps session id to the
// session_started payload and is cleared on session_ended, so tools can
// list running hosts at any time (see nvplug sessions).
package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/nvplug/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "nvplug:session"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel defaults to DefaultChannel.
	Channel string
	// Timeout bounds one publish attempt.
	Timeout time.Duration
	Retries int
}

// Adapter publishes session events and tracks live sessions.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis adapter. The URL is parsed but no connection is
// made until first use.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Channel returns the channel events are published on.
func (a *Adapter) Channel() string { return a.config.Channel }

// SessionsKey names the live-session hash that belongs to channel.
func SessionsKey(channel string) string { return channel + ":sessions" }

// Publish sends the event to the channel and updates the live-session
// hash in the same MULTI/EXEC transaction.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SessionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w: %w", adapter.ErrPermanent, err)
	}
	key := SessionsKey(a.config.Channel)

	err = adapter.Retry(ctx, a.config.Retries, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		_, err := a.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Publish(ctx, a.config.Channel, body)
			switch event.EventType {
			case adapter.EventSessionStarted:
				pipe.HSet(ctx, key, event.SessionID, body)
			case adapter.EventSessionEnded:
				pipe.HDel(ctx, key, event.SessionID)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Sessions returns the live sessions, oldest first. Entries that do not
// decode are skipped.
func (a *Adapter) Sessions(ctx context.Context) ([]adapter.SessionEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	entries, err := a.client.HGetAll(ctx, SessionsKey(a.config.Channel)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list sessions: %w", err)
	}

	sessions := make([]adapter.SessionEvent, 0, len(entries))
	for _, raw := range entries {
		var e adapter.SessionEvent
		if json.Unmarshal([]byte(raw), &e) != nil {
			continue
		}
		sessions = append(sessions, e)
	}
	slices.SortFunc(sessions, func(x, y adapter.SessionEvent) int {
		return cmp.Or(cmp.Compare(x.Timestamp, y.Timestamp), cmp.Compare(x.SessionID, y.SessionID))
	})
	return sessions, nil
}

// Close releases the client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
