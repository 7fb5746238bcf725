package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/nvplug/adapter/redis"
	"github.com/pithecene-io/nvplug/cli/config"
	"github.com/pithecene-io/nvplug/cli/render"
)

// SessionRow is one live session as listed by nvplug sessions.
type SessionRow struct {
	SessionID string `json:"session_id" yaml:"session_id"`
	Plugin    string `json:"plugin" yaml:"plugin"`
	Mode      string `json:"mode" yaml:"mode"`
	Version   string `json:"version" yaml:"version"`
	ChannelID int64  `json:"channel_id,omitempty" yaml:"channel_id,omitempty"`
	Started   string `json:"started" yaml:"started"`
}

// SessionsCommand returns the sessions command.
// It lists hosts that announced session_started on the configured Redis
// adapter and have not yet ended.
func SessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "List live sessions recorded by the redis adapter",
		Flags: []cli.Flag{FormatFlag, NoColorFlag, ConfigFlag},
		Action: func(c *cli.Context) error {
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			rows, err := listSessions(c.Context, cfg.Adapter)
			if err != nil {
				return cli.Exit(err.Error(), exitFatal)
			}
			return r.Render(rows)
		},
	}
}

func listSessions(ctx context.Context, cfg config.AdapterConfig) ([]SessionRow, error) {
	if cfg.Type != config.AdapterRedis {
		return nil, errors.New("sessions requires adapter.type redis")
	}
	a, err := redis.New(redis.Config{
		URL:     cfg.URL,
		Channel: cfg.Channel,
		Timeout: cfg.Timeout.Duration,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.Close() }()

	events, err := a.Sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	rows := make([]SessionRow, len(events))
	for i, e := range events {
		rows[i] = SessionRow{
			SessionID: e.SessionID,
			Plugin:    e.Plugin,
			Mode:      e.Mode,
			Version:   e.Version,
			ChannelID: e.ChannelID,
			Started:   e.Timestamp,
		}
	}
	return rows, nil
}
