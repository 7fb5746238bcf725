package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/nvplug/builtin"
	"github.com/pithecene-io/nvplug/cli/config"
	"github.com/pithecene-io/nvplug/cli/render"
	"github.com/pithecene-io/nvplug/cli/tui"
	"github.com/pithecene-io/nvplug/program"
	"github.com/pithecene-io/nvplug/trigger"
	"github.com/pithecene-io/nvplug/types"
)

// TriggersCommand returns the triggers command.
// It renders the trigger batch serve would submit, without contacting an
// editor.
func TriggersCommand() *cli.Command {
	return &cli.Command{
		Name:  "triggers",
		Usage: "Show the editor triggers the builtin plugin defines",
		Flags: append(ReadOnlyFlags(),
			ConfigFlag,
			&cli.Int64Flag{
				Name:  "channel",
				Usage: "RPC channel id to render into rpcnotify/rpcrequest calls",
				Value: 1,
			},
		),
		Action: triggersAction,
	}
}

func triggersAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	defs, err := renderTriggers(cfg, c.Int64("channel"))
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewTriggers, defs)
	}
	return r.Render(defs)
}

// renderTriggers builds the builtin plugin the way serve does and renders
// its enabled programs in registration order.
func renderTriggers(cfg *config.Config, channel int64) ([]trigger.Definition, error) {
	if channel < 1 {
		return nil, fmt.Errorf("channel must be positive, got %d", channel)
	}
	meta := types.NewSessionMeta(pluginName(cfg), cfg.Plugin.Prefix, types.ModeStdio)
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	pl, err := cfg.ApplyOverrides(builtin.Plugin(builtin.Options{Name: meta.PluginName, Prefix: meta.Prefix}))
	if err != nil {
		return nil, err
	}
	components, err := pl.Enabled(cfg.Components)
	if err != nil {
		return nil, err
	}
	table := program.NewTable()
	if err := table.RegisterComponents(components); err != nil {
		return nil, err
	}

	naming := trigger.Naming{PluginName: meta.PluginName, Prefix: meta.Prefix}
	defs := trigger.Render(channel, naming, table.All())
	if defs == nil {
		defs = []trigger.Definition{}
	}
	return defs, nil
}
