package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/pithecene-io/nvplug/log"
	"github.com/pithecene-io/nvplug/program"
	"github.com/pithecene-io/nvplug/types"
)

// Config represents an nvplug.yaml configuration file.
// All values are optional and act as defaults for nvplug serve flags.
// CLI flags always override config values.
type Config struct {
	Plugin     PluginConfig               `yaml:"plugin"`
	Transport  TransportConfig            `yaml:"transport"`
	Timeouts   TimeoutConfig              `yaml:"timeouts"`
	Log        LogConfig                  `yaml:"log"`
	Components []string                   `yaml:"components"`
	Programs   map[string]ProgramOverride `yaml:"programs"`
	Adapter    AdapterConfig              `yaml:"adapter"`
}

// PluginConfig names the plugin in the editor.
type PluginConfig struct {
	Name   string `yaml:"name"`
	Prefix string `yaml:"prefix"`
}

// TransportConfig selects how the editor is reached.
type TransportConfig struct {
	Mode     string   `yaml:"mode"`
	Address  string   `yaml:"address"`
	Nvim     string   `yaml:"nvim"`
	NvimArgs []string `yaml:"nvim_args"`
}

// TimeoutConfig holds engine timeouts. A nil pointer keeps the built-in
// default; an explicit 0s disables the timeout.
type TimeoutConfig struct {
	Request  *Duration `yaml:"request"`
	InitWait *Duration `yaml:"init_wait"`
	Program  *Duration `yaml:"program"`
}

// LogConfig holds logging defaults.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ProgramOverride replaces parts of a builtin program's declaration.
type ProgramOverride struct {
	Prefix  string   `yaml:"prefix"`
	Sync    *bool    `yaml:"sync"`
	Help    string   `yaml:"help"`
	Events  []string `yaml:"events"`
	Pattern string   `yaml:"pattern"`
}

// AdapterConfig holds lifecycle event adapter defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	// Secret signs webhook bodies (webhook only).
	Secret  string   `yaml:"secret,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
	Retries *int     `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "3s", "1m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "3s" or "1m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

// Or returns the configured duration, or def when unset.
func (d *Duration) Or(def time.Duration) time.Duration {
	if d == nil {
		return def
	}
	return d.Duration
}

// Adapter types accepted in adapter.type.
const (
	AdapterWebhook = "webhook"
	AdapterRedis   = "redis"
)

// Validate rejects values that would only fail later at startup.
func (c *Config) Validate() error {
	var errs []error
	if _, err := types.ParseTransportMode(c.Transport.Mode); err != nil {
		errs = append(errs, fmt.Errorf("transport.mode: %w", err))
	}
	if c.Log.Level != "" {
		if _, err := log.ParseLevel(c.Log.Level); err != nil {
			errs = append(errs, fmt.Errorf("log.level: %w", err))
		}
	}
	switch c.Adapter.Type {
	case "", AdapterWebhook, AdapterRedis:
	default:
		errs = append(errs, fmt.Errorf("adapter.type: unknown adapter %q (must be webhook or redis)", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, errors.New("adapter.url is required when adapter.type is set"))
	}
	for _, name := range c.programNames() {
		switch program.PrefixStyle(c.Programs[name].Prefix) {
		case "", program.PrefixPlain, program.PrefixShort, program.PrefixFull:
		default:
			errs = append(errs, fmt.Errorf("programs.%s.prefix: unknown prefix style %q (must be plain, short or full)", name, c.Programs[name].Prefix))
		}
	}
	return errors.Join(errs...)
}

// programNames returns override keys in sorted order so that errors are
// deterministic.
func (c *Config) programNames() []string {
	names := make([]string, 0, len(c.Programs))
	for name := range c.Programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyOverrides returns pl with per-program overrides applied. An
// override naming a program that no component declares is an error.
func (c *Config) ApplyOverrides(pl program.Plugin) (program.Plugin, error) {
	if len(c.Programs) == 0 {
		return pl, nil
	}

	out := pl
	out.Components = make([]program.Component, len(pl.Components))
	applied := make(map[string]bool, len(c.Programs))
	for i, comp := range pl.Components {
		progs := slices.Clone(comp.Programs)
		for j, p := range progs {
			o, ok := c.Programs[p.Name]
			if !ok {
				continue
			}
			progs[j] = o.apply(p)
			applied[p.Name] = true
		}
		out.Components[i] = program.Component{Name: comp.Name, Programs: progs}
	}

	for _, name := range c.programNames() {
		if !applied[name] {
			return pl, fmt.Errorf("programs.%s: no such program", name)
		}
	}
	return out, nil
}

func (o ProgramOverride) apply(p program.Program) program.Program {
	if o.Prefix != "" {
		p.Meta.Prefix = program.PrefixStyle(o.Prefix)
	}
	if o.Sync != nil {
		p.Meta.Sync = *o.Sync
	}
	if o.Help != "" {
		p.Meta.Help = o.Help
	}
	if len(o.Events) > 0 {
		p.Meta.Events = slices.Clone(o.Events)
	}
	if o.Pattern != "" {
		p.Meta.Pattern = o.Pattern
	}
	return p
}
