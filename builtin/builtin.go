// Package builtin is the plugin served by nvplug serve. It exercises
// every trigger kind, both argument styles and read and write programs.
package builtin

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/nvplug/ipc"
	"github.com/pithecene-io/nvplug/metrics"
	"github.com/pithecene-io/nvplug/nvimio"
	"github.com/pithecene-io/nvplug/program"
)

// Component names.
const (
	ComponentCore     = "core"
	ComponentTracking = "tracking"
)

// DefaultWaitTimeout bounds wait_var when no timeout argument is given.
const DefaultWaitTimeout = time.Second

const waitInterval = 50 * time.Millisecond

// Settings is what configure accepts.
type Settings struct {
	// Step is added by count when called without an argument.
	Step     int    `json:"step"`
	Greeting string `json:"greeting"`
}

// Data is the plugin data. Programs treat it as a value and return a
// modified copy.
type Data struct {
	Count      int
	Settings   Settings
	LastBuffer string
	Visits     int
}

// Options configures the plugin.
type Options struct {
	Name   string
	Prefix string
	// Collector backs the stats program. Nil reports zero counters.
	Collector *metrics.Collector
}

var varName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Plugin returns the builtin plugin.
func Plugin(opts Options) program.Plugin {
	return program.Plugin{
		Name:        opts.Name,
		Prefix:      opts.Prefix,
		InitialData: Data{Settings: Settings{Step: 1}},
		Init:        initProgram(opts.Prefix),
		Components: []program.Component{
			{Name: ComponentCore, Programs: []program.Program{
				echo(),
				count(),
				counter(),
				configure(),
				stats(opts.Collector),
				waitVar(),
			}},
			{Name: ComponentTracking, Programs: []program.Program{
				track(),
			}},
		},
	}
}

func dataOf(in program.Input) Data {
	d, _ := in.Data.(Data)
	return d
}

// initProgram seeds the count step from g:<prefix>_step.
func initProgram(prefix string) *program.Program {
	return &program.Program{
		Name: "init",
		Run: func(in program.Input) nvimio.IO {
			expr := fmt.Sprintf("get(g:, '%s_step', 1)", prefix)
			return nvimio.Bind(nvimio.Eval(expr), func(v any) nvimio.IO {
				step, ok := ipc.AsInt64(v)
				if !ok || step < 1 {
					return nvimio.Failf("g:%s_step must be a positive integer, got %v", prefix, v)
				}
				d := dataOf(in)
				d.Settings.Step = int(step)
				return nvimio.Pure(program.Update(d, nil))
			})
		},
	}
}

func echo() program.Program {
	return program.Program{
		Name:   "echo",
		Meta:   program.Meta{Help: "Echo the arguments"},
		Params: program.Params{Max: program.Unbounded},
		Run: func(in program.Input) nvimio.IO {
			words := make([]string, len(in.Args))
			for i, a := range in.Args {
				words[i] = text(a)
			}
			msg := strings.Join(words, " ")
			if g := dataOf(in).Settings.Greeting; g != "" {
				msg = g + " " + msg
			}
			return nvimio.Then(nvimio.Echo(msg), nvimio.Pure(msg))
		},
	}
}

func count() program.Program {
	return program.Program{
		Name:   "count",
		Meta:   program.Meta{Write: true, Help: "Add to the counter (default: the configured step)"},
		Params: program.Params{Max: 1},
		Run: func(in program.Input) nvimio.IO {
			d := dataOf(in)
			step := d.Settings.Step
			if len(in.Args) == 1 {
				n, err := parseInt(in.Args[0])
				if err != nil {
					return nvimio.Fail(err.Error())
				}
				step = n
			}
			d.Count += step
			return nvimio.Then(
				nvimio.Echo(fmt.Sprintf("count: %d", d.Count)),
				nvimio.Pure(program.Update(d, d.Count)),
			)
		},
	}
}

func parseInt(v any) (int, error) {
	if n, ok := ipc.AsInt64(v); ok {
		return int(n), nil
	}
	s, _ := ipc.AsString(v)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("count step must be an integer, got %q", text(v))
	}
	return n, nil
}

func counter() program.Program {
	return program.Program{
		Name: "counter",
		Meta: program.Meta{Kind: program.KindFunction, Help: "Current counter value"},
		Run: func(in program.Input) nvimio.IO {
			return nvimio.Pure(dataOf(in).Count)
		},
	}
}

func configure() program.Program {
	return program.Program{
		Name: "configure",
		Meta: program.Meta{
			Write:    true,
			ArgStyle: program.ArgsJSON,
			Help:     `Replace settings, e.g. {"step": 2, "greeting": "hi"}`,
		},
		Params: program.Params{Min: 1, Max: 1, JSON: reflect.TypeFor[Settings]()},
		Run: func(in program.Input) nvimio.IO {
			s, ok := in.Args[0].(Settings)
			if !ok {
				return nvimio.Failf("configure expects a JSON object, got %q", text(in.Args[0]))
			}
			if s.Step < 1 {
				return nvimio.Failf("step must be at least 1, got %d", s.Step)
			}
			d := dataOf(in)
			d.Settings = s
			return nvimio.Then(nvimio.Echo("settings updated"), nvimio.Pure(program.Update(d, nil)))
		},
	}
}

func stats(c *metrics.Collector) program.Program {
	return program.Program{
		Name: "stats",
		Meta: program.Meta{Kind: program.KindFunction, Help: "Session counters"},
		Run: func(program.Input) nvimio.IO {
			return nvimio.Delay(func(nvimio.Handle) any {
				return c.Snapshot().Map()
			})
		},
	}
}

// waitVar polls g:<name> until it is set. Used by editor-side tests to
// wait for asynchronous programs.
func waitVar() program.Program {
	return program.Program{
		Name:   "wait_var",
		Meta:   program.Meta{Kind: program.KindFunction, Help: "Wait until g:<name> is set: (name [, timeout_ms])"},
		Params: program.Params{Min: 1, Max: 2},
		Run: func(in program.Input) nvimio.IO {
			name, _ := ipc.AsString(in.Args[0])
			if !varName.MatchString(name) {
				return nvimio.Failf("invalid variable name %q", text(in.Args[0]))
			}
			timeout := DefaultWaitTimeout
			if len(in.Args) == 2 {
				ms, ok := ipc.AsInt64(in.Args[1])
				if !ok || ms < 0 {
					return nvimio.Failf("timeout must be a non-negative number of milliseconds, got %q", text(in.Args[1]))
				}
				timeout = time.Duration(ms) * time.Millisecond
			}

			probe := nvimio.Eval(fmt.Sprintf("get(g:, '%s', v:null)", name))
			isSet := func(v any) bool { return v != nil }
			msg := fmt.Sprintf("g:%s was not set within %.1fs", name, timeout.Seconds())
			return nvimio.RepeatTimeout(probe, isSet, msg, timeout, waitInterval)
		},
	}
}

func track() program.Program {
	return program.Program{
		Name: "track",
		Meta: program.Meta{
			Kind:   program.KindAutocmd,
			Write:  true,
			Events: []string{"BufEnter"},
			Help:   "Record the entered buffer",
		},
		Run: func(in program.Input) nvimio.IO {
			return nvimio.Bind(nvimio.CurrentBuffer(), func(v any) nvimio.IO {
				buf, ok := v.(ipc.Buffer)
				if !ok {
					return nvimio.Failf("unexpected buffer handle %v", v)
				}
				return nvimio.Bind(nvimio.BufferName(buf), func(name any) nvimio.IO {
					d := dataOf(in)
					d.LastBuffer, _ = ipc.AsString(name)
					d.Visits++
					return nvimio.Pure(program.Update(d, d.LastBuffer))
				})
			})
		},
	}
}

func text(v any) string {
	if s, ok := ipc.AsString(v); ok {
		return s
	}
	return fmt.Sprint(v)
}
