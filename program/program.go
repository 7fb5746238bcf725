// Package program defines the handler values the engine serves.
//
// A Program is a named function from parsed arguments and the current
// plugin data to an editor-effect computation. Its Meta says how the
// editor reaches it (command, function or autocmd trigger), whether it
// mutates plugin data, and how its arguments are parsed.
package program

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"

	"github.com/pithecene-io/nvplug/nvimio"
)

// Kind is the editor-side trigger type.
type Kind string

const (
	KindCommand  Kind = "command"
	KindFunction Kind = "function"
	KindAutocmd  Kind = "autocmd"
)

// PrefixStyle selects how the trigger name is composed.
type PrefixStyle string

const (
	// PrefixPlain uses the program name as given.
	PrefixPlain PrefixStyle = "plain"
	// PrefixShort prepends the plugin prefix.
	PrefixShort PrefixStyle = "short"
	// PrefixFull prepends the plugin name.
	PrefixFull PrefixStyle = "full"
)

// ArgStyle selects argument parsing.
type ArgStyle string

const (
	// ArgsTokens passes editor arguments through unchanged.
	ArgsTokens ArgStyle = "tokens"
	// ArgsJSON joins trailing arguments into one JSON document.
	ArgsJSON ArgStyle = "json"
)

// Unbounded marks a parameter list without an upper arity bound.
const Unbounded = -1

// DefaultPattern is the autocmd pattern used when none is set.
const DefaultPattern = "*"

// Meta describes how a program is triggered and executed.
type Meta struct {
	// Kind is the trigger type. Defaults to KindCommand.
	Kind Kind
	// Sync makes the trigger wait for the result (rpcrequest).
	// Functions are always synchronous.
	Sync bool
	// Write marks a program that replaces plugin data and therefore runs
	// under the state lock.
	Write bool
	// ArgStyle defaults to ArgsTokens.
	ArgStyle ArgStyle
	// Bang adds -bang to a command trigger.
	Bang bool
	// Prefix defaults to PrefixShort.
	Prefix PrefixStyle
	// Help is a one-line description.
	Help string
	// Events lists autocmd events. Required for KindAutocmd.
	Events []string
	// Pattern is the autocmd pattern. Defaults to DefaultPattern.
	Pattern string
}

// Params is the declared arity and the JSON parameter type.
type Params struct {
	Min int
	// Max is Unbounded or >= Min.
	Max int
	// JSON is the type the trailing JSON argument decodes into.
	// Nil decodes into any.
	JSON reflect.Type
}

// Input is what a program is invoked with.
type Input struct {
	Args []any
	Bang bool
	// Data is the committed plugin data at dispatch time.
	Data any
}

// Output is what a program's computation produces. When Changed is set
// and the program is a write program, Data replaces the plugin data.
type Output struct {
	Value   any
	Data    any
	Changed bool
}

// Return produces a value without touching plugin data.
func Return(v any) Output { return Output{Value: v} }

// Update produces a value together with new plugin data.
func Update(data, v any) Output { return Output{Value: v, Data: data, Changed: true} }

// Program is a named handler.
type Program struct {
	Name   string
	Meta   Meta
	Params Params
	// Run builds the computation. It may produce an Output or a bare value.
	Run func(in Input) nvimio.IO
}

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ErrInvalidProgram is wrapped by every Validate error.
var ErrInvalidProgram = errors.New("invalid program")

// WithDefaults returns p with unset Meta fields filled in.
func (p Program) WithDefaults() Program {
	if p.Meta.Kind == "" {
		p.Meta.Kind = KindCommand
	}
	if p.Meta.ArgStyle == "" {
		p.Meta.ArgStyle = ArgsTokens
	}
	if p.Meta.Prefix == "" {
		p.Meta.Prefix = PrefixShort
	}
	if p.Meta.Kind == KindAutocmd && p.Meta.Pattern == "" {
		p.Meta.Pattern = DefaultPattern
	}
	if p.Meta.Kind == KindFunction {
		p.Meta.Sync = true
	}
	return p
}

// Validate checks p after defaults are applied.
func (p Program) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w %q: %s", ErrInvalidProgram, p.Name, fmt.Sprintf(format, args...))
	}

	if !namePattern.MatchString(p.Name) {
		return invalid("name must match %s", namePattern)
	}
	if p.Run == nil {
		return invalid("run function is required")
	}
	switch p.Meta.Kind {
	case KindCommand, KindFunction, KindAutocmd:
	default:
		return invalid("unknown kind %q", p.Meta.Kind)
	}
	switch p.Meta.Prefix {
	case PrefixPlain, PrefixShort, PrefixFull:
	default:
		return invalid("unknown prefix style %q", p.Meta.Prefix)
	}
	switch p.Meta.ArgStyle {
	case ArgsTokens, ArgsJSON:
	default:
		return invalid("unknown argument style %q", p.Meta.ArgStyle)
	}
	if p.Params.Min < 0 {
		return invalid("minimum arity %d is negative", p.Params.Min)
	}
	if p.Params.Max != Unbounded && p.Params.Max < p.Params.Min {
		return invalid("maximum arity %d is below minimum %d", p.Params.Max, p.Params.Min)
	}
	if p.Params.JSON != nil && p.Meta.ArgStyle != ArgsJSON {
		return invalid("JSON parameter type requires the json argument style")
	}
	if p.Meta.Bang && p.Meta.Kind != KindCommand {
		return invalid("bang is only valid for commands")
	}
	if p.Meta.Kind == KindAutocmd && len(p.Meta.Events) == 0 {
		return invalid("autocmd requires at least one event")
	}
	return nil
}

// Component is a named group of programs that is enabled as a unit.
type Component struct {
	Name     string
	Programs []Program
}

// Plugin is the declaration the host serves.
type Plugin struct {
	Name   string
	Prefix string
	// InitialData is the plugin data before Init runs.
	InitialData any
	// Init runs once at startup under the state lock. Optional.
	Init *Program
	// Components lists every available component.
	Components []Component
}

// Enabled returns the components whose names appear in names, in
// declaration order. An empty names list enables every component.
// Unknown names are reported as an error.
func (pl Plugin) Enabled(names []string) ([]Component, error) {
	if len(names) == 0 {
		return pl.Components, nil
	}
	known := make(map[string]Component, len(pl.Components))
	for _, c := range pl.Components {
		known[c.Name] = c
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := known[n]; !ok {
			return nil, fmt.Errorf("unknown component %q", n)
		}
		want[n] = true
	}
	var out []Component
	for _, c := range pl.Components {
		if want[c.Name] {
			out = append(out, c)
		}
	}
	return out, nil
}
