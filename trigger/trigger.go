// Package trigger renders the editor-side definitions that route
// commands, functions and autocmds to registered programs.
package trigger

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pithecene-io/nvplug/nvimio"
	"github.com/pithecene-io/nvplug/program"
)

// Naming carries the plugin identity used for prefix composition.
type Naming struct {
	PluginName string
	Prefix     string
}

// Compose joins the prefix selected by style with name.
func (n Naming) Compose(style program.PrefixStyle, name string) string {
	switch style {
	case program.PrefixShort:
		return n.Prefix + "_" + name
	case program.PrefixFull:
		return n.PluginName + "_" + name
	default:
		return name
	}
}

// Name returns the on-editor identifier for p: the camel case of the
// composed name, starting upper-case as user commands and global
// functions require.
func (n Naming) Name(p program.Program) string {
	return CamelCase(n.Compose(p.Meta.Prefix, p.Name))
}

// CamelCase joins the words of s, split on '_', '-' and spaces, each with
// its first letter upper-cased. The rest of each word is kept as is.
func CamelCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	upper := true
	for _, r := range s {
		switch {
		case r == '_' || r == '-' || r == ' ':
			upper = true
		case upper:
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Nargs derives the -nargs attribute from declared arity.
func Nargs(params program.Params) string {
	switch {
	case params.Max == 0:
		return "0"
	case params.Min == 1 && params.Max == 1:
		return "1"
	case params.Min == 0 && params.Max == 1:
		return "?"
	case params.Min == 0:
		return "*"
	default:
		return "+"
	}
}

// Definition is one rendered trigger.
type Definition struct {
	Program string       `json:"program" yaml:"program"`
	Kind    program.Kind `json:"kind" yaml:"kind"`
	Name    string       `json:"name" yaml:"name"`
	Nargs   string       `json:"nargs,omitempty" yaml:"nargs,omitempty"`
	Sync    bool         `json:"sync" yaml:"sync"`
	Help    string       `json:"help,omitempty" yaml:"help,omitempty"`
	Source  string       `json:"source" yaml:"source"`
}

func rpcFunc(sync bool) string {
	if sync {
		return "rpcrequest"
	}
	return "rpcnotify"
}

// Command renders a user command definition.
func Command(ch int64, n Naming, p program.Program) Definition {
	nargs := Nargs(p.Params)

	var call []string
	call = append(call, fmt.Sprintf("%d", ch), quote(p.Name))
	if p.Meta.Bang {
		call = append(call, "<q-bang> == '!'")
	}
	if nargs != "0" {
		call = append(call, "<f-args>")
	}

	attrs := "-nargs=" + nargs
	if p.Meta.Bang {
		attrs += " -bang"
	}

	name := n.Name(p)
	return Definition{
		Program: p.Name,
		Kind:    program.KindCommand,
		Name:    name,
		Nargs:   nargs,
		Sync:    p.Meta.Sync,
		Help:    p.Meta.Help,
		Source:  fmt.Sprintf("command! %s %s call %s(%s)", attrs, name, rpcFunc(p.Meta.Sync), strings.Join(call, ", ")),
	}
}

// Function renders a global function definition. Functions always wait
// for the result.
func Function(ch int64, n Naming, p program.Program) Definition {
	name := n.Name(p)
	return Definition{
		Program: p.Name,
		Kind:    program.KindFunction,
		Name:    name,
		Sync:    true,
		Help:    p.Meta.Help,
		Source: fmt.Sprintf("function! %s(...)\n  return rpcrequest(%d, %s, a:000)\nendfunction",
			name, ch, quote(p.Name)),
	}
}

// Autocmds renders one augroup named after the plugin holding an event
// binding per program. The group is cleared first so that a restarted
// process does not leave stale bindings for a dead channel.
func Autocmds(ch int64, n Naming, programs []program.Program) (Definition, bool) {
	var lines []string
	var names []string
	for _, p := range programs {
		if p.Meta.Kind != program.KindAutocmd {
			continue
		}
		names = append(names, p.Name)
		lines = append(lines, fmt.Sprintf("  autocmd %s %s call %s(%d, %s)",
			strings.Join(p.Meta.Events, ","), p.Meta.Pattern, rpcFunc(p.Meta.Sync), ch, quote(p.Name)))
	}
	if len(lines) == 0 {
		return Definition{}, false
	}

	group := CamelCase(n.PluginName)
	src := "augroup " + group + "\n  autocmd!\n" + strings.Join(lines, "\n") + "\naugroup END"
	return Definition{
		Program: strings.Join(names, ","),
		Kind:    program.KindAutocmd,
		Name:    group,
		Source:  src,
	}, true
}

// Render produces the definitions for programs in registration order,
// with every autocmd binding collected into one trailing augroup.
func Render(ch int64, n Naming, programs []program.Program) []Definition {
	var defs []Definition
	for _, p := range programs {
		switch p.Meta.Kind {
		case program.KindCommand:
			defs = append(defs, Command(ch, n, p))
		case program.KindFunction:
			defs = append(defs, Function(ch, n, p))
		}
	}
	if group, ok := Autocmds(ch, n, programs); ok {
		defs = append(defs, group)
	}
	return defs
}

// Batch converts definitions into atomic-call elements.
func Batch(defs []Definition) []nvimio.Call {
	calls := make([]nvimio.Call, len(defs))
	for i, d := range defs {
		calls[i] = nvimio.ExecCall(d.Source)
	}
	return calls
}

// Define submits every trigger as one atomic editor call. An element
// error aborts the batch.
func Define(ch int64, n Naming, programs []program.Program) nvimio.IO {
	defs := Render(ch, n, programs)
	if len(defs) == 0 {
		return nvimio.Pure([]any{})
	}
	return nvimio.Atomic(Batch(defs))
}

// quote renders s as a single-quoted Vimscript string.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
