package program

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/pithecene-io/nvplug/ipc"
)

// ArityError reports an argument count outside the declared bounds.
type ArityError struct {
	Kind Kind
	Name string
	Got  int
	Min  int
	Max  int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("argument count for %s `%s` is %d, must be %s", e.Kind, e.Name, e.Got, describeArity(e.Min, e.Max))
}

func describeArity(lo, hi int) string {
	switch {
	case lo == 0 && hi == 0:
		return "none"
	case lo == hi:
		return fmt.Sprintf("exactly %d", lo)
	case hi == Unbounded:
		return fmt.Sprintf("at least %d", lo)
	default:
		return fmt.Sprintf("between %d and %d", lo, hi)
	}
}

// CheckArity validates n arguments against p's declared bounds.
func (p Program) CheckArity(n int) error {
	if n < p.Params.Min || (p.Params.Max != Unbounded && n > p.Params.Max) {
		return &ArityError{Kind: p.Meta.Kind, Name: p.Name, Got: n, Min: p.Params.Min, Max: p.Params.Max}
	}
	return nil
}

// PrepareInput turns raw editor arguments into the program's Input.
// Function triggers pass a:000 as one list, which is unwrapped; bang
// commands pass the bang flag first, which is stripped. The arguments
// are then parsed per the argument style and checked for arity.
func (p Program) PrepareInput(raw []any) (Input, error) {
	args := raw
	if p.Meta.Kind == KindFunction && len(args) == 1 {
		if inner, ok := args[0].([]any); ok {
			args = inner
		}
	}

	var in Input
	if p.Meta.Kind == KindCommand && p.Meta.Bang && len(args) > 0 {
		if b, ok := asBool(args[0]); ok {
			in.Bang = b
			args = args[1:]
		}
	}

	parsed, err := p.ParseArgs(args)
	if err != nil {
		return Input{}, err
	}
	if err := p.CheckArity(len(parsed)); err != nil {
		return Input{}, err
	}
	in.Args = parsed
	return in, nil
}

// asBool accepts the editor's boolean encodings: a msgpack bool, or the
// integers 0 and 1 that `<q-bang> == '!'` evaluates to.
func asBool(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	if n, ok := ipc.AsInt64(v); ok && (n == 0 || n == 1) {
		return n == 1, true
	}
	return false, false
}

// ParseArgs applies the argument style. Token style passes args through.
// JSON style joins the first argument that is a string starting with '{'
// and everything after it with single spaces, then decodes the result as
// one value of the declared JSON type.
func (p Program) ParseArgs(args []any) ([]any, error) {
	if p.Meta.ArgStyle != ArgsJSON {
		return args, nil
	}

	start := -1
	for i, a := range args {
		if s, ok := a.(string); ok && strings.HasPrefix(s, "{") {
			start = i
			break
		}
	}
	if start < 0 {
		return args, nil
	}

	parts := make([]string, 0, len(args)-start)
	for _, a := range args[start:] {
		s, ok := ipc.AsString(a)
		if !ok {
			s = fmt.Sprint(a)
		}
		parts = append(parts, s)
	}

	v, err := decodeStrict(strings.Join(parts, " "), p.Params.JSON)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON argument for `%s`: %w", p.Name, err)
	}

	out := make([]any, 0, start+1)
	out = append(out, args[:start]...)
	return append(out, v), nil
}

// decodeStrict decodes exactly one JSON value into a new t. Unknown
// struct fields and trailing data are rejected.
func decodeStrict(doc string, t reflect.Type) (any, error) {
	if t == nil {
		t = reflect.TypeFor[any]()
	}
	target := reflect.New(t)

	dec := json.NewDecoder(strings.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target.Interface()); err != nil {
		return nil, err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	return target.Elem().Interface(), nil
}
