package nvimio

import (
	"fmt"

	"github.com/pithecene-io/nvplug/ipc"
)

// Call is one element of an atomic batch.
type Call struct {
	Method string
	Args   []any
}

// Atomic submits calls as a single nvim_call_atomic request and produces
// the list of results. An element error aborts the batch with
// "atomic call failed at index i: msg".
func Atomic(calls []Call) IO {
	batch := make([]any, len(calls))
	for i, c := range calls {
		args := c.Args
		if args == nil {
			args = []any{}
		}
		batch[i] = []any{c.Method, args}
	}

	return Bind(Request("nvim_call_atomic", batch), func(v any) IO {
		resp, ok := v.([]any)
		if !ok || len(resp) != 2 {
			return Failf("unexpected nvim_call_atomic response: %v", v)
		}
		results, _ := resp[0].([]any)
		if resp[1] == nil {
			return Pure(results)
		}
		info, ok := resp[1].([]any)
		if !ok || len(info) != 3 {
			return Failf("atomic call failed: %v", resp[1])
		}
		idx, _ := ipc.AsInt64(info[0])
		return Failf("atomic call failed at index %d: %s", idx, ipc.Stringify(info[2]))
	})
}

// Command runs an Ex command.
func Command(cmd string) IO {
	return Request("nvim_command", cmd)
}

// Commandf runs a formatted Ex command.
func Commandf(format string, args ...any) IO {
	return Command(fmt.Sprintf(format, args...))
}

// Exec runs a multi-line Vimscript chunk without capturing output.
func Exec(src string) IO {
	c := ExecCall(src)
	return Request(c.Method, c.Args...)
}

// ExecCall is the atomic-batch form of Exec.
func ExecCall(src string) Call {
	return Call{Method: "nvim_exec2", Args: []any{src, map[string]any{"output": false}}}
}

// Eval evaluates a Vimscript expression.
func Eval(expr string) IO {
	return Request("nvim_eval", expr)
}

// CallFunction calls a Vimscript function.
func CallFunction(name string, args ...any) IO {
	if args == nil {
		args = []any{}
	}
	return Request("nvim_call_function", name, args)
}

// GetVar reads a global variable.
func GetVar(name string) IO {
	return Request("nvim_get_var", name)
}

// SetVar writes a global variable.
func SetVar(name string, value any) IO {
	return Request("nvim_set_var", name, value)
}

// Echo shows msg in the message area.
func Echo(msg string) IO {
	return Request("nvim_echo", []any{[]any{msg}}, false, map[string]any{})
}

// CurrentBuffer produces the current buffer handle.
func CurrentBuffer() IO {
	return Request("nvim_get_current_buf")
}

// BufferName produces the name of buf.
func BufferName(buf ipc.Buffer) IO {
	return Request("nvim_buf_get_name", buf)
}
