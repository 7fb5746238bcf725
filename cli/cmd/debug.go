package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/nvplug/cli/render"
	"github.com/pithecene-io/nvplug/cli/tui"
	"github.com/pithecene-io/nvplug/ipc"
)

// DebugCommand returns the debug command with subcommands.
// Debug commands are opt-in diagnostic tools and never contact an editor.
func DebugCommand() *cli.Command {
	return &cli.Command{
		Name:  "debug",
		Usage: "Diagnostic tools (decode)",
		Subcommands: []*cli.Command{
			debugDecodeCommand(),
		},
	}
}

// DecodedFrame is one classified value of a capture.
type DecodedFrame struct {
	Index  int    `json:"index"`
	Kind   string `json:"kind"`
	ID     string `json:"id,omitempty"`
	Method string `json:"method,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func debugDecodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decode a raw msgpack-RPC capture (- reads stdin)",
		ArgsUsage: "<file>",
		Flags: append(ReadOnlyFlags(),
			&cli.BoolFlag{
				Name:  "summary",
				Usage: "Show counts per frame kind instead of every frame",
			},
		),
		Action: debugDecodeAction,
	}
}

func debugDecodeAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("capture file required", 1)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	data, err := readCapture(c.Args().First(), c.App.Reader)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to read capture: %v", err), 1)
	}

	frames, receives := decodeCapture(data)
	summary := ipc.Summarize(receives)

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewDecode, &summary)
	}
	if c.Bool("summary") {
		return r.Render(summary)
	}
	return r.Render(frames)
}

func readCapture(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		if stdin == nil {
			stdin = os.Stdin
		}
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// decodeCapture classifies every complete frame of data. Bytes left over
// after the last complete frame are reported as a truncated entry.
func decodeCapture(data []byte) ([]DecodedFrame, []ipc.Receive) {
	dec := ipc.NewDecoder()
	receives := dec.Receives(data)

	frames := make([]DecodedFrame, 0, len(receives)+1)
	for i, rcv := range receives {
		frames = append(frames, describe(i, rcv))
	}
	if n := dec.Buffered(); n > 0 {
		frames = append(frames, DecodedFrame{
			Index:  len(frames),
			Kind:   "truncated",
			Detail: fmt.Sprintf("%d trailing bytes", n),
		})
	}
	return frames, receives
}

func describe(i int, rcv ipc.Receive) DecodedFrame {
	f := DecodedFrame{Index: i, Kind: rcv.Kind()}
	switch x := rcv.(type) {
	case ipc.Request:
		f.ID = fmt.Sprint(x.ID)
		f.Method = x.Method
		f.Detail = fmt.Sprint(x.Args)
	case ipc.Notification:
		f.Method = x.Method
		f.Detail = fmt.Sprint(x.Args)
	case ipc.Response:
		f.ID = fmt.Sprint(x.ID)
		f.Detail = fmt.Sprint(x.Result)
	case ipc.ErrorResponse:
		f.ID = fmt.Sprint(x.ID)
		f.Detail = x.Message
	case ipc.Malformed:
		f.Detail = x.Reason
	}
	return f
}
