package cmd

import (
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/nvplug/cli/render"
	"github.com/pithecene-io/nvplug/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version  string `json:"version" yaml:"version"`
	Commit   string `json:"commit" yaml:"commit"`
	Go       string `json:"go" yaml:"go"`
	Platform string `json:"platform" yaml:"platform"`
}

// NewVersionResponse describes this binary.
func NewVersionResponse(commit string) VersionResponse {
	return VersionResponse{
		Version:  types.Version,
		Commit:   commit,
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// VersionCommand returns the version command.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: ReadOnlyFlags(),
		Action: func(c *cli.Context) error {
			if c.Bool("tui") {
				return cli.Exit("--tui is not supported for version", exitFatal)
			}
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}
			return r.Render(NewVersionResponse(commit))
		},
	}
}
