package main

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/urfave/cli/v3"
)

// Build information, read from the module build info at startup.
var (
	Version   = "devel"
	GoVersion = "unknown"
	Commit    = ""
	BuildTime = ""
	Modified  bool
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if info.Main.Version != "" {
		Version = info.Main.Version
	}
	GoVersion = info.GoVersion

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			Commit = setting.Value
		case "vcs.time":
			BuildTime = setting.Value
		case "vcs.modified":
			Modified = setting.Value == "true"
		}
	}
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Print version information",
	Action: func(ctx context.Context, command *cli.Command) error {
		w := command.Root().Writer
		_, _ = fmt.Fprintf(w, "fsexport %s (%s)\n", Version, GoVersion)
		if Commit != "" {
			dirty := ""
			if Modified {
				dirty = ", dirty"
			}
			_, _ = fmt.Fprintf(w, "commit %s (built %s%s)\n", Commit, BuildTime, dirty)
		}
		return nil
	},
}
