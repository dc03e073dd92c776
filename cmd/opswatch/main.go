// Command opswatch monitors containers and hosts, evaluates alert rules and
// serves the live dashboard API.
package main

import (
	"os"

	"github.com/homeops/opswatch/cmd/opswatch/cmd"
)

// Version information, injected at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cmd.Version, cmd.BuildTime, cmd.GitCommit = Version, BuildTime, GitCommit
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
