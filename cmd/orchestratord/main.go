package main

import (
	"fmt"
	"os"

	"github.com/kraklabs/lora-orchestrator/cmd/orchestratord/cmd"
)

// Version info, set by build (-ldflags).
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cmd.SetVersion(Version, BuildTime, GitCommit)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
