package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/alecthomas/kong"
)

// Build information injected at build time via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("nasma"),
		kong.Description("HR assistant backend: conversational flows over the ERP."),
		kong.Vars{"version": fmt.Sprintf("nasma %s (commit %s)", Version, Commit)},
		kong.UsageOnError(),
		kong.Bind(&cli),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
