// The main package for the artvee-ingest executable.
package main

import (
	"context"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"

	"github.com/JakeFAU/artvee-ingest/cmd"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	if err := fang.Execute(
		context.Background(),
		cmd.NewRootCmd(),
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	); err != nil {
		os.Exit(1)
	}
}
