package main

import (
	"os"

	"github.com/cealn-go/cealn/sandbox"
)

func main() {
	// Must run before anything else: if this process was re-exec'd as a
	// sandbox namespace trampoline, MaybeReexecInit never returns.
	sandbox.MaybeReexecInit()

	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
