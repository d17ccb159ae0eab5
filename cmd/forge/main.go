// Command forge is the orchestration runtime's entry point: run starts
// the HTTP-facaded daemon, submit/status/cancel are thin clients that
// talk to a running daemon over that API (spec.md §6).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCodeUsage)
	}
}
