// ABOUTME: Entry point for the needle radio relay
// ABOUTME: Wires the cobra command tree and exits non-zero on failure
package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
