// Command curator-worker is the reference worker process. It speaks the
// newline-delimited JSON protocol on stdin/stdout, copies each source file to
// the platform output directory and writes a small thumbnail stub.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand(os.Stdin, os.Stdout).ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
