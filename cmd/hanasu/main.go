// Command hanasu runs the anime transcript pipeline: a disk-aware job queue
// that downloads episodes and transcribes them, deleting bulk artifacts the
// moment they are no longer needed.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
