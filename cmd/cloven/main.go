package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cloven/internal/workflow"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes an interrupted run (130) and quarantined keys (2)
// from other failures (1).
func exitCode(err error) int {
	switch {
	case errors.Is(err, workflow.ErrInterrupted):
		return 130
	case errors.Is(err, workflow.ErrIncomplete):
		return 2
	default:
		return 1
	}
}
