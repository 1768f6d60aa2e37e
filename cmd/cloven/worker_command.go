package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cloven/internal/calc"
	"cloven/internal/logging"
	"cloven/internal/worker"
)

// newWorkerCommand is the child entry point of the worker pool. It speaks the
// line protocol on stdin and stdout and logs JSON to stderr, which the
// coordinator forwards into its own log.
func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "worker",
		Short:       "Serve calculations for a coordinator (internal)",
		Hidden:      true,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.Options{Level: "info", Format: "json", OutputPaths: []string{"stderr"}})
			if err != nil {
				return err
			}
			// Terminal interrupts go to the coordinator; it stops workers
			// through the protocol.
			signal.Ignore(syscall.SIGINT)
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer cancel()
			return worker.Serve(ctx, os.Stdin, os.Stdout, worker.Options{
				Resolver: calc.NewRegistry(),
				Logger:   logger,
				Renice:   true,
			})
		},
	}
}
