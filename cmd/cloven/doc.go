// Package main hosts the cloven CLI entrypoint and command graph.
//
// The Cobra command tree seeds an instance database, runs strategies over it
// through the workflow manager, reports per-field progress, and resets stage
// results. The hidden worker command is the child side of the worker pool:
// the coordinator re-executes this binary with it and talks the line
// protocol over the child's stdin and stdout.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
