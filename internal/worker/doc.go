// Package worker implements the child side of the worker protocol: it builds
// one calculator from the hello message, initializes it once, evaluates
// chunks until told to stop, and closes the calculator on the way out.
//
// The same loop backs both the re-executed `cloven worker` process and the
// in-process launcher used by tests.
package worker
