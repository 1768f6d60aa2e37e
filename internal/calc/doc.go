// Package calc defines the calculator contract executed by workers and ships
// the reference calculators for every stage kind.
//
// A calculator is built once per worker from a (kind, variant) pair through a
// Registry, initialized once, fed one graph at a time, and closed when the
// worker stops. Results are grouped by destination table so the commit cache
// can route them without knowing which stage produced them.
package calc
