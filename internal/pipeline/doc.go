// Package pipeline defines stages, their working-set selections, and the
// built-in strategies that order them.
//
// A key is pending for a stage while the stage's selection matches it; it
// leaves the working set only when the stage's results are committed. The
// package holds no state: the store evaluates selections and the workflow
// manager runs strategies.
package pipeline
