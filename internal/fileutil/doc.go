// Package fileutil holds small filesystem helpers shared by the CLI and the
// workflow run history.
package fileutil
