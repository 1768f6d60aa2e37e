// Package telemetry tracks stage progress and worker resource usage.
//
// A Monitor is created per stage. The driver pushes its counts with Update
// and hands pool samples to Refresh, which reads CPU time and resident
// memory from procfs. Everything is mirrored into Prometheus collectors on a
// private registry that Metrics.Serve can expose, and optionally rendered as
// a terminal progress bar. Nothing here feeds back into scheduling.
package telemetry
