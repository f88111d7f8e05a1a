// Package control provides the runtime configuration, metrics, hot-reload
// and debug introspection primitives api.Control exposes, and that
// orchestrator.Orchestrator is the sole implementer of in this tree.
//
// Provides concurrent-safe state handling primitives including:
//   - Immutable snapshot config reads and atomic, merging updates
//   - Instance-level and process-wide hot-reload listener dispatch
//   - A live metrics map keyed by dotted channel.<id>.<counter> names
//   - Named debug probe registration and on-demand state dumps
//
// This package is cross-platform and build-tag-partitioned where a probe
// needs GOOS-specific data (platform_linux.go vs platform_other.go).
package control
