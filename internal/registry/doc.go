// Package registry is the process-wide configuration collaborator: the
// business constants catalogue and the unsaved-ID registry. It is
// constructed once at startup and injected into the dispatcher, never
// reached through package-level state. All mutating methods are
// mutex-guarded because action handlers run on per-connection
// goroutines.
package registry
