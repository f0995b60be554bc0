// Package txn owns the database side of a single dispatched action: one
// connection, one cursor-equivalent, one optional transaction, closed
// when the action finishes. Managers are never pooled or reused across
// requests.
//
// Writes always run inside an explicit driver transaction, so a batch
// that fails midway is rolled back on Disconnect and autocommit
// behavior never leaks partial effects.
package txn
