// Package sync implements the run coordinator of the mirror synchronizer.
//
// A run pulls the complete current set of every configured resource kind from
// upstream and reconciles it into the mirror with a mark-and-sweep pass per
// scope:
//
//   - Mark: every record a Source emits is upserted and its id is added to the
//     scope's seen-set.
//   - Sweep: once the Source has finished without error, rows of the scope
//     whose id is not in the seen-set are deleted.
//
// # Failure handling
//
// A scope whose collection fails is reported as failed and is not swept, so
// rows upserted before the failure stay and nothing is deleted on the strength
// of a partial listing. Other scopes continue. Store failures are fatal and
// abort the run with a *StoreError.
//
// Cancellation is honoured at scope boundaries: the scope in flight finishes or
// fails, the remaining ones are reported as skipped.
//
// # Coordinator Package
//
// The sync/coordinator subpackage runs a Runner periodically in serve mode,
// and sync/state keeps the history of finished runs.
package sync
