// Package reconcile drives worker invocations for every enrolled hardware
// resource.
//
// A single driver goroutine runs a cycle at a fixed, jittered interval. Each
// cycle compares the hardware inventory with the worker state records:
//
//   - soft-deleted hardware has all of its records tombstoned;
//   - records of workers that no longer apply are tombstoned, and records are
//     created (or revived) for workers that do;
//   - every eligible record is claimed and handed to the executor.
//
// The driver never waits for an invocation. Results are committed from the
// executor's goroutines through the state service, whose compare-and-swap
// claim is the only serialization between processes. A claim the executor
// cannot accept is released back to the state it was claimed from.
//
// Records whose hardware has disappeared are tombstoned, and tombstones older
// than the retention are purged at the end of the cycle.
package reconcile
