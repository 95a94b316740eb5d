// Package executor provides sequenced task runners.
//
// A Sequence runs posted tasks one at a time, in FIFO order, on a single
// goroutine. State owned by a sequence is only touched from its tasks, so it
// needs no locking. The networking core uses two sequences:
//   - UI: scripting-visible objects and user callbacks
//   - IO: job factory, engine requests, throttle
//
// Cross-sequence interaction is always a posted task.
package executor
