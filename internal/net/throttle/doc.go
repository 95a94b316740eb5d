// Package throttle emulates constrained network conditions.
//
// Transfers report their completions to a Throttle which withholds the
// callback until the simulated bandwidth and latency allow it. Time is split
// into ticks, one per packet at the configured throughput; on every tick the
// packet budget is spread round-robin over the active transfers and the list
// is rotated so the next round starts from a different transfer.
//
// A Throttle is confined to a single sequence (the IO sequence in
// production). Only ClientID is safe for concurrent use.
package throttle
