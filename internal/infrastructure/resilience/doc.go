/*
Package resilience provides circuit breakers for upstream fetches.

Protocol handlers may answer a request by fetching another URL. A Group keeps
one Breaker per upstream host so a failing host fails fast instead of tying up
requests until their timeout. Breakers never retry; a rejected call returns
ErrCircuitOpen or ErrTooManyRequests.

# Usage

	group := resilience.NewGroup(resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	err := group.Get(host).Execute(func() error {
		return fetch(host)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                         Open
*/
package resilience
