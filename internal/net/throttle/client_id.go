package throttle

import "sync"

// ClientIDHeader carries the emulation client id on engine requests
const ClientIDHeader = "X-DevTools-Emulate-Network-Conditions-Client-Id"

// ClientID tags requests subject to emulation. Written from the UI sequence,
// read from the IO sequence.
type ClientID struct {
	mu sync.Mutex
	id string
}

// Set replaces the id. Empty disables tagging.
func (c *ClientID) Set(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

// Get returns the current id
func (c *ClientID) Get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}
