// Package clock implements the logical clock shared by the driver and the
// Transaction Manager: a monotonic counter advanced exactly once per input
// line, before that line is dispatched.
package clock

// Clock is a monotonic logical counter. It is not safe for concurrent use;
// the system is single-threaded cooperative dispatch (see internal/txn).
type Clock struct {
	now uint64
}

// New returns a clock starting at zero.
func New() *Clock {
	return &Clock{}
}

// Tick advances the clock by one and returns the new value. Every
// observable timestamp in the system — transaction start times, commit
// times, failure/recovery instants — is the return value of some Tick.
func (c *Clock) Tick() uint64 {
	c.now++
	return c.now
}

// Now returns the current value without advancing it.
func (c *Clock) Now() uint64 {
	return c.now
}
