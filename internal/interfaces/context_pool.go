package interfaces

// ContextPool owns the browser execution contexts jobs run on, one per
// concurrency slot. The scheduler releases the pool exactly once when the
// run ends, whether or not any job succeeded.
type ContextPool interface {
	// Size returns the number of slots the pool holds.
	Size() int

	// Shutdown closes every slot. Safe to call once per pool.
	Shutdown()
}
