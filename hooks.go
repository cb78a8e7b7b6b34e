package artcache

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; the coordinator calls them
// on hot paths.
type Hooks interface {
	// The persistent write failed after the memory write succeeded.
	// The session keeps seeing the value; durability did not happen.
	PersistFailed(key string, err error)

	// A persisted payload could not be decoded and was dropped on read.
	SelfHeal(key string, reason string)

	// The memory tier evicted entries under count/size pressure.
	MemoryPressure(evicted int, estimatedBytes int64)

	// Hydration finished for an owner.
	Hydrated(owner string, loaded int)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) PersistFailed(string, error)  {}
func (NopHooks) SelfHeal(string, string)      {}
func (NopHooks) MemoryPressure(int, int64)    {}
func (NopHooks) Hydrated(string, int)         {}
