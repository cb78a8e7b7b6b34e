package store

import "fmt"

// Error is the typed storage error returned by every Store operation that hits
// an underlying I/O failure. Callers can treat it as degraded-but-recoverable:
// the memory tier stays valid regardless of persistent-tier failures.
type Error struct {
	Op  string // "initialize", "get", "set", "delete", "clear", "load", "stats", "cleanup"
	Key string // empty for non-key operations
	Err error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
