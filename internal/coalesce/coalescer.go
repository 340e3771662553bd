// Package coalesce deduplicates concurrent callers asking for the same
// key into a single producer invocation, distributing the one result (or
// error) to every waiter.
package coalesce

import (
	"fmt"

	"golang.org/x/sync/singleflight"
)

// ProducerError wraps an error raised by a coalesced producer so callers
// can distinguish "the producer itself failed" from other error classes
// further up the stack.
type ProducerError struct {
	Key string
	Err error
}

func (e *ProducerError) Error() string {
	return fmt.Sprintf("coalesced producer for key %q failed: %v", e.Key, e.Err)
}

func (e *ProducerError) Unwrap() error { return e.Err }

// Coalescer is a thin wrapper over golang.org/x/sync/singleflight that
// matches the shape of the original RequestCoalescer (get_or_execute /
// clear_key): the key holder is evicted as soon as the in-flight call
// completes, so a subsequent call always re-executes the producer. There
// is no time-based expiry — singleflight.Group already provides exactly
// that eviction-on-completion behavior via Do, and Forget gives us an
// explicit early-eviction hook equivalent to clear_key.
type Coalescer struct {
	g singleflight.Group
}

// New creates an empty Coalescer.
func New() *Coalescer { return &Coalescer{} }

// GetOrExecute guarantees that concurrent callers for the same key observe
// exactly one invocation of producer; all callers receive the identical
// result or identical (wrapped) error.
func (c *Coalescer) GetOrExecute(key string, producer func() (any, error)) (any, error) {
	v, err, _ := c.g.Do(key, producer)
	if err != nil {
		return nil, &ProducerError{Key: key, Err: err}
	}
	return v, nil
}

// Clear removes any cached in-flight slot for key, so the next call
// re-executes immediately rather than joining a call that may already be
// winding down. Mirrors RequestCoalescer.clear_key.
func (c *Coalescer) Clear(key string) {
	c.g.Forget(key)
}
