package cage

import (
	"sync"
)

// Completion is a host-side future modules hand to the marshaller to
// surface async results as guest promises. It settles exactly once.
type Completion struct {
	done chan struct{}
	once sync.Once
	val  any
	err  error
}

func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Resolve settles the completion with a value. Later calls are ignored.
func (c *Completion) Resolve(v any) {
	c.once.Do(func() {
		c.val = v
		close(c.done)
	})
}

// Reject settles the completion with an error. Later calls are ignored.
func (c *Completion) Reject(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done implements marshal.Future.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Result implements marshal.Future. Valid after Done closes.
func (c *Completion) Result() (any, error) { return c.val, c.err }
