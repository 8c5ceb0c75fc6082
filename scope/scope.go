package scope

import (
	"sync"

	"github.com/wippyai/jscage/errors"
)

// Disposable is anything whose release must be deterministic.
// Guest handles, runtimes and contexts all implement it.
type Disposable interface {
	Dispose()
}

// DisposeFunc adapts a plain function to Disposable.
type DisposeFunc func()

func (f DisposeFunc) Dispose() { f() }

// Scope owns an ordered collection of disposables and releases them in
// reverse order on Close. Close is idempotent; a closed scope adopts
// nothing more: Add returns an error and Manage disposes its argument at
// once.
type Scope struct {
	mu     sync.Mutex
	owned  []Disposable
	closed bool
}

func New() *Scope {
	return &Scope{}
}

// Manage registers d for disposal and returns it unchanged, so
// constructors can be wrapped in place:
//
//	h := s.Manage(ctx.NewString("hi"))
func Manage[D Disposable](s *Scope, d D) D {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// The caller loses the race against teardown; dispose immediately
		// rather than leak.
		d.Dispose()
		return d
	}
	s.owned = append(s.owned, d)
	return d
}

// Add registers d for disposal. It returns an error instead of adopting
// when the scope has closed.
func (s *Scope) Add(d Disposable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ScopeClosed()
	}
	s.owned = append(s.owned, d)
	return nil
}

// AddFunc registers fn to run at disposal time.
func (s *Scope) AddFunc(fn func()) error {
	return s.Add(DisposeFunc(fn))
}

// Closed reports whether the scope has been closed.
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Len returns the number of currently managed disposables.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.owned)
}

// Close disposes all managed items in LIFO order. Subsequent calls are
// no-ops. A panic in one disposer does not stop the rest; the first
// panic value is reported as an error.
func (s *Scope) Close() (err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	owned := s.owned
	s.owned = nil
	s.mu.Unlock()

	for i := len(owned) - 1; i >= 0; i-- {
		if derr := dispose(owned[i]); derr != nil && err == nil {
			err = derr
		}
	}
	return err
}

func dispose(d Disposable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = errors.Wrap(errors.PhaseScope, errors.KindDisposed, e, "disposer panicked")
			} else {
				err = errors.New(errors.PhaseScope, errors.KindDisposed).
					Detail("disposer panicked: %v", r).Build()
			}
		}
	}()
	d.Dispose()
	return nil
}

// With runs body with a fresh scope and closes it on every exit path.
// The body's error wins over a disposal error.
func With(body func(*Scope) error) error {
	s := New()
	err := runBody(s, body)
	cerr := s.Close()
	if err != nil {
		return err
	}
	return cerr
}

func runBody(s *Scope, body func(*Scope) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.Close()
			panic(r)
		}
	}()
	return body(s)
}
