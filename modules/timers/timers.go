package timers

import (
	"sync"
	"time"

	"github.com/wippyai/jscage/cage"
	"github.com/wippyai/jscage/errors"
	"github.com/wippyai/jscage/quickjs"
)

// Timers installs setTimeout, setInterval, clearTimeout and
// clearInterval. Every pending timer holds a keep-alive so the
// evaluation waits for it; clearing a timer cancels the host work and
// releases its keep-alive. An interval holds its keep-alive until
// cleared.
type Timers struct{}

func New() *Timers { return &Timers{} }

func (t *Timers) Name() string { return "timers" }

type pendingTimer struct {
	timer   *time.Timer
	ticker  *time.Ticker
	stop    chan struct{}
	release func()
	fn      *quickjs.Handle
}

// state is per-evaluation; the module itself stays stateless so one
// Timers value can serve many evaluations.
type state struct {
	mu     sync.Mutex
	timers map[int]*pendingTimer
	nextID int
	closed bool
}

func (t *Timers) Def(mc *cage.ModuleContext) error {
	st := &state{timers: make(map[int]*pendingTimer), nextID: 1}
	if err := mc.Scope().AddFunc(st.shutdown); err != nil {
		return err
	}

	global := mc.Context().Global()

	if _, err := cage.DefineSandboxFunctionRaw(mc, global, "setTimeout", func(_ *quickjs.Handle, args []*quickjs.Handle) (*quickjs.Handle, error) {
		return st.schedule(mc, args, false)
	}); err != nil {
		return err
	}

	if _, err := cage.DefineSandboxFunctionRaw(mc, global, "setInterval", func(_ *quickjs.Handle, args []*quickjs.Handle) (*quickjs.Handle, error) {
		return st.schedule(mc, args, true)
	}); err != nil {
		return err
	}

	clearFn := func(_ *quickjs.Handle, args []*quickjs.Handle) (*quickjs.Handle, error) {
		if len(args) == 0 {
			return nil, nil
		}
		id, err := timerID(mc.Context(), args[0])
		if err != nil {
			return nil, err
		}
		st.cancel(id)
		return nil, nil
	}
	if _, err := cage.DefineSandboxFunctionRaw(mc, global, "clearTimeout", clearFn); err != nil {
		return err
	}
	if _, err := cage.DefineSandboxFunctionRaw(mc, global, "clearInterval", clearFn); err != nil {
		return err
	}
	return nil
}

func (st *state) schedule(mc *cage.ModuleContext, args []*quickjs.Handle, repeat bool) (*quickjs.Handle, error) {
	if len(args) == 0 {
		return nil, errors.InvalidInput(errors.PhaseModule, "setTimeout needs a callback")
	}
	ctx := mc.Context()

	kind, err := ctx.TypeOf(args[0])
	if err != nil {
		return nil, err
	}
	if kind != "function" {
		return nil, &quickjs.ErrorValue{Name: "TypeError", Message: "callback is not a function"}
	}

	// The callback outlives the call frame; take our own reference and
	// let the evaluation scope release it.
	fn, err := args[0].Dup()
	if err != nil {
		return nil, err
	}
	if aerr := mc.Scope().Add(fn); aerr != nil {
		fn.Free()
		return nil, aerr
	}

	delay := time.Duration(0)
	if len(args) > 1 {
		ms, derr := ctx.Dump(args[1])
		if derr == nil {
			if f, ok := ms.(float64); ok && f > 0 {
				delay = time.Duration(f) * time.Millisecond
			}
		}
	}

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil, errors.InvalidInput(errors.PhaseModule, "evaluation finished")
	}
	id := st.nextID
	st.nextID++
	pt := &pendingTimer{release: mc.KeepAlive(), fn: fn, stop: make(chan struct{})}
	st.timers[id] = pt
	st.mu.Unlock()

	rt := mc.Runtime()
	fire := func(final bool) {
		rt.EnqueueHostJob(func() {
			st.mu.Lock()
			_, live := st.timers[id]
			st.mu.Unlock()
			if !live {
				return
			}
			if res, cerr := ctx.Call(fn, nil); cerr == nil {
				res.Free()
			}
			if final {
				st.remove(id)
			}
		})
	}

	if repeat {
		pt.ticker = time.NewTicker(maxDuration(delay, time.Millisecond))
		go func() {
			for {
				select {
				case <-pt.ticker.C:
					fire(false)
				case <-pt.stop:
					return
				}
			}
		}()
	} else {
		pt.timer = time.AfterFunc(delay, func() { fire(true) })
	}

	idh, err := ctx.NewNumber(float64(id))
	if err != nil {
		return nil, err
	}
	if aerr := mc.Scope().Add(idh); aerr != nil {
		idh.Free()
		return nil, aerr
	}
	return idh, nil
}

// cancel stops the host work for id and releases its keep-alive.
func (st *state) cancel(id int) {
	st.mu.Lock()
	pt, ok := st.timers[id]
	if ok {
		delete(st.timers, id)
	}
	st.mu.Unlock()
	if ok {
		pt.halt()
	}
}

// remove drops a fired one-shot timer and releases its keep-alive.
func (st *state) remove(id int) {
	st.cancel(id)
}

// shutdown cancels everything still pending at teardown.
func (st *state) shutdown() {
	st.mu.Lock()
	st.closed = true
	pending := st.timers
	st.timers = make(map[int]*pendingTimer)
	st.mu.Unlock()

	for _, pt := range pending {
		pt.halt()
	}
}

func (pt *pendingTimer) halt() {
	if pt.timer != nil {
		pt.timer.Stop()
	}
	if pt.ticker != nil {
		pt.ticker.Stop()
	}
	select {
	case <-pt.stop:
	default:
		close(pt.stop)
	}
	pt.release()
}

func timerID(ctx *quickjs.Context, h *quickjs.Handle) (int, error) {
	v, err := ctx.Dump(h)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, nil
	}
	return int(f), nil
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
