package quickjs

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/jscage/errors"
)

// ModuleLoader supplies ES module resolution and source text for guest
// import statements.
type ModuleLoader interface {
	// Resolve turns a request into an absolute module name, relative to
	// the importing module's name.
	Resolve(base, request string) (string, error)

	// FetchText returns the source text for a resolved module name. It
	// may block; it is called on the guest thread mid-evaluation.
	FetchText(ctx context.Context, name string) (string, error)
}

// HostFunc is a callback behind a guest function created by
// Context.NewFunction. Argument handles are borrowed from the call frame;
// Dup any that must outlive the call. The returned handle is duplicated
// into the guest, ownership of the original stays with the callback's
// creator.
type HostFunc func(this *Handle, args []*Handle) (*Handle, error)

// Runtime is one isolated guest interpreter: its own wasm instance, job
// queue and module loader slot. Exactly one Runtime exists per
// evaluation.
type Runtime struct {
	eng  *Engine
	mod  api.Module
	name string
	ptr  uint32

	// callCtx is used for all wasm calls made on behalf of this runtime.
	callCtx context.Context

	funcMu    sync.Mutex
	funcs     map[int32]HostFunc
	nextFunc  int32
	loader    ModuleLoader
	mainCtx   *Context
	hostJobMu sync.Mutex
	hostJobs  []func()

	closed bool
}

// NewRuntime instantiates the engine binary into a fresh guest runtime.
func (e *Engine) NewRuntime(ctx context.Context) (*Runtime, error) {
	e.mu.Lock()
	e.seq++
	name := fmt.Sprintf("qjs-%d", e.seq)
	e.mu.Unlock()

	cfg := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions("_initialize")

	mod, err := e.runtime.InstantiateModule(ctx, e.compiled, cfg)
	if err != nil {
		return nil, errors.Engine("instantiate engine", err)
	}

	rt := &Runtime{
		eng:      e,
		mod:      mod,
		name:     name,
		callCtx:  ctx,
		funcs:    make(map[int32]HostFunc),
		nextFunc: 1,
	}
	e.register(name, rt)

	ptr, err := rt.call1(expRuntimeNew)
	if err != nil {
		e.unregister(name)
		_ = mod.Close(ctx)
		return nil, err
	}
	if ptr == 0 {
		e.unregister(name)
		_ = mod.Close(ctx)
		return nil, errors.Engine("create guest runtime", nil)
	}
	rt.ptr = ptr

	Logger().Debug("runtime created", zap.String("instance", name))
	return rt, nil
}

// Close frees the guest runtime and tears down its wasm instance.
func (r *Runtime) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	_, err := r.callRaw(expRuntimeFree, uint64(r.ptr))
	r.eng.unregister(r.name)
	if cerr := r.mod.Close(r.callCtx); cerr != nil && err == nil {
		err = errors.Engine("close engine instance", cerr)
	}
	return err
}

// Dispose implements scope.Disposable.
func (r *Runtime) Dispose() { _ = r.Close() }

// SetModuleLoader installs the loader consulted for guest import
// statements across all contexts of this runtime.
func (r *Runtime) SetModuleLoader(loader ModuleLoader) error {
	r.loader = loader
	_, err := r.callRaw(expSetLoader, uint64(r.ptr))
	return err
}

// EnqueueHostJob schedules fn to run on the guest thread during the next
// job drain. This is the only safe way for host goroutines to touch
// guest state; fn runs before guest microtasks of that drain.
func (r *Runtime) EnqueueHostJob(fn func()) {
	r.hostJobMu.Lock()
	r.hostJobs = append(r.hostJobs, fn)
	r.hostJobMu.Unlock()
}

func (r *Runtime) takeHostJobs() []func() {
	r.hostJobMu.Lock()
	jobs := r.hostJobs
	r.hostJobs = nil
	r.hostJobMu.Unlock()
	return jobs
}

// ExecutePendingJobs drains host-scheduled jobs and then the guest
// microtask queue to quiescence. It returns the number of guest jobs
// executed. The first guest job that throws stops the drain; its
// exception is returned as a guest error.
func (r *Runtime) ExecutePendingJobs() (int, error) {
	for _, job := range r.takeHostJobs() {
		job()
	}

	n := 0
	for {
		res, err := r.callRaw(expPendingJob, uint64(r.ptr))
		if err != nil {
			return n, err
		}
		switch int32(res) {
		case jobExecuted:
			n++
		case jobNone:
			// Host jobs enqueued by the guest jobs just drained may
			// resolve further promises.
			jobs := r.takeHostJobs()
			if len(jobs) == 0 {
				return n, nil
			}
			for _, job := range jobs {
				job()
			}
		default:
			return n, r.pendingJobError()
		}
	}
}

// pendingJobError pulls the exception a failed job parked on the
// runtime. It is dumped through the runtime's most recent context.
func (r *Runtime) pendingJobError() error {
	ptr, err := r.callRaw(expRuntimeExc, uint64(r.ptr))
	if err != nil {
		return err
	}
	if r.mainCtx == nil || ptr == 0 {
		return errors.New(errors.PhaseJobs, errors.KindGuestException).
			Detail("pending job failed").Build()
	}
	h := r.mainCtx.wrap(uint32(ptr))
	defer h.Free()
	return guestError(errors.PhaseJobs, r.mainCtx, h)
}

func (r *Runtime) registerFunc(fn HostFunc) int32 {
	r.funcMu.Lock()
	defer r.funcMu.Unlock()
	id := r.nextFunc
	r.nextFunc++
	r.funcs[id] = fn
	return id
}

func (r *Runtime) lookupFunc(id int32) HostFunc {
	r.funcMu.Lock()
	defer r.funcMu.Unlock()
	return r.funcs[id]
}

// callRaw invokes an engine export and returns its first result.
func (r *Runtime) callRaw(name string, args ...uint64) (uint64, error) {
	fn := r.mod.ExportedFunction(name)
	if fn == nil {
		return 0, errors.NotFound(errors.PhaseEngine, "engine export", name)
	}
	results, err := fn.Call(r.callCtx, args...)
	if err != nil {
		return 0, errors.Engine("call "+name, err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0], nil
}

// call1 invokes a no-arg export returning one i32.
func (r *Runtime) call1(name string) (uint32, error) {
	res, err := r.callRaw(name)
	return uint32(res), err
}

func (r *Runtime) memory() api.Memory {
	return r.mod.Memory()
}
