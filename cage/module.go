package cage

import (
	"sync"

	"github.com/wippyai/jscage/quickjs"
	"github.com/wippyai/jscage/scope"
)

// Module installs guest-visible bindings for one evaluation. Def is
// called once per RunCode with a fresh ModuleContext; modules are
// reusable across evaluations and must keep per-evaluation state inside
// the context's scope or their own closures.
type Module interface {
	Name() string
	Def(mc *ModuleContext) error
}

// DefineModule builds a Module from a registration function.
func DefineModule(name string, def func(mc *ModuleContext) error) Module {
	return &funcModule{name: name, def: def}
}

type funcModule struct {
	name string
	def  func(mc *ModuleContext) error
}

func (m *funcModule) Name() string                { return m.name }
func (m *funcModule) Def(mc *ModuleContext) error { return m.def(mc) }

// ModuleContext is the per-evaluation, per-module bag handed to Def: the
// guest context and runtime, the evaluation scope, this module's
// after-script hooks and keep-alive accounting. Never shared across
// evaluations.
type ModuleContext struct {
	ctx   *quickjs.Context
	rt    *quickjs.Runtime
	scope *scope.Scope

	hookMu sync.Mutex
	hooks  []func() error

	kaMu         sync.Mutex
	kaPending    int
	kaRegistered bool
}

func newModuleContext(ctx *quickjs.Context, rt *quickjs.Runtime, s *scope.Scope) *ModuleContext {
	return &ModuleContext{ctx: ctx, rt: rt, scope: s}
}

// Context returns the guest context for this evaluation.
func (mc *ModuleContext) Context() *quickjs.Context { return mc.ctx }

// Runtime returns the guest runtime for this evaluation.
func (mc *ModuleContext) Runtime() *quickjs.Runtime { return mc.rt }

// Scope returns the evaluation scope. Handles that escape into the guest
// must be registered here.
func (mc *ModuleContext) Scope() *scope.Scope { return mc.scope }

// OnAfterScript queues fn to run after the initial evaluation and first
// job drain succeed. Hooks run in module order, then registration order.
func (mc *ModuleContext) OnAfterScript(fn func() error) {
	mc.hookMu.Lock()
	mc.hooks = append(mc.hooks, fn)
	mc.hookMu.Unlock()
}

func (mc *ModuleContext) takeHooks() []func() error {
	mc.hookMu.Lock()
	defer mc.hookMu.Unlock()
	return mc.hooks
}

// KeepAlive registers one unit of pending host work the evaluation must
// await. The returned release function is idempotent. Modules doing
// async host work (timers, fetch) must hold a keep-alive for every
// outstanding operation or RunCode returns before the work lands.
func (mc *ModuleContext) KeepAlive() func() {
	mc.kaMu.Lock()
	mc.kaPending++
	mc.kaRegistered = true
	mc.kaMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			mc.kaMu.Lock()
			mc.kaPending--
			mc.kaMu.Unlock()
		})
	}
}

// KeepAliveChan registers done as a keep-alive; the evaluation waits
// until it closes.
func (mc *ModuleContext) KeepAliveChan(done <-chan struct{}) {
	release := mc.KeepAlive()
	go func() {
		<-done
		release()
	}()
}

// keepAliveState reports whether any keep-alive was ever registered and
// whether all are settled now.
func (mc *ModuleContext) keepAliveState() (registered, settled bool) {
	mc.kaMu.Lock()
	defer mc.kaMu.Unlock()
	return mc.kaRegistered, mc.kaPending == 0
}
