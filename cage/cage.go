package cage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/jscage/errors"
	"github.com/wippyai/jscage/quickjs"
	"github.com/wippyai/jscage/scope"
)

// Config holds configuration for cage creation.
type Config struct {
	// Engine configures the embedded interpreter binary.
	Engine quickjs.Config
}

// pumpInterval is the cooperative yield between job drains while waiting
// on keep-alives.
const pumpInterval = time.Millisecond

// Cage executes untrusted scripts in an isolated interpreter. Each
// RunCode gets its own runtime and context; a Cage holds no mutable
// evaluation state and instances share nothing.
type Cage struct {
	eng *quickjs.Engine
}

// New creates a cage from cfg.
func New(ctx context.Context, cfg Config) (*Cage, error) {
	eng, err := quickjs.New(ctx, cfg.Engine)
	if err != nil {
		return nil, err
	}
	return &Cage{eng: eng}, nil
}

// NewFromEnginePath creates a cage loading the engine binary from path.
func NewFromEnginePath(ctx context.Context, path string) (*Cage, error) {
	return New(ctx, Config{Engine: quickjs.Config{EnginePath: path}})
}

// Close releases the engine. All evaluations must have returned.
func (c *Cage) Close(ctx context.Context) error {
	return c.eng.Close(ctx)
}

// EvalResult is the outcome of one RunCode. Err is nil on success;
// otherwise it carries the structured failure (guest error, module
// registration failure, job or hook error).
type EvalResult struct {
	Err error
}

// OK reports whether the evaluation succeeded.
func (r EvalResult) OK() bool { return r.Err == nil }

// RunCode evaluates source as an ES module with the given capability
// modules installed. It never panics and never fails out-of-band: every
// failure mode lands in the returned EvalResult. Teardown of the
// runtime, context and all managed handles is guaranteed on every path.
func (c *Cage) RunCode(ctx context.Context, source string, modules []Module) (res EvalResult) {
	s := scope.New()
	defer func() {
		if r := recover(); r != nil {
			_ = s.Close()
			Logger().Error("evaluation panicked", zap.Any("panic", r))
			res = EvalResult{Err: errors.New(errors.PhaseEval, errors.KindEngineFailure).
				Detail("evaluation panicked: %v", r).Build()}
		}
	}()

	err := c.evaluate(ctx, s, source, modules)
	if cerr := s.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return EvalResult{Err: err}
}

func (c *Cage) evaluate(ctx context.Context, s *scope.Scope, source string, modules []Module) error {
	rt, err := c.eng.NewRuntime(ctx)
	if err != nil {
		return err
	}
	if err := s.Add(rt); err != nil {
		_ = rt.Close()
		return err
	}

	gctx, err := rt.NewContext()
	if err != nil {
		return err
	}
	if err := s.Add(gctx); err != nil {
		_ = gctx.Close()
		return err
	}

	mcs := make([]*ModuleContext, 0, len(modules))
	for _, m := range modules {
		mc := newModuleContext(gctx, rt, s)
		if err := defModule(m, mc); err != nil {
			return errors.Registration(m.Name(), err)
		}
		mcs = append(mcs, mc)
	}

	result, err := gctx.Eval(source, "input.js", quickjs.EvalModule)
	if err != nil {
		return err
	}
	if aerr := s.Add(result); aerr != nil {
		result.Free()
		return aerr
	}

	if _, err := rt.ExecutePendingJobs(); err != nil {
		return err
	}

	for _, mc := range mcs {
		for _, hook := range mc.takeHooks() {
			if err := runHook(hook); err != nil {
				return err
			}
		}
	}

	if anyKeepAlive(mcs) {
		if err := c.pump(ctx, rt, mcs); err != nil {
			return err
		}
	}

	return nil
}

// pump interleaves guest job drains with host async progress until every
// keep-alive has settled, then performs one final drain.
func (c *Cage) pump(ctx context.Context, rt *quickjs.Runtime, mcs []*ModuleContext) error {
	for {
		if _, err := rt.ExecutePendingJobs(); err != nil {
			return err
		}
		if allSettled(mcs) {
			_, err := rt.ExecutePendingJobs()
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Interrupted(ctx.Err())
		case <-time.After(pumpInterval):
		}
	}
}

func anyKeepAlive(mcs []*ModuleContext) bool {
	for _, mc := range mcs {
		if registered, _ := mc.keepAliveState(); registered {
			return true
		}
	}
	return false
}

func allSettled(mcs []*ModuleContext) bool {
	for _, mc := range mcs {
		if _, settled := mc.keepAliveState(); !settled {
			return false
		}
	}
	return true
}

// defModule isolates a module's Def so a panicking module aborts the
// evaluation instead of the host.
func defModule(m Module, mc *ModuleContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = errors.New(errors.PhaseModule, errors.KindRegistration).
					Detail("def panicked: %v", r).Build()
			}
		}
	}()
	return m.Def(mc)
}

func runHook(hook func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.PhaseHook, errors.KindHookFailure).
				Detail("hook panicked: %v", r).Build()
		}
	}()
	if herr := hook(); herr != nil {
		return errors.Wrap(errors.PhaseHook, errors.KindHookFailure, herr, "after-script hook failed")
	}
	return nil
}
