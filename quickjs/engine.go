package quickjs

import (
	"context"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/jscage/errors"
)

// Config holds configuration for engine creation.
type Config struct {
	// EnginePath is the filesystem path of the QuickJS reactor binary.
	// Ignored when EngineBytes is set.
	EnginePath string

	// EngineBytes supplies the engine binary directly, for embedders that
	// cannot load files at runtime.
	EngineBytes []byte

	// MemoryLimitPages caps guest memory per runtime in 64KB pages.
	// 0 means the wazero default.
	MemoryLimitPages uint32
}

// Engine compiles the QuickJS binary once and instantiates it per Runtime.
// An Engine is affine to the goroutine that created it; so are all
// Runtimes, Contexts and Handles derived from it.
type Engine struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule

	mu       sync.Mutex
	seq      uint64
	runtimes map[string]*Runtime // wasm instance name -> Runtime, for host call dispatch
}

// New creates an engine from cfg. The engine binary is read from
// cfg.EngineBytes, or cfg.EnginePath when bytes are absent.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	wasmBytes := cfg.EngineBytes
	if wasmBytes == nil {
		if cfg.EnginePath == "" {
			return nil, errors.InvalidInput(errors.PhaseEngine, "engine config needs EnginePath or EngineBytes")
		}
		data, err := os.ReadFile(cfg.EnginePath)
		if err != nil {
			return nil, errors.Engine("read engine binary", err)
		}
		wasmBytes = data
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	e := &Engine{
		runtime:  r,
		runtimes: make(map[string]*Runtime),
	}

	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	if err := e.instantiateHostModule(ctx); err != nil {
		_ = r.Close(ctx)
		return nil, err
	}

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return nil, errors.Engine("compile engine binary", err)
	}
	e.compiled = compiled

	Logger().Debug("engine ready",
		zap.Int("binary_size", len(wasmBytes)),
		zap.Uint32("memory_limit_pages", cfg.MemoryLimitPages))

	return e, nil
}

// NewFromPath creates an engine loading the binary from path.
func NewFromPath(ctx context.Context, path string) (*Engine, error) {
	return New(ctx, Config{EnginePath: path})
}

// Close releases the engine and all wazero resources. All Runtimes must
// be closed first.
func (e *Engine) Close(ctx context.Context) error {
	if err := e.runtime.Close(ctx); err != nil {
		return errors.Engine("close engine", err)
	}
	return nil
}

// instantiateHostModule registers the "cage" import namespace the engine
// binary links against. The calling wasm instance identifies which
// Runtime a callback belongs to.
func (e *Engine) instantiateHostModule(ctx context.Context) error {
	b := e.runtime.NewHostModuleBuilder(hostModule)

	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostCall),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
			[]api.ValueType{api.ValueTypeI32}).
		Export(impHostCall)

	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostModuleNormalize),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
			[]api.ValueType{api.ValueTypeI32}).
		Export(impModuleNormalize)

	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostModuleLoad),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
			[]api.ValueType{api.ValueTypeI32}).
		Export(impModuleLoad)

	if _, err := b.Instantiate(ctx); err != nil {
		return errors.Engine("instantiate host module", err)
	}
	return nil
}

func (e *Engine) lookupRuntime(mod api.Module) *Runtime {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runtimes[mod.Name()]
}

func (e *Engine) register(name string, rt *Runtime) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runtimes[name] = rt
}

func (e *Engine) unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runtimes, name)
}
