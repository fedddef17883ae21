package runtime

import (
	"context"
	"io"
	"time"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	bridge "github.com/wippyai/simplicity-bridge"
	"github.com/wippyai/simplicity-bridge/errors"
	"github.com/wippyai/simplicity-bridge/payload"
	"github.com/wippyai/simplicity-bridge/wasm"
)

// Handle is a ready module instance. Invoke returns the module's raw
// response text unmodified.
type Handle interface {
	Invoke(ctx context.Context, call Call) (string, error)
	// Probe runs a no-op compilation to check the instance still answers.
	Probe(ctx context.Context) error
	// WitnessAware reports whether the module accepts a witness document.
	WitnessAware() bool
	Version() string
	Closed() bool
	Close(ctx context.Context) error
}

// Instantiator turns a payload into a Handle. Instantiate is the only
// suspension point before a handle is usable.
type Instantiator interface {
	Instantiate(ctx context.Context, p *payload.Payload) (Handle, error)
}

// Call is one request as the module sees it.
type Call struct {
	Source string
	// Witness is the witness document as JSON text; nil when absent.
	Witness []byte
}

// Config holds configuration for module instantiation
type Config struct {
	// Cache shares compiled code between runtimes. Optional.
	Cache wazero.CompilationCache

	// Stdout and Stderr receive WASI output. Discarded when nil.
	Stdout io.Writer
	Stderr io.Writer

	// MemoryLimitPages caps guest memory in 64KiB pages. 0 means the
	// wazero default.
	MemoryLimitPages uint32
}

// Runtime instantiates compiler modules with wazero. Each Instantiate
// call gets its own wazero runtime, so nothing is shared between handles
// except the optional compilation cache.
type Runtime struct {
	cfg Config
}

var _ Instantiator = (*Runtime)(nil)

// New creates a runtime with cfg.
func New(cfg Config) *Runtime {
	return &Runtime{cfg: cfg}
}

// Instantiate loads the payload's module, provides its host imports, and
// runs its start functions. Every failure is an InstantiationFailure and
// leaves nothing running.
func (r *Runtime) Instantiate(ctx context.Context, p *payload.Payload) (Handle, error) {
	start := time.Now()

	binary, err := p.Module()
	if err != nil {
		return nil, errors.Instantiation("decode payload", err)
	}
	glue, err := p.Glue()
	if err != nil {
		return nil, errors.Instantiation("decode payload", err)
	}

	info, err := wasm.ParseModule(binary)
	if err != nil {
		return nil, errors.Instantiation("malformed module", err)
	}
	binding, err := Bind(info, glue)
	if err != nil {
		return nil, err
	}
	plan, err := planImports(info)
	if err != nil {
		return nil, err
	}

	rtCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if r.cfg.MemoryLimitPages > 0 {
		rtCfg = rtCfg.WithMemoryLimitPages(r.cfg.MemoryLimitPages)
	}
	if r.cfg.Cache != nil {
		rtCfg = rtCfg.WithCompilationCache(r.cfg.Cache)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	inst, err := r.instantiate(ctx, rt, binary, binding, plan, p.Version)
	if err != nil {
		_ = rt.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	Logger().Info("module instantiated",
		zap.String("version", p.Version),
		zap.Stringer("convention", binding.Compile),
		zap.Bool("witness", binding.Witness != ConventionNone),
		zap.Duration("duration", time.Since(start)))
	return inst, nil
}

func (r *Runtime) instantiate(ctx context.Context, rt wazero.Runtime, binary []byte, b *Binding, plan *importPlan, version string) (*Instance, error) {
	if err := plan.install(ctx, rt); err != nil {
		return nil, errors.Instantiation("provide host imports", err)
	}

	compiled, err := rt.CompileModule(ctx, binary)
	if err != nil {
		return nil, errors.Instantiation("compile module", err)
	}

	modCfg := wazero.NewModuleConfig().
		WithName("simplicity").
		WithStartFunctions()
	if r.cfg.Stdout != nil {
		modCfg = modCfg.WithStdout(r.cfg.Stdout)
	}
	if r.cfg.Stderr != nil {
		modCfg = modCfg.WithStderr(r.cfg.Stderr)
	}

	mod, err := rt.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, errors.Instantiation("instantiate module", err)
	}

	// Readiness: reactor initialisation, then the wasm-bindgen start hook.
	for _, name := range []string{bridge.ExportInitialize, bridge.ExportStart} {
		if fn := mod.ExportedFunction(name); fn != nil {
			if _, err := fn.Call(ctx); err != nil {
				return nil, errors.Instantiation(name+" failed", err)
			}
		}
	}

	inst := &Instance{
		runtime:  rt,
		mod:      mod,
		binding:  b,
		version:  version,
		memory:   &guestMemory{mem: mod.Memory()},
		malloc:   mod.ExportedFunction(bridge.ExportMalloc),
		free:     mod.ExportedFunction(bridge.ExportFree),
		compile:  mod.ExportedFunction(bridge.ExportCompile),
		stackPtr: mod.ExportedFunction(bridge.ExportStackPointer),
	}
	if b.Witness != ConventionNone {
		inst.compileWitness = mod.ExportedFunction(bridge.ExportCompileWithWitness)
	}
	if inst.memory.mem == nil {
		return nil, errors.Instantiation("module has no memory", nil)
	}
	return inst, nil
}
