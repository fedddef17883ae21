package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	bridge "github.com/wippyai/simplicity-bridge"
	"github.com/wippyai/simplicity-bridge/errors"
	"github.com/wippyai/simplicity-bridge/wasm"
)

// importPlan sorts a module's imports into what the runtime provides.
type importPlan struct {
	bindgen map[string][]wasm.Import // wbg-style module name -> function imports
	types   map[string]wasm.FuncType // import key -> signature
	wasi    bool
}

func planImports(m *wasm.Module) (*importPlan, error) {
	plan := &importPlan{
		bindgen: make(map[string][]wasm.Import),
		types:   make(map[string]wasm.FuncType),
	}
	var unsupported []string

	for _, imp := range m.Imports {
		switch imp.Module {
		case bridge.ImportWASI:
			plan.wasi = true
		case bridge.ImportBindgen, bridge.ImportBindgenPlaceholder:
			ft, ok := m.ImportedFuncType(imp)
			if !ok {
				unsupported = append(unsupported, imp.Key())
				continue
			}
			plan.bindgen[imp.Module] = append(plan.bindgen[imp.Module], imp)
			plan.types[imp.Key()] = ft
		default:
			unsupported = append(unsupported, imp.Key())
		}
	}

	if len(unsupported) > 0 {
		return nil, errors.Instantiation("module needs host imports this runtime does not provide",
			errors.NewUnsupportedImportsError(unsupported))
	}
	return plan, nil
}

// install registers WASI and the wasm-bindgen shims in rt.
func (p *importPlan) install(ctx context.Context, rt wazero.Runtime) error {
	if p.wasi {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			return fmt.Errorf("instantiate WASI: %w", err)
		}
	}

	modules := make([]string, 0, len(p.bindgen))
	for name := range p.bindgen {
		modules = append(modules, name)
	}
	sort.Strings(modules)

	for _, modName := range modules {
		builder := rt.NewHostModuleBuilder(modName)
		for _, imp := range p.bindgen[modName] {
			ft := p.types[imp.Key()]
			builder.NewFunctionBuilder().
				WithGoModuleFunction(shim(imp, ft), valueTypes(ft.Params), valueTypes(ft.Results)).
				WithName(imp.Name).
				Export(imp.Name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return fmt.Errorf("instantiate %s shims: %w", modName, err)
		}
	}
	return nil
}

// GuestError is raised when the module throws through __wbindgen_throw.
type GuestError struct {
	Message string
}

func (e *GuestError) Error() string {
	return "module threw: " + e.Message
}

// shim returns the host implementation of one wasm-bindgen import. Only
// string-level behaviour is reproduced: throwing and console logging. Every
// other import traps when the module actually calls it.
func shim(imp wasm.Import, ft wasm.FuncType) api.GoModuleFunc {
	name := errors.TrimBindgenHash(imp.Name)
	stringArgs := len(ft.Params) == 2 && len(ft.Results) == 0 &&
		ft.Params[0] == wasm.ValI32 && ft.Params[1] == wasm.ValI32

	switch {
	case name == "__wbindgen_throw" && stringArgs:
		return func(_ context.Context, mod api.Module, stack []uint64) {
			panic(&GuestError{Message: readGuestString(mod, stack)})
		}

	case stringArgs && logLevel(name) != "":
		level := logLevel(name)
		return func(_ context.Context, mod api.Module, stack []uint64) {
			msg := readGuestString(mod, stack)
			l := Logger().With(zap.String("import", name))
			switch level {
			case "error":
				l.Error(msg)
			case "warn":
				l.Warn(msg)
			case "info":
				l.Info(msg)
			default:
				l.Debug(msg)
			}
		}
	}

	key := imp.Key()
	return func(context.Context, api.Module, []uint64) {
		panic(fmt.Errorf("host import %s is not available outside a browser", key))
	}
}

func logLevel(name string) string {
	switch {
	case strings.HasPrefix(name, "__wbg_error"):
		return "error"
	case strings.HasPrefix(name, "__wbg_warn"):
		return "warn"
	case strings.HasPrefix(name, "__wbg_info"), strings.HasPrefix(name, "__wbg_log"):
		return "info"
	case strings.HasPrefix(name, "__wbg_debug"), strings.HasPrefix(name, "__wbg_trace"):
		return "debug"
	}
	return ""
}

func readGuestString(mod api.Module, stack []uint64) string {
	ptr, length := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	b, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return fmt.Sprintf("<unreadable %d bytes at %#x>", length, ptr)
	}
	return string(b)
}

func valueTypes(types []wasm.ValType) []api.ValueType {
	out := make([]api.ValueType, len(types))
	for i, t := range types {
		switch t {
		case wasm.ValI32:
			out[i] = api.ValueTypeI32
		case wasm.ValI64:
			out[i] = api.ValueTypeI64
		case wasm.ValF32:
			out[i] = api.ValueTypeF32
		case wasm.ValF64:
			out[i] = api.ValueTypeF64
		case wasm.ValExtern:
			out[i] = api.ValueTypeExternref
		default:
			out[i] = api.ValueType(t)
		}
	}
	return out
}
