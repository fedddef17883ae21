package runtime

import (
	"fmt"
	"regexp"
	"sort"

	bridge "github.com/wippyai/simplicity-bridge"
	"github.com/wippyai/simplicity-bridge/errors"
	"github.com/wippyai/simplicity-bridge/wasm"
)

// Convention is the way a wasm-bindgen export hands back a string.
type Convention int

const (
	ConventionNone Convention = iota
	// MultiValue: (ptr, len) -> (ptr, len)
	MultiValue
	// ReturnPointer: (retptr, ptr, len) -> (), result stored at retptr
	ReturnPointer
	// Packed: (ptr, len) -> i64 holding ptr<<32 | len
	Packed
)

func (c Convention) String() string {
	switch c {
	case MultiValue:
		return "multi-value"
	case ReturnPointer:
		return "return-pointer"
	case Packed:
		return "packed"
	default:
		return "none"
	}
}

// Binding is what the glue code and the module agree on: the exports the
// glue calls and how each of them passes strings.
type Binding struct {
	// Referenced holds every wasm.<export> the glue mentions.
	Referenced map[string]bool
	Compile    Convention
	// Witness is ConventionNone when the module cannot take a witness.
	Witness     Convention
	MallocArity int
	// FreeArity is 0 when results are never freed.
	FreeArity int
}

var glueExportRef = regexp.MustCompile(`\bwasm\.([A-Za-z_$][A-Za-z0-9_$]*)`)

// GlueExports lists the exports glue code calls, sorted.
func GlueExports(glue string) []string {
	seen := make(map[string]bool)
	for _, m := range glueExportRef.FindAllStringSubmatch(glue, -1) {
		seen[m[1]] = true
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Bind checks that glue and module fit together and classifies the calling
// conventions. Any mismatch is an instantiation failure.
func Bind(m *wasm.Module, glue string) (*Binding, error) {
	b := &Binding{Referenced: make(map[string]bool)}
	for _, name := range GlueExports(glue) {
		b.Referenced[name] = true
	}

	for _, name := range []string{bridge.ExportCompile, bridge.ExportMalloc} {
		if !b.Referenced[name] {
			return nil, errors.Instantiation(fmt.Sprintf("glue code does not call %s", name), nil)
		}
	}
	for name := range b.Referenced {
		if name == bridge.ExportMemory {
			continue
		}
		if m.ExportedFunc(name) == nil && !m.HasExport(name, wasm.KindGlobal) && !m.HasExport(name, wasm.KindTable) {
			return nil, errors.Instantiation(fmt.Sprintf("glue code calls %s, which the module does not export", name), nil)
		}
	}
	if !m.HasExport(bridge.ExportMemory, wasm.KindMemory) {
		return nil, errors.Instantiation("module does not export its memory", nil)
	}

	malloc := m.ExportedFunc(bridge.ExportMalloc)
	compile := m.ExportedFunc(bridge.ExportCompile)
	if malloc == nil || compile == nil {
		return nil, errors.Instantiation("allocator and compile exports must be functions", nil)
	}
	switch {
	case isI32s(*malloc, 1, 1):
		b.MallocArity = 1
	case isI32s(*malloc, 2, 1):
		b.MallocArity = 2
	default:
		return nil, errors.Instantiation(fmt.Sprintf("unsupported %s signature %s", bridge.ExportMalloc, malloc), nil)
	}

	if free := m.ExportedFunc(bridge.ExportFree); free != nil {
		switch {
		case isI32s(*free, 2, 0):
			b.FreeArity = 2
		case isI32s(*free, 3, 0):
			b.FreeArity = 3
		default:
			return nil, errors.Instantiation(fmt.Sprintf("unsupported %s signature %s", bridge.ExportFree, free), nil)
		}
	}

	hasStack := m.ExportedFunc(bridge.ExportStackPointer) != nil &&
		isI32s(*m.ExportedFunc(bridge.ExportStackPointer), 1, 1)

	b.Compile = classify(*compile, 1, hasStack)
	if b.Compile == ConventionNone {
		return nil, errors.Instantiation(fmt.Sprintf("unsupported %s signature %s", bridge.ExportCompile, compile), nil)
	}

	if b.Referenced[bridge.ExportCompileWithWitness] {
		witness := m.ExportedFunc(bridge.ExportCompileWithWitness)
		if witness == nil {
			return nil, errors.Instantiation(bridge.ExportCompileWithWitness+" is not a function", nil)
		}
		// A one-string witness export predates witness support; ignore it.
		b.Witness = classify(*witness, 2, hasStack)
		if b.Witness == ConventionNone && classify(*witness, 1, hasStack) == ConventionNone {
			return nil, errors.Instantiation(fmt.Sprintf("unsupported %s signature %s", bridge.ExportCompileWithWitness, witness), nil)
		}
	}

	return b, nil
}

// classify matches ft against the string-returning conventions for a
// function taking strings string arguments.
func classify(ft wasm.FuncType, strings int, hasStack bool) Convention {
	args := 2 * strings
	switch {
	case isI32s(ft, args, 2):
		return MultiValue
	case hasStack && isI32s(ft, args+1, 0):
		return ReturnPointer
	case len(ft.Results) == 1 && ft.Results[0] == wasm.ValI64 && allI32(ft.Params) && len(ft.Params) == args:
		return Packed
	}
	return ConventionNone
}

func isI32s(ft wasm.FuncType, params, results int) bool {
	return len(ft.Params) == params && len(ft.Results) == results && allI32(ft.Params) && allI32(ft.Results)
}

func allI32(types []wasm.ValType) bool {
	for _, t := range types {
		if t != wasm.ValI32 {
			return false
		}
	}
	return true
}
