package wasm

import "fmt"

// Module represents the inspected parts of a WebAssembly module.
// Decoding fills Types, Imports, Funcs, Memories, Globals, Exports and
// CustomSections; Code and Data are only used when encoding.
type Module struct {
	Types          []FuncType
	Imports        []Import
	Funcs          []uint32 // Type indices for declared functions
	Memories       []Limits
	Globals        []Global
	Exports        []Export
	Code           []FuncBody
	Data           []DataSegment
	CustomSections []CustomSection
}

// FuncType represents a WebAssembly function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// String renders the signature in text-format style: (i32, i32) -> (i32).
func (ft FuncType) String() string {
	return fmt.Sprintf("(%s) -> (%s)", joinValTypes(ft.Params), joinValTypes(ft.Results))
}

// Equal reports whether two signatures are identical.
func (ft FuncType) Equal(other FuncType) bool {
	if len(ft.Params) != len(other.Params) || len(ft.Results) != len(other.Results) {
		return false
	}
	for i := range ft.Params {
		if ft.Params[i] != other.Params[i] {
			return false
		}
	}
	for i := range ft.Results {
		if ft.Results[i] != other.Results[i] {
			return false
		}
	}
	return true
}

// ValType represents a WebAssembly value type.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return fmt.Sprintf("0x%02x", byte(v))
	}
}

func joinValTypes(types []ValType) string {
	s := ""
	for i, t := range types {
		if i > 0 {
			s += ", "
		}
		s += t.String()
	}
	return s
}

// Import represents an imported function, table, memory, global, or tag.
// TypeIdx is meaningful for functions only.
type Import struct {
	Module  string
	Name    string
	Kind    byte
	TypeIdx uint32
}

// Key returns "module#name", the form used in diagnostics.
func (i Import) Key() string {
	return i.Module + "#" + i.Name
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max *uint64
	Min uint64
}

// Global represents a global variable with type and initialization.
type Global struct {
	Init    []byte // Raw init expression bytes including end opcode
	Type    ValType
	Mutable bool
}

// Export describes an exported item.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// FuncBody represents a function's local declarations and bytecode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // Raw code bytes including end opcode
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment is an active data segment for memory 0.
type DataSegment struct {
	Init   []byte
	Offset uint32
}

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs returns the number of imported functions, which precede
// declared functions in the function index space.
func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			n++
		}
	}
	return n
}

// ImportedFuncType returns the signature of a function import.
func (m *Module) ImportedFuncType(imp Import) (FuncType, bool) {
	if imp.Kind != KindFunc || int(imp.TypeIdx) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[imp.TypeIdx], true
}

// FuncTypeAt returns the signature of the function at funcIdx in the
// function index space (imports first).
func (m *Module) FuncTypeAt(funcIdx uint32) (FuncType, bool) {
	var seen uint32
	for _, imp := range m.Imports {
		if imp.Kind != KindFunc {
			continue
		}
		if seen == funcIdx {
			return m.ImportedFuncType(imp)
		}
		seen++
	}
	local := int(funcIdx) - int(seen)
	if local < 0 || local >= len(m.Funcs) {
		return FuncType{}, false
	}
	typeIdx := m.Funcs[local]
	if int(typeIdx) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[typeIdx], true
}

// ExportedFunc returns the signature of the exported function name, or nil.
func (m *Module) ExportedFunc(name string) *FuncType {
	for _, exp := range m.Exports {
		if exp.Name != name || exp.Kind != KindFunc {
			continue
		}
		ft, ok := m.FuncTypeAt(exp.Idx)
		if !ok {
			return nil
		}
		return &ft
	}
	return nil
}

// HasExport reports whether the module exports name with the given kind.
func (m *Module) HasExport(name string, kind byte) bool {
	for _, exp := range m.Exports {
		if exp.Name == name && exp.Kind == kind {
			return true
		}
	}
	return false
}

// CustomSection returns the data of the first custom section called name.
func (m *Module) CustomSection(name string) ([]byte, bool) {
	for _, cs := range m.CustomSections {
		if cs.Name == name {
			return cs.Data, true
		}
	}
	return nil, false
}
