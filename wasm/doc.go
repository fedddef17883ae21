// Package wasm provides WebAssembly binary inspection and a minimal encoder.
//
// The bridge never executes WebAssembly itself; wazero does. This package
// answers the questions the bridge must settle before handing bytes to the
// runtime:
//
//   - is this a core module at all (magic, version)?
//   - which host imports does it need, and with which signatures?
//   - which functions does it export, and with which signatures?
//   - which custom sections (for example an embedded build version) does it carry?
//
// # Parsing
//
//	mod, err := wasm.ParseModule(data)
//	if err != nil {
//	    return err
//	}
//	ft := mod.ExportedFunc("compile_simplicity")
//	version, ok := mod.CustomSection(wasm.VersionSection)
//
// Code, data, element and other sections are skipped, not decoded.
//
// # Encoding
//
// Module.Encode writes a module built from Go values. Function bodies are raw
// instruction bytes:
//
//	m := &wasm.Module{
//	    Types:   []wasm.FuncType{{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}},
//	    Funcs:   []uint32{0},
//	    Exports: []wasm.Export{{Name: "id", Kind: wasm.KindFunc, Idx: 0}},
//	    Code:    []wasm.FuncBody{{Code: []byte{wasm.OpLocalGet, 0, wasm.OpEnd}}},
//	}
//	bin := m.Encode()
package wasm
