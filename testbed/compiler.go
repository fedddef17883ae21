// Package testbed builds stand-in compiler modules for tests. The modules
// follow the wasm-bindgen ABI of the real compiler build, so the runtime,
// session and host layers can be exercised without build artifacts.
//
// The stand-in decides its answer from the first byte of the source:
//
//	(empty)  {"cmr":null,"error":"Code is empty"}
//	'm'      success with CMR
//	'!'      traps (unreachable)
//	'#'      calls __wbindgen_throw
//	'?'      returns text that is not JSON
//	'*'      returns both cmr and error
//	'L'      logs the source through a wbg import, then fails like below
//	other    error describing the missing module declaration
package testbed

import (
	"fmt"
	"strings"
	"testing/fstest"
	"time"

	bridge "github.com/wippyai/simplicity-bridge"
	"github.com/wippyai/simplicity-bridge/payload"
	"github.com/wippyai/simplicity-bridge/wasm"
)

// CMR is the commitment root every successful stand-in compilation reports.
const CMR = "c40a10263f7436b4160acbef1c36fba4be4d95df181a968afeab5eac247adff7"

// Responses produced by the stand-in module.
const (
	ResponseOK            = `{"cmr":"` + CMR + `","error":null}`
	ResponseMissingModule = `{"cmr":null,"error":"Parse error: program is missing the module declaration (expected 'mod param')"}`
	ResponseEmpty         = `{"cmr":null,"error":"Code is empty"}`
	ResponseGarbage       = `<<compiler output>>`
	ResponseBoth          = `{"cmr":"00","error":"both"}`
	ThrowMessage          = "simplicity panicked: internal error"
	witnessPrefix         = `{"cmr":"` + CMR + `","error":null,"witness":`
)

// Convention selects how compile_simplicity returns its string.
type Convention int

const (
	MultiValue    Convention = iota // (ptr, len) -> (ptr, len)
	ReturnPointer                   // (retptr, ptr, len) -> ()
	Packed                          // (ptr, len) -> i64
)

// Options configures the stand-in module.
type Options struct {
	// ExtraImports are added after the wbg imports and never called.
	ExtraImports []wasm.Import
	Version      string
	Convention   Convention
	// Witness exports compile_with_witness, which echoes the witness.
	Witness bool
	// NoBindgenImports drops the wbg throw/log imports.
	NoBindgenImports bool
	// NoStart omits __wbindgen_start. The module then works without it.
	NoStart bool
}

// Memory layout of the stand-in.
const (
	offOK      = 16
	offMissing = 256
	offEmpty   = 512
	offGarbage = 640
	offBoth    = 704
	offThrow   = 768
	offWitness = 4096
	heapStart  = 8192
	memPages   = 2
	stackTop   = memPages * 65536
)

// Type indices.
const (
	tMalloc  = iota // (i32, i32) -> i32
	tFree           // (i32, i32, i32) -> ()
	tRespond        // (i32, i32) -> (i32, i32)
	tWitness        // (i32, i32, i32, i32) -> (i32, i32)
	tImport         // (i32, i32) -> ()
	tStart          // () -> ()
	tStack          // (i32) -> i32
	tPacked         // (i32, i32) -> i64
)

// Global indices.
const (
	gHeap = iota
	gStack
	gStarted
)

// Module assembles the stand-in compiler module.
func Module(o Options) []byte {
	i32 := wasm.ValI32
	m := &wasm.Module{
		Types: []wasm.FuncType{
			tMalloc:  {Params: []wasm.ValType{i32, i32}, Results: []wasm.ValType{i32}},
			tFree:    {Params: []wasm.ValType{i32, i32, i32}},
			tRespond: {Params: []wasm.ValType{i32, i32}, Results: []wasm.ValType{i32, i32}},
			tWitness: {Params: []wasm.ValType{i32, i32, i32, i32}, Results: []wasm.ValType{i32, i32}},
			tImport:  {Params: []wasm.ValType{i32, i32}},
			tStart:   {},
			tStack:   {Params: []wasm.ValType{i32}, Results: []wasm.ValType{i32}},
			tPacked:  {Params: []wasm.ValType{i32, i32}, Results: []wasm.ValType{wasm.ValI64}},
		},
		Memories: []wasm.Limits{{Min: memPages}},
		Globals: []wasm.Global{
			gHeap:    {Type: i32, Mutable: true, Init: constExpr(heapStart)},
			gStack:   {Type: i32, Mutable: true, Init: constExpr(stackTop)},
			gStarted: {Type: i32, Mutable: true, Init: constExpr(0)},
		},
		Data: []wasm.DataSegment{
			{Offset: offOK, Init: []byte(ResponseOK)},
			{Offset: offMissing, Init: []byte(ResponseMissingModule)},
			{Offset: offEmpty, Init: []byte(ResponseEmpty)},
			{Offset: offGarbage, Init: []byte(ResponseGarbage)},
			{Offset: offBoth, Init: []byte(ResponseBoth)},
			{Offset: offThrow, Init: []byte(ThrowMessage)},
			{Offset: offWitness, Init: []byte(witnessPrefix)},
		},
	}

	throwIdx, logIdx := -1, -1
	if !o.NoBindgenImports {
		m.Imports = append(m.Imports,
			wasm.Import{Module: bridge.ImportBindgen, Name: "__wbindgen_throw", Kind: wasm.KindFunc, TypeIdx: tImport},
			wasm.Import{Module: bridge.ImportBindgen, Name: "__wbg_log_5bb5f88f245d7762", Kind: wasm.KindFunc, TypeIdx: tImport},
		)
		throwIdx, logIdx = 0, 1
	}
	for _, imp := range o.ExtraImports {
		imp.Kind = wasm.KindFunc
		imp.TypeIdx = tImport
		m.Imports = append(m.Imports, imp)
	}
	base := uint32(len(m.Imports))

	add := func(typeIdx uint32, body wasm.FuncBody) uint32 {
		m.Funcs = append(m.Funcs, typeIdx)
		m.Code = append(m.Code, body)
		return base + uint32(len(m.Funcs)) - 1
	}

	malloc := add(tMalloc, wasm.FuncBody{Code: mallocBody()})
	free := add(tFree, wasm.FuncBody{Code: []byte{wasm.OpEnd}})
	start := add(tStart, wasm.FuncBody{Code: startBody()})
	respond := add(tRespond, wasm.FuncBody{
		Locals: []wasm.LocalEntry{{Count: 1, ValType: i32}},
		Code:   respondBody(!o.NoStart, throwIdx, logIdx),
	})
	stack := add(tStack, wasm.FuncBody{Code: stackBody()})

	compile := respond
	switch o.Convention {
	case ReturnPointer:
		compile = add(tFree, wasm.FuncBody{
			Locals: []wasm.LocalEntry{{Count: 2, ValType: i32}},
			Code:   retptrBody(respond),
		})
	case Packed:
		compile = add(tPacked, wasm.FuncBody{
			Locals: []wasm.LocalEntry{{Count: 2, ValType: i32}},
			Code:   packedBody(respond),
		})
	}

	m.Exports = []wasm.Export{
		{Name: bridge.ExportMemory, Kind: wasm.KindMemory, Idx: 0},
		{Name: bridge.ExportMalloc, Kind: wasm.KindFunc, Idx: malloc},
		{Name: bridge.ExportFree, Kind: wasm.KindFunc, Idx: free},
		{Name: bridge.ExportCompile, Kind: wasm.KindFunc, Idx: compile},
		{Name: bridge.ExportStackPointer, Kind: wasm.KindFunc, Idx: stack},
	}
	if !o.NoStart {
		m.Exports = append(m.Exports, wasm.Export{Name: bridge.ExportStart, Kind: wasm.KindFunc, Idx: start})
	}
	if o.Witness {
		witness := add(tWitness, wasm.FuncBody{Code: witnessBody()})
		m.Exports = append(m.Exports, wasm.Export{Name: bridge.ExportCompileWithWitness, Kind: wasm.KindFunc, Idx: witness})
	}
	if o.Version != "" {
		m.CustomSections = append(m.CustomSections, wasm.CustomSection{Name: wasm.VersionSection, Data: []byte(o.Version)})
	}

	return m.Encode()
}

func constExpr(v int32) []byte {
	return append(i32Const(nil, v), wasm.OpEnd)
}

func i32Const(code []byte, v int32) []byte {
	code = append(code, wasm.OpI32Const)
	return wasm.AppendLEB128s(code, int64(v))
}

// malloc(size, align): bump allocator.
func mallocBody() []byte {
	return []byte{
		wasm.OpGlobalGet, gHeap,
		wasm.OpGlobalGet, gHeap,
		wasm.OpLocalGet, 0,
		wasm.OpI32Add,
		wasm.OpGlobalSet, gHeap,
		wasm.OpEnd,
	}
}

func startBody() []byte {
	c := i32Const(nil, 1)
	return append(c, wasm.OpGlobalSet, gStarted, wasm.OpEnd)
}

// __wbindgen_add_to_stack_pointer(delta) -> new stack pointer
func stackBody() []byte {
	return []byte{
		wasm.OpGlobalGet, gStack,
		wasm.OpLocalGet, 0,
		wasm.OpI32Add,
		wasm.OpGlobalSet, gStack,
		wasm.OpGlobalGet, gStack,
		wasm.OpEnd,
	}
}

// returnString leaves (off, len) on the stack and returns.
func returnString(code []byte, off int32, s string) []byte {
	code = i32Const(code, off)
	code = i32Const(code, int32(len(s)))
	return append(code, wasm.OpReturn)
}

// onFirstByte emits: if first == b { body }
func onFirstByte(code []byte, b byte, body []byte) []byte {
	code = append(code, wasm.OpLocalGet, 2)
	code = i32Const(code, int32(b))
	code = append(code, wasm.OpI32Eq, wasm.OpIf, wasm.BlockVoid)
	code = append(code, body...)
	return append(code, wasm.OpEnd)
}

// respond(ptr, len) -> (ptr, len); local 2 holds the first source byte.
func respondBody(requireStart bool, throwIdx, logIdx int) []byte {
	var c []byte
	if requireStart {
		c = append(c, wasm.OpGlobalGet, gStarted, wasm.OpI32Eqz, wasm.OpIf, wasm.BlockVoid, wasm.OpUnreachable, wasm.OpEnd)
	}

	c = append(c, wasm.OpLocalGet, 1, wasm.OpI32Eqz, wasm.OpIf, wasm.BlockVoid)
	c = returnString(c, offEmpty, ResponseEmpty)
	c = append(c, wasm.OpEnd)

	c = append(c, wasm.OpLocalGet, 0, wasm.OpI32Load8U, 0x00, 0x00, wasm.OpLocalSet, 2)

	c = onFirstByte(c, '!', []byte{wasm.OpUnreachable})
	c = onFirstByte(c, '?', returnString(nil, offGarbage, ResponseGarbage))
	c = onFirstByte(c, '*', returnString(nil, offBoth, ResponseBoth))
	c = onFirstByte(c, 'm', returnString(nil, offOK, ResponseOK))
	if throwIdx >= 0 {
		body := i32Const(nil, offThrow)
		body = i32Const(body, int32(len(ThrowMessage)))
		body = append(body, wasm.OpCall, byte(throwIdx), wasm.OpUnreachable)
		c = onFirstByte(c, '#', body)
	}
	if logIdx >= 0 {
		c = onFirstByte(c, 'L', []byte{wasm.OpLocalGet, 0, wasm.OpLocalGet, 1, wasm.OpCall, byte(logIdx)})
	}

	c = i32Const(c, offMissing)
	c = i32Const(c, int32(len(ResponseMissingModule)))
	return append(c, wasm.OpEnd)
}

// compile(retptr, ptr, len): stores (ptr, len) of respond's result at retptr.
func retptrBody(respond uint32) []byte {
	c := []byte{wasm.OpLocalGet, 1, wasm.OpLocalGet, 2, wasm.OpCall}
	c = wasm.AppendLEB128u(c, respond)
	return append(c,
		wasm.OpLocalSet, 4,
		wasm.OpLocalSet, 3,
		wasm.OpLocalGet, 0, wasm.OpLocalGet, 3, wasm.OpI32Store, 0x02, 0x00,
		wasm.OpLocalGet, 0, wasm.OpLocalGet, 4, wasm.OpI32Store, 0x02, 0x04,
		wasm.OpEnd,
	)
}

// compile(ptr, len) -> ptr<<32 | len
func packedBody(respond uint32) []byte {
	c := []byte{wasm.OpLocalGet, 0, wasm.OpLocalGet, 1, wasm.OpCall}
	c = wasm.AppendLEB128u(c, respond)
	return append(c,
		wasm.OpLocalSet, 3,
		wasm.OpLocalSet, 2,
		wasm.OpLocalGet, 2, wasm.OpI64ExtendU,
		wasm.OpI64Const, 32,
		wasm.OpI64Shl,
		wasm.OpLocalGet, 3, wasm.OpI64ExtendU,
		wasm.OpI64Or,
		wasm.OpEnd,
	)
}

// compile_with_witness(src, srcLen, wit, witLen): success echoing the witness.
func witnessBody() []byte {
	prefix := int32(len(witnessPrefix))
	c := []byte{wasm.OpLocalGet, 1, wasm.OpI32Eqz, wasm.OpIf, wasm.BlockVoid}
	c = returnString(c, offEmpty, ResponseEmpty)
	c = append(c, wasm.OpEnd)

	c = i32Const(c, offWitness+prefix)
	c = append(c, wasm.OpLocalGet, 2, wasm.OpLocalGet, 3, wasm.OpPrefixFC, wasm.MiscMemoryCopy, 0x00, 0x00)

	c = i32Const(c, offWitness+prefix)
	c = append(c, wasm.OpLocalGet, 3, wasm.OpI32Add)
	c = i32Const(c, '}')
	c = append(c, wasm.OpI32Store8, 0x00, 0x00)

	c = i32Const(c, offWitness)
	c = i32Const(c, prefix+1)
	c = append(c, wasm.OpLocalGet, 3, wasm.OpI32Add, wasm.OpEnd)
	return c
}

// Glue renders wasm-bindgen style glue that references the exports the
// stand-in provides.
func Glue(o Options) string {
	var b strings.Builder
	b.WriteString("let wasm;\n\n")
	b.WriteString("function passStringToWasm0(arg, malloc) {\n")
	b.WriteString("    const buf = cachedTextEncoder.encode(arg);\n")
	b.WriteString("    const ptr = malloc(buf.length, 1) >>> 0;\n")
	b.WriteString("    getUint8ArrayMemory0().subarray(ptr, ptr + buf.length).set(buf);\n")
	b.WriteString("    WASM_VECTOR_LEN = buf.length;\n    return ptr;\n}\n\n")

	b.WriteString("export function compile_simplicity(code) {\n")
	b.WriteString("    const ptr0 = passStringToWasm0(code, wasm.__wbindgen_malloc);\n")
	switch o.Convention {
	case ReturnPointer:
		b.WriteString("    const retptr = wasm.__wbindgen_add_to_stack_pointer(-16);\n")
		b.WriteString("    wasm.compile_simplicity(retptr, ptr0, WASM_VECTOR_LEN);\n")
		b.WriteString("    wasm.__wbindgen_add_to_stack_pointer(16);\n")
	default:
		b.WriteString("    const ret = wasm.compile_simplicity(ptr0, WASM_VECTOR_LEN);\n")
	}
	b.WriteString("    wasm.__wbindgen_free(ret[0], ret[1], 1);\n}\n")

	if o.Witness {
		b.WriteString("\nexport function compile_with_witness(code, witness) {\n")
		b.WriteString("    const ret = wasm.compile_with_witness(ptr0, len0, ptr1, len1);\n}\n")
	}
	if !o.NoStart {
		b.WriteString("\nwasm.__wbindgen_start();\n")
	}
	return b.String()
}

// Payload encodes the stand-in module and its glue.
func Payload(o Options) *payload.Payload {
	p, err := payload.Encode(Module(o), Glue(o), o.Version)
	if err != nil {
		panic(fmt.Sprintf("testbed: encode payload: %v", err))
	}
	return p
}

// Dist lays out a build directory holding the stand-in under a hashed name.
func Dist(o Options, hash string, modTime time.Time) fstest.MapFS {
	stem := "simplicity-wasm-" + hash
	return fstest.MapFS{
		stem + "_bg.wasm": {Data: Module(o), ModTime: modTime},
		stem + ".js":      {Data: []byte(Glue(o)), ModTime: modTime},
	}
}

// UnsupportedImport returns an import from a module the runtime does not
// provide, for Options.ExtraImports.
func UnsupportedImport() []wasm.Import {
	return []wasm.Import{{Module: "env", Name: "__wbg_now_1e80617bcee43265"}}
}
