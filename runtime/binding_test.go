package runtime

import (
	"errors"
	"reflect"
	"testing"

	bridgeerrors "github.com/wippyai/simplicity-bridge/errors"
	"github.com/wippyai/simplicity-bridge/testbed"
	"github.com/wippyai/simplicity-bridge/wasm"
)

func TestGlueExports(t *testing.T) {
	glue := `
let wasm;
const mem = wasm.memory.buffer;
const ptr0 = passStringToWasm0(code, wasm.__wbindgen_malloc, wasm.__wbindgen_realloc);
const ret = wasm.compile_simplicity(ptr0, len0);
const notWasm = mywasm.other();
wasm.__wbindgen_free(ret[0], ret[1], 1);
`
	want := []string{"__wbindgen_free", "__wbindgen_malloc", "__wbindgen_realloc", "compile_simplicity", "memory"}
	if got := GlueExports(glue); !reflect.DeepEqual(got, want) {
		t.Errorf("GlueExports = %v, want %v", got, want)
	}
}

func TestBind(t *testing.T) {
	tests := []struct {
		name        string
		opts        testbed.Options
		compile     Convention
		witness     Convention
		mallocArity int
		freeArity   int
	}{
		{"multi-value", testbed.Options{}, MultiValue, ConventionNone, 2, 3},
		{"return pointer", testbed.Options{Convention: testbed.ReturnPointer}, ReturnPointer, ConventionNone, 2, 3},
		{"packed with witness", testbed.Options{Convention: testbed.Packed, Witness: true}, Packed, MultiValue, 2, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := wasm.ParseModule(testbed.Module(tt.opts))
			if err != nil {
				t.Fatal(err)
			}
			b, err := Bind(m, testbed.Glue(tt.opts))
			if err != nil {
				t.Fatalf("Bind: %v", err)
			}
			if b.Compile != tt.compile || b.Witness != tt.witness {
				t.Errorf("conventions = %s/%s, want %s/%s", b.Compile, b.Witness, tt.compile, tt.witness)
			}
			if b.MallocArity != tt.mallocArity || b.FreeArity != tt.freeArity {
				t.Errorf("arities = %d/%d", b.MallocArity, b.FreeArity)
			}
		})
	}
}

func TestBind_WitnessExportIgnoredWithoutGlue(t *testing.T) {
	m, err := wasm.ParseModule(testbed.Module(testbed.Options{Witness: true}))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Bind(m, testbed.Glue(testbed.Options{}))
	if err != nil {
		t.Fatal(err)
	}
	if b.Witness != ConventionNone {
		t.Errorf("witness = %s, want none when glue never calls it", b.Witness)
	}
}

func TestBind_Rejects(t *testing.T) {
	i32 := wasm.ValI32
	module := func(compile wasm.FuncType, exportMemory bool) *wasm.Module {
		m := &wasm.Module{
			Types: []wasm.FuncType{
				{Params: []wasm.ValType{i32, i32}, Results: []wasm.ValType{i32}},
				compile,
			},
			Funcs: []uint32{0, 1},
			Exports: []wasm.Export{
				{Name: "__wbindgen_malloc", Kind: wasm.KindFunc, Idx: 0},
				{Name: "compile_simplicity", Kind: wasm.KindFunc, Idx: 1},
			},
		}
		if exportMemory {
			m.Exports = append(m.Exports, wasm.Export{Name: "memory", Kind: wasm.KindMemory})
		}
		return m
	}
	good := wasm.FuncType{Params: []wasm.ValType{i32, i32}, Results: []wasm.ValType{i32, i32}}
	glue := "wasm.__wbindgen_malloc(1); wasm.compile_simplicity(a, b);"

	tests := []struct {
		name string
		m    *wasm.Module
		glue string
	}{
		{"no memory", module(good, false), glue},
		{"f64 compile", module(wasm.FuncType{Params: []wasm.ValType{wasm.ValF64}}, true), glue},
		{"retptr without stack pointer", module(wasm.FuncType{Params: []wasm.ValType{i32, i32, i32}}, true), glue},
		{"glue lacks allocator", module(good, true), "wasm.compile_simplicity(a, b);"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Bind(tt.m, tt.glue)
			if !errors.Is(err, bridgeerrors.ErrInstantiationFailure) {
				t.Fatalf("err = %v, want InstantiationFailure", err)
			}
		})
	}
	if _, err := Bind(module(good, true), glue); err != nil {
		t.Fatalf("valid module rejected: %v", err)
	}
}
